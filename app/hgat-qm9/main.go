// Command hgat-qm9 trains the HGAT model on QM9 molecular properties.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/molgat/molgat/experiment"
)

func main() {
	cfg, err := experiment.ParseArgs("hgat-qm9", experiment.DefaultConfig(), os.Args[1:])
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	if _, err := experiment.Run(cfg); err != nil {
		log.Fatalf("Training failed: %v", err)
	}
}
