// Command hgat-electrolyte trains the HGAT model on electrolyte bond energies.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/molgat/molgat/experiment"
)

func main() {
	cfg, err := experiment.ParseArgs("hgat-electrolyte", experiment.DefaultElectrolyteConfig(), os.Args[1:])
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	res, err := experiment.Run(cfg)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	if res.Stopped {
		log.Printf("Stopped early after %d epochs", res.Epochs)
	}
}
