package experiment

import (
	"bytes"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/training"
)

type testAtom struct {
	symbol  string
	x, y, z float64
}

// writeTestFiles generates n small molecules (water, methanol and formaldehyde
// with jittered geometries) plus QM9 style and electrolyte style label files.
func writeTestFiles(t *testing.T, dir string, n int) (sdf, qm9Labels, bondLabels string) {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	templates := []struct {
		atoms []testAtom
		bonds [][3]int
	}{
		{
			atoms: []testAtom{{"O", 0, 0, 0.117}, {"H", 0, 0.757, -0.469}, {"H", 0, -0.757, -0.469}},
			bonds: [][3]int{{1, 2, 1}, {1, 3, 1}},
		},
		{
			atoms: []testAtom{{"C", 0, 0, 0}, {"O", 0, 0, 1.205}, {"H", 0, 0.943, -0.588}, {"H", 0, -0.943, -0.588}},
			bonds: [][3]int{{1, 2, 2}, {1, 3, 1}, {1, 4, 1}},
		},
		{
			atoms: []testAtom{{"C", 0, 0, 0}, {"O", 1.43, 0, 0}, {"H", -0.36, 1.03, 0}, {"H", -0.36, -0.51, 0.89}, {"H", -0.36, -0.51, -0.89}, {"H", 1.75, 0.9, 0}},
			bonds: [][3]int{{1, 2, 1}, {1, 3, 1}, {1, 4, 1}, {1, 5, 1}, {2, 6, 1}},
		},
	}

	var sdfBuf, csvBuf, bondBuf bytes.Buffer
	csvBuf.WriteString("mol_id,u0_atom,gap\n")
	for i := 0; i < n; i++ {
		tpl := templates[i%len(templates)]
		fmt.Fprintf(&sdfBuf, "mol%d\n  molgat\n\n%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", i, len(tpl.atoms), len(tpl.bonds))
		for _, a := range tpl.atoms {
			j := 0.05 * rng.NormFloat64()
			fmt.Fprintf(&sdfBuf, "%10.4f%10.4f%10.4f %-3s 0  0  0  0  0  0  0  0  0  0  0  0\n", a.x+j, a.y, a.z, a.symbol)
		}
		var energies, flags []string
		for k, b := range tpl.bonds {
			fmt.Fprintf(&sdfBuf, "%3d%3d%3d  0\n", b[0], b[1], b[2])
			energies = append(energies, fmt.Sprintf("%.3f", 3+float64(b[2])+0.1*rng.NormFloat64()))
			known := "1"
			if (i+k)%4 == 3 {
				known = "0"
			}
			flags = append(flags, known)
		}
		sdfBuf.WriteString("M  END\n$$$$\n")

		fmt.Fprintf(&csvBuf, "gdb_%d,%.5f,%.5f\n", i, -0.1*float64(len(tpl.atoms))+0.01*rng.NormFloat64(), 0.2+0.01*rng.NormFloat64())
		fmt.Fprintf(&bondBuf, "%s %s\n", strings.Join(energies, " "), strings.Join(flags, " "))
	}

	sdf = filepath.Join(dir, "mols.sdf")
	qm9Labels = filepath.Join(dir, "mols.csv")
	bondLabels = filepath.Join(dir, "bonds.txt")
	for path, buf := range map[string]*bytes.Buffer{sdf: &sdfBuf, qm9Labels: &csvBuf, bondLabels: &bondBuf} {
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return sdf, qm9Labels, bondLabels
}

func smallConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.NumGATLayers = 2
	cfg.GATHiddenSize = 4
	cfg.NumHeads = 2
	cfg.NumFCLayers = 1
	cfg.FCHiddenSize = 8
	cfg.LR = 0.01
	cfg.Epochs = 4
	cfg.Patience = 1
	cfg.LRPatience = 1
	cfg.BatchSize = 4
	cfg.Validation = 0.2
	cfg.Test = 0.2
	cfg.CheckpointDir = filepath.Join(dir, "ckpt")
	cfg.OutputFile = filepath.Join(dir, "result.json")
	return cfg
}

func TestRunQM9(t *testing.T) {
	dir := t.TempDir()
	sdf, labels, _ := writeTestFiles(t, dir, 20)
	cfg := smallConfig(dir)
	cfg.SDFFile, cfg.LabelFile = sdf, labels
	cfg.Properties = []string{"u0_atom", "gap"}
	cfg.PlotFile = filepath.Join(dir, "plots", "curves.png")

	var out bytes.Buffer
	res, err := RunTo(&out, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, out.String())
	}

	if res.TrainSize != 12 || res.ValidationSize != 4 || res.TestSize != 4 {
		t.Errorf("Expected split 12/4/4, got %d/%d/%d", res.TrainSize, res.ValidationSize, res.TestSize)
	}
	if res.Epochs < 1 || res.Epochs > cfg.Epochs {
		t.Errorf("Expected between 1 and %d epochs, got %d", cfg.Epochs, res.Epochs)
	}
	if math.IsNaN(res.Test) || res.Test < 0 {
		t.Errorf("Expected a finite test score, got %v", res.Test)
	}

	score, err := training.ReadResult(cfg.OutputFile)
	if err != nil {
		t.Fatalf("ReadResult failed: %v", err)
	}
	if score != res.BestValidation {
		t.Errorf("Expected result file to hold %v, got %v", res.BestValidation, score)
	}
	if _, err := os.Stat(filepath.Join(cfg.CheckpointDir, "checkpoint.json")); err != nil {
		t.Errorf("Expected checkpoint file: %v", err)
	}
	for _, name := range []string{"curves.png", "curves_lr.png", "curves_test.png"} {
		if _, err := os.Stat(filepath.Join(dir, "plots", name)); err != nil {
			t.Errorf("Expected plot %s: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "Trainset size: 12") {
		t.Errorf("Expected split summary in output, got %q", out.String())
	}

	// A restored run continues from the checkpoint.
	cfg.Restore = true
	cfg.Epochs = 1
	cfg.PlotFile = ""
	out.Reset()
	if _, err := RunTo(&out, cfg); err != nil {
		t.Fatalf("Restored run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Successfully loaded checkpoint") {
		t.Errorf("Expected restore notice, got %q", out.String())
	}
}

func TestRunElectrolyte(t *testing.T) {
	dir := t.TempDir()
	sdf, _, bonds := writeTestFiles(t, dir, 10)
	cfg := smallConfig(dir)
	cfg.Dataset = DatasetElectrolyte
	cfg.Properties = nil
	cfg.SDFFile, cfg.LabelFile = sdf, bonds
	cfg.Optimizer = "sgd"
	cfg.Scheduler = "step"
	cfg.CheckpointFormat = "proto"
	cfg.OutputFile = filepath.Join(dir, "result.pb")
	cfg.Restore = true // nothing to restore yet: warn and continue

	res, err := RunTo(&bytes.Buffer{}, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.TrainSize != 6 || res.ValidationSize != 2 || res.TestSize != 2 {
		t.Errorf("Expected split 6/2/2, got %d/%d/%d", res.TrainSize, res.ValidationSize, res.TestSize)
	}
	if _, err := os.Stat(filepath.Join(cfg.CheckpointDir, "checkpoint.pb")); err != nil {
		t.Errorf("Expected proto checkpoint: %v", err)
	}
	if _, err := training.ReadResult(cfg.OutputFile); err != nil {
		t.Errorf("ReadResult failed: %v", err)
	}
}

func TestRunWithoutImprovementWritesNoResult(t *testing.T) {
	dir := t.TempDir()
	sdf, labels, _ := writeTestFiles(t, dir, 20)
	cfg := smallConfig(dir)
	cfg.SDFFile, cfg.LabelFile = sdf, labels
	cfg.Optimizer = "sgd"
	cfg.LR = 1e308 // parameters overflow and every validation score is NaN

	res, err := RunTo(&bytes.Buffer{}, cfg)
	if !errors.Is(err, errNoImprovement) {
		t.Fatalf("Expected errNoImprovement, got %v", err)
	}
	if !res.Stopped {
		t.Errorf("Expected the run to stop early")
	}
	if _, err := os.Stat(cfg.OutputFile); !os.IsNotExist(err) {
		t.Errorf("Expected no result file, got %v", err)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	sdf, labels, _ := writeTestFiles(t, dir, 3)

	cfg := smallConfig(dir)
	cfg.SDFFile, cfg.LabelFile = sdf, labels
	cfg.Device = "cuda"
	if _, err := RunTo(&bytes.Buffer{}, cfg); err == nil {
		t.Errorf("Expected configuration error")
	}

	cfg.Device = "cpu"
	if _, err := RunTo(&bytes.Buffer{}, cfg); err == nil {
		t.Errorf("Expected error for a dataset too small to split")
	}

	cfg.LabelFile = filepath.Join(dir, "missing.csv")
	if _, err := RunTo(&bytes.Buffer{}, cfg); err == nil {
		t.Errorf("Expected error for a missing label file")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.SDFFile, valid.LabelFile = "a.sdf", "a.csv"
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no layers", func(c *Config) { c.NumGATLayers = 0 }},
		{"no heads", func(c *Config) { c.NumHeads = 0 }},
		{"dropout", func(c *Config) { c.FeatDrop = 1 }},
		{"lr", func(c *Config) { c.LR = 0 }},
		{"epochs", func(c *Config) { c.Epochs = 0 }},
		{"batch", func(c *Config) { c.BatchSize = 0 }},
		{"fractions", func(c *Config) { c.Validation, c.Test = 0.5, 0.5 }},
		{"device", func(c *Config) { c.Device = "gpu" }},
		{"optimizer", func(c *Config) { c.Optimizer = "rmsprop" }},
		{"scheduler", func(c *Config) { c.Scheduler = "cyclic" }},
		{"format", func(c *Config) { c.CheckpointFormat = "yaml" }},
		{"dataset", func(c *Config) { c.Dataset = "zinc" }},
		{"properties", func(c *Config) { c.Properties = nil }},
		{"files", func(c *Config) { c.SDFFile = "" }},
		{"output", func(c *Config) { c.OutputFile = "" }},
	}
	for _, tt := range tests {
		cfg := valid
		cfg.Properties = append([]string(nil), valid.Properties...)
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}

	electrolyte := DefaultElectrolyteConfig()
	electrolyte.SDFFile, electrolyte.LabelFile = "a.sdf", "a.txt"
	if err := electrolyte.Validate(); err != nil {
		t.Errorf("Expected electrolyte config to validate, got %v", err)
	}
}

func TestConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"epochs": 7, "lr": 0.5, "properties": ["gap"], "residual": false}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cfg := DefaultConfig()
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Epochs != 7 || cfg.LR != 0.5 || cfg.Residual || !reflect.DeepEqual(cfg.Properties, []string{"gap"}) {
		t.Errorf("Unexpected config after file: %+v", cfg)
	}
	if cfg.BatchSize != DefaultConfig().BatchSize {
		t.Errorf("Expected options absent from the file to keep their defaults")
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"-epochs", "3", "-properties", "u0_atom, homo", "-restore", "-checkpoint_format", "proto"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Epochs != 3 || !cfg.Restore || cfg.CheckpointFormat != "proto" || cfg.LR != 0.5 {
		t.Errorf("Unexpected config after flags: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Properties, []string{"u0_atom", "homo"}) {
		t.Errorf("Expected properties [u0_atom homo], got %v", cfg.Properties)
	}

	if err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.json"), &cfg); err == nil {
		t.Errorf("Expected error for a missing config file")
	}
}

func TestParseArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"epochs": 7, "batch_size": 16}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := ParseArgs("hgat", DefaultConfig(), []string{"-config", path, "-epochs", "2"})
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if cfg.Epochs != 2 {
		t.Errorf("Expected flag to override the file, got %d epochs", cfg.Epochs)
	}
	if cfg.BatchSize != 16 {
		t.Errorf("Expected batch size 16 from the file, got %d", cfg.BatchSize)
	}

	cfg, err = ParseArgs("hgat", DefaultElectrolyteConfig(), []string{"-lr", "0.01"})
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if cfg.LR != 0.01 || cfg.Dataset != DatasetElectrolyte {
		t.Errorf("Unexpected config %+v", cfg)
	}

	props := filepath.Join(t.TempDir(), "props.json")
	if err := os.WriteFile(props, []byte(`{"properties": ["gap"]}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	defaults := DefaultConfig()
	cfg, err = ParseArgs("hgat", defaults, []string{"-config", props})
	if err != nil {
		t.Fatalf("ParseArgs failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Properties, []string{"gap"}) {
		t.Errorf("Expected properties [gap], got %v", cfg.Properties)
	}
	if !reflect.DeepEqual(defaults.Properties, []string{"u0_atom"}) {
		t.Errorf("Expected defaults to keep [u0_atom], got %v", defaults.Properties)
	}

	if _, err := ParseArgs("hgat", DefaultConfig(), []string{"-config", filepath.Join(t.TempDir(), "none.json")}); err == nil {
		t.Errorf("Expected error for a missing config file")
	}
}
