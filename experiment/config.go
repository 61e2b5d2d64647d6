// Package experiment wires datasets, the HGAT model and the training loop into a
// complete run driven by a flat configuration.
package experiment

import (
	"encoding/json"
	"flag"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/dataset"
	"github.com/molgat/molgat/model"
	"github.com/molgat/molgat/training"
)

// Dataset kinds.
const (
	DatasetQM9         = "qm9"
	DatasetElectrolyte = "electrolyte"
)

// Config holds every option of a run. The JSON names double as flag names.
type Config struct {
	// model
	NumGATLayers  int     `json:"num_gat_layers"`
	GATHiddenSize int     `json:"gat_hidden_size"`
	NumHeads      int     `json:"num_heads"`
	FeatDrop      float64 `json:"feat_drop"`
	AttnDrop      float64 `json:"attn_drop"`
	NegativeSlope float64 `json:"negative_slope"`
	Residual      bool    `json:"residual"`
	NumFCLayers   int     `json:"num_fc_layers"`
	FCHiddenSize  int     `json:"fc_hidden_size"`

	// optimization
	LR          float64 `json:"lr"`
	WeightDecay float64 `json:"weight_decay"`
	Optimizer   string  `json:"optimizer"`
	Scheduler   string  `json:"scheduler"`
	LRFactor    float64 `json:"lr_factor"`
	LRPatience  int     `json:"lr_patience"`
	Patience    int     `json:"patience"`
	Epochs      int     `json:"epochs"`
	BatchSize   int     `json:"batch_size"`

	// data
	Dataset        string   `json:"dataset"`
	SDFFile        string   `json:"sdf_file"`
	LabelFile      string   `json:"label_file"`
	Properties     []string `json:"properties"`
	UnitConversion bool     `json:"unit_conversion"`
	Validation     float64  `json:"validation"`
	Test           float64  `json:"test"`
	Seed           int64    `json:"seed"`

	// run
	Device           string `json:"device"`
	Restore          bool   `json:"restore"`
	OutputFile       string `json:"output_file"`
	CheckpointDir    string `json:"checkpoint_dir"`
	CheckpointFormat string `json:"checkpoint_format"`
	PlotFile         string `json:"plot_file"`
}

// DefaultConfig returns the settings of the QM9 atomization energy run.
func DefaultConfig() Config {
	m := model.DefaultConfig()
	q := dataset.DefaultQM9Options()
	return Config{
		NumGATLayers:  m.NumGATLayers,
		GATHiddenSize: m.GATHiddenSize,
		NumHeads:      m.NumHeads,
		FeatDrop:      m.FeatDrop,
		AttnDrop:      m.AttnDrop,
		NegativeSlope: m.NegativeSlope,
		Residual:      m.Residual,
		NumFCLayers:   m.NumFCLayers,
		FCHiddenSize:  m.FCHiddenSize,

		LR:          0.001,
		WeightDecay: 0,
		Optimizer:   "adam",
		Scheduler:   "plateau",
		LRFactor:    0.4,
		LRPatience:  50,
		Patience:    150,
		Epochs:      100,
		BatchSize:   100,

		Dataset:        DatasetQM9,
		Properties:     q.Properties,
		UnitConversion: q.UnitConversion,
		Validation:     0.1,
		Test:           0.1,
		Seed:           35,

		Device:           "cpu",
		OutputFile:       "result.pb",
		CheckpointDir:    "checkpoints",
		CheckpointFormat: "json",
	}
}

// DefaultElectrolyteConfig returns the settings of the bond energy run.
func DefaultElectrolyteConfig() Config {
	cfg := DefaultConfig()
	cfg.Dataset = DatasetElectrolyte
	cfg.Properties = nil
	cfg.UnitConversion = false
	cfg.BatchSize = 10
	return cfg
}

// LoadConfigFile overlays the options present in a JSON file onto cfg.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}

// stringList is a comma separated flag value.
type stringList struct {
	values *[]string
}

func (s stringList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s stringList) Set(v string) error {
	*s.values = nil
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*s.values = append(*s.values, p)
		}
	}
	return nil
}

// RegisterFlags binds every option to fs, using the current values of cfg as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.NumGATLayers, "num_gat_layers", c.NumGATLayers, "number of attention layers")
	fs.IntVar(&c.GATHiddenSize, "gat_hidden_size", c.GATHiddenSize, "hidden size of every attention head")
	fs.IntVar(&c.NumHeads, "num_heads", c.NumHeads, "number of attention heads")
	fs.Float64Var(&c.FeatDrop, "feat_drop", c.FeatDrop, "feature dropout rate")
	fs.Float64Var(&c.AttnDrop, "attn_drop", c.AttnDrop, "attention dropout rate")
	fs.Float64Var(&c.NegativeSlope, "negative_slope", c.NegativeSlope, "LeakyReLU slope of attention scores")
	fs.BoolVar(&c.Residual, "residual", c.Residual, "add residual connections")
	fs.IntVar(&c.NumFCLayers, "num_fc_layers", c.NumFCLayers, "number of fully connected layers")
	fs.IntVar(&c.FCHiddenSize, "fc_hidden_size", c.FCHiddenSize, "hidden size of fully connected layers")

	fs.Float64Var(&c.LR, "lr", c.LR, "learning rate")
	fs.Float64Var(&c.WeightDecay, "weight_decay", c.WeightDecay, "L2 weight decay")
	fs.StringVar(&c.Optimizer, "optimizer", c.Optimizer, "optimizer: adam or sgd")
	fs.StringVar(&c.Scheduler, "scheduler", c.Scheduler, "learning rate schedule: plateau, step, exponential, cosine or constant")
	fs.Float64Var(&c.LRFactor, "lr_factor", c.LRFactor, "learning rate reduction factor")
	fs.IntVar(&c.LRPatience, "lr_patience", c.LRPatience, "epochs without improvement before reducing the learning rate")
	fs.IntVar(&c.Patience, "patience", c.Patience, "epochs without improvement before stopping")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "maximum number of epochs")
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "training batch size")

	fs.StringVar(&c.Dataset, "dataset", c.Dataset, "dataset kind: qm9 or electrolyte")
	fs.StringVar(&c.SDFFile, "sdf_file", c.SDFFile, "structure file")
	fs.StringVar(&c.LabelFile, "label_file", c.LabelFile, "label file")
	fs.Var(stringList{&c.Properties}, "properties", "comma separated label columns (qm9)")
	fs.BoolVar(&c.UnitConversion, "unit_conversion", c.UnitConversion, "convert Hartree energies to eV (qm9)")
	fs.Float64Var(&c.Validation, "validation", c.Validation, "validation fraction")
	fs.Float64Var(&c.Test, "test", c.Test, "test fraction")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "random seed")

	fs.StringVar(&c.Device, "device", c.Device, "compute device")
	fs.BoolVar(&c.Restore, "restore", c.Restore, "restore the checkpoint before training")
	fs.StringVar(&c.OutputFile, "output_file", c.OutputFile, "file receiving the best validation score")
	fs.StringVar(&c.CheckpointDir, "checkpoint_dir", c.CheckpointDir, "checkpoint directory")
	fs.StringVar(&c.CheckpointFormat, "checkpoint_format", c.CheckpointFormat, "checkpoint encoding: json or proto")
	fs.StringVar(&c.PlotFile, "plot_file", c.PlotFile, "optional training curve plot (.png, .svg, .pdf or .json)")
}

// Validate checks option ranges and names.
func (c Config) Validate() error {
	switch {
	case c.NumGATLayers <= 0:
		return errors.Errorf("num_gat_layers must be positive, got %d", c.NumGATLayers)
	case c.GATHiddenSize <= 0:
		return errors.Errorf("gat_hidden_size must be positive, got %d", c.GATHiddenSize)
	case c.NumHeads <= 0:
		return errors.Errorf("num_heads must be positive, got %d", c.NumHeads)
	case c.NumFCLayers < 0:
		return errors.Errorf("num_fc_layers must not be negative, got %d", c.NumFCLayers)
	case c.NumFCLayers > 0 && c.FCHiddenSize <= 0:
		return errors.Errorf("fc_hidden_size must be positive, got %d", c.FCHiddenSize)
	case c.FeatDrop < 0 || c.FeatDrop >= 1:
		return errors.Errorf("feat_drop must be in [0, 1), got %g", c.FeatDrop)
	case c.AttnDrop < 0 || c.AttnDrop >= 1:
		return errors.Errorf("attn_drop must be in [0, 1), got %g", c.AttnDrop)
	case c.LR <= 0:
		return errors.Errorf("lr must be positive, got %g", c.LR)
	case c.WeightDecay < 0:
		return errors.Errorf("weight_decay must not be negative, got %g", c.WeightDecay)
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.Patience < 0:
		return errors.Errorf("patience must not be negative, got %d", c.Patience)
	case c.Validation < 0 || c.Test < 0 || c.Validation+c.Test >= 1:
		return errors.Errorf("validation (%g) and test (%g) fractions must be non-negative and leave a training set", c.Validation, c.Test)
	case c.Device != "cpu":
		return errors.Errorf("unsupported device %q, only cpu is available", c.Device)
	case c.SDFFile == "" || c.LabelFile == "":
		return errors.New("sdf_file and label_file are required")
	case c.OutputFile == "":
		return errors.New("output_file is required")
	}

	switch c.Optimizer {
	case "adam", "sgd":
	default:
		return errors.Errorf("unknown optimizer %q", c.Optimizer)
	}
	if _, err := training.NewLRScheduler(c.Scheduler, c.LRFactor, c.LRPatience, c.Epochs, training.Minimize); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	switch c.Dataset {
	case DatasetQM9:
		if len(c.Properties) == 0 {
			return errors.New("qm9 runs need at least one property")
		}
	case DatasetElectrolyte:
	default:
		return errors.Errorf("unknown dataset %q", c.Dataset)
	}
	return nil
}

// ModelConfig extracts the network settings for a dataset of the given task
// and label width.
func (c Config) ModelConfig(task dataset.Task, outSize int) model.Config {
	return model.Config{
		NumGATLayers:  c.NumGATLayers,
		GATHiddenSize: c.GATHiddenSize,
		NumHeads:      c.NumHeads,
		FeatDrop:      c.FeatDrop,
		AttnDrop:      c.AttnDrop,
		NegativeSlope: c.NegativeSlope,
		Residual:      c.Residual,
		NumFCLayers:   c.NumFCLayers,
		FCHiddenSize:  c.FCHiddenSize,
		OutSize:       outSize,
		Task:          task,
	}
}

// ParseArgs builds a configuration from command line arguments. A -config JSON
// file is applied over defaults first, then explicit flags override it.
func ParseArgs(name string, defaults Config, args []string) (Config, error) {
	cfg := defaults
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON file with run options")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if *configPath == "" {
		return cfg, nil
	}

	cfg = defaults
	cfg.Properties = slices.Clone(defaults.Properties)
	if err := LoadConfigFile(*configPath, &cfg); err != nil {
		return cfg, err
	}
	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", "", "JSON file with run options")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}
