package dataset

import (
	"github.com/pkg/errors"
)

// QM9Options configure a QM9 dataset.
type QM9Options struct {
	Options
	Properties     []string
	UnitConversion bool
}

// DefaultQM9Options predicts the atomization energy in eV.
func DefaultQM9Options() QM9Options {
	return QM9Options{
		Options:        Options{SelfLoop: true, Normalize: true},
		Properties:     []string{"u0_atom"},
		UnitConversion: true,
	}
}

// LoadQM9 reads a QM9 structure file and its label CSV.
func LoadQM9(sdfPath, labelPath string, opts QM9Options) (*MoleculeDataset, error) {
	mols, err := ReadSDFFile(sdfPath)
	if err != nil {
		return nil, err
	}
	labels, err := ReadQM9LabelsFile(labelPath, opts.Properties, opts.UnitConversion)
	if err != nil {
		return nil, err
	}
	return NewQM9Dataset(mols, labels, opts)
}

// NewQM9Dataset pairs molecules with per-molecule label rows.
func NewQM9Dataset(mols []*Molecule, labels [][]float64, opts QM9Options) (*MoleculeDataset, error) {
	if len(mols) != len(labels) {
		return nil, errors.Errorf("%d molecules but %d label rows", len(mols), len(labels))
	}
	if len(mols) == 0 {
		return nil, errors.New("empty dataset")
	}
	graphs, grapher, err := buildGraphs(mols, opts.SelfLoop)
	if err != nil {
		return nil, err
	}

	width := len(opts.Properties)
	std := &Standardizer{Mean: make([]float64, width), Std: make([]float64, width)}
	for j := range std.Std {
		std.Std[j] = 1
	}
	if opts.Normalize {
		std = FitStandardizer(labels, nil, width)
	}

	ds := &MoleculeDataset{
		name:         "QM9",
		examples:     make([]*Example, len(mols)),
		featureSize:  grapher.FeatureSize(),
		labelWidth:   width,
		task:         GraphTask,
		Standardizer: std,
	}
	for i, m := range mols {
		if len(labels[i]) != width {
			return nil, errors.Errorf("molecule %d has %d labels, want %d", i, len(labels[i]), width)
		}
		label := append([]float64(nil), labels[i]...)
		std.Transform(label)
		ds.examples[i] = &Example{
			Name:  m.Name,
			Graph: graphs[i],
			Label: label,
			Scale: append([]float64(nil), std.Std...),
		}
	}
	return ds, nil
}
