package dataset

import (
	"github.com/pkg/errors"
)

// LoadElectrolyte reads an electrolyte structure file and its bond energy labels.
func LoadElectrolyte(sdfPath, labelPath string, opts Options) (*MoleculeDataset, error) {
	mols, err := ReadSDFFile(sdfPath)
	if err != nil {
		return nil, err
	}
	labels, err := ReadElectrolyteLabelsFile(labelPath)
	if err != nil {
		return nil, err
	}
	return NewElectrolyteDataset(mols, labels, opts)
}

// NewElectrolyteDataset pairs molecules with per-bond energies. Every molecule
// must have exactly one energy per bond; unknown energies are masked out.
func NewElectrolyteDataset(mols []*Molecule, labels []BondLabels, opts Options) (*MoleculeDataset, error) {
	if len(mols) != len(labels) {
		return nil, errors.Errorf("%d molecules but %d label lines", len(mols), len(labels))
	}
	if len(mols) == 0 {
		return nil, errors.New("empty dataset")
	}
	graphs, grapher, err := buildGraphs(mols, opts.SelfLoop)
	if err != nil {
		return nil, err
	}

	rows := make([][]float64, len(labels))
	masks := make([][]bool, len(labels))
	for i, l := range labels {
		if len(l.Energies) != len(mols[i].Bonds) {
			return nil, errors.Errorf("molecule %d has %d bonds but %d bond energies", i, len(mols[i].Bonds), len(l.Energies))
		}
		rows[i] = l.Energies
		masks[i] = l.Indicator
	}
	mean, std := 0.0, 1.0
	if opts.Normalize {
		mean, std = FitPooled(rows, masks)
	}

	ds := &MoleculeDataset{
		name:         "Electrolyte",
		examples:     make([]*Example, len(mols)),
		featureSize:  grapher.FeatureSize(),
		labelWidth:   1,
		task:         BondTask,
		Standardizer: &Standardizer{Mean: []float64{mean}, Std: []float64{std}},
	}
	for i, m := range mols {
		n := len(rows[i])
		label := make([]float64, n)
		scale := make([]float64, n)
		for j, v := range rows[i] {
			label[j] = (v - mean) / std
			scale[j] = std
		}
		ds.examples[i] = &Example{
			Name:  m.Name,
			Graph: graphs[i],
			Label: label,
			Mask:  append([]bool(nil), masks[i]...),
			Scale: scale,
		}
	}
	return ds, nil
}
