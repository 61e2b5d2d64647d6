// Package dataset turns SDF structure files and label files into featurized
// molecular graphs with standardized labels, and batches them for training.
package dataset

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/graph"
	"github.com/molgat/molgat/tensor"
)

// Task tells whether labels belong to the whole molecule or to its bonds.
type Task int

const (
	// GraphTask predicts a fixed number of values per molecule.
	GraphTask Task = iota
	// BondTask predicts one value per bond.
	BondTask
)

func (t Task) String() string {
	switch t {
	case GraphTask:
		return "graph"
	case BondTask:
		return "bond"
	default:
		return fmt.Sprintf("Task(%d)", int(t))
	}
}

// Example is one featurized molecule with its standardized labels. Scale holds
// the factor that maps a standardized label back to original units, one entry per
// label. Mask marks the labels that are known; nil means all of them.
type Example struct {
	Name  string
	Graph *graph.HeteroGraph
	Label []float64
	Mask  []bool
	Scale []float64
}

// Dataset is an indexable collection of examples.
type Dataset interface {
	Len() int
	Get(idx int) (*Example, error)
}

// MoleculeDataset holds featurized molecules in memory.
type MoleculeDataset struct {
	name         string
	examples     []*Example
	featureSize  map[string]int
	labelWidth   int
	task         Task
	Standardizer *Standardizer
}

// Len returns the number of molecules.
func (d *MoleculeDataset) Len() int {
	return len(d.examples)
}

// Get returns the example at idx.
func (d *MoleculeDataset) Get(idx int) (*Example, error) {
	if idx < 0 || idx >= len(d.examples) {
		return nil, errors.Errorf("index %d out of range for dataset of %d", idx, len(d.examples))
	}
	return d.examples[idx], nil
}

// FeatureSize returns the input feature width of every node type.
func (d *MoleculeDataset) FeatureSize() map[string]int {
	return d.featureSize
}

// LabelWidth returns the number of labels per molecule for graph tasks, and 1
// for bond tasks.
func (d *MoleculeDataset) LabelWidth() int {
	return d.labelWidth
}

// Task returns the prediction level of the labels.
func (d *MoleculeDataset) Task() Task {
	return d.task
}

func (d *MoleculeDataset) String() string {
	return fmt.Sprintf("%s dataset: %d molecules, %s task, label width %d, feature size atom=%d bond=%d global=%d",
		d.name, len(d.examples), d.task, d.labelWidth,
		d.featureSize[graph.Atom], d.featureSize[graph.Bond], d.featureSize[graph.Global])
}

// Subset exposes the examples of a dataset at the given indices.
type Subset struct {
	dataset Dataset
	indices []int
}

// NewSubset creates a view of ds restricted to indices.
func NewSubset(ds Dataset, indices []int) (*Subset, error) {
	for _, i := range indices {
		if i < 0 || i >= ds.Len() {
			return nil, errors.Errorf("subset index %d out of range for dataset of %d", i, ds.Len())
		}
	}
	return &Subset{dataset: ds, indices: indices}, nil
}

// Len returns the number of examples in the subset.
func (s *Subset) Len() int {
	return len(s.indices)
}

// Get returns the idx-th example of the subset.
func (s *Subset) Get(idx int) (*Example, error) {
	if idx < 0 || idx >= len(s.indices) {
		return nil, errors.Errorf("index out of bounds for subset: %d (size: %d)", idx, len(s.indices))
	}
	return s.dataset.Get(s.indices[idx])
}

// TrainValidationTestSplit randomly partitions ds. The validation and test sets
// hold int(n*validation) and int(n*test) examples, the training set the rest.
func TrainValidationTestSplit(ds Dataset, validation, test float64, rng *rand.Rand) (train, val, testSet *Subset, err error) {
	if validation < 0 || test < 0 || validation+test >= 1 {
		return nil, nil, nil, errors.Errorf("invalid split fractions validation=%g test=%g", validation, test)
	}
	n := ds.Len()
	numVal := int(float64(n) * validation)
	numTest := int(float64(n) * test)
	numTrain := n - numVal - numTest

	perm := rng.Perm(n)
	parts, err := tensor.SplitBySize(perm, []int{numTrain, numVal, numTest})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "splitting dataset")
	}
	if train, err = NewSubset(ds, parts[0]); err != nil {
		return nil, nil, nil, err
	}
	if val, err = NewSubset(ds, parts[1]); err != nil {
		return nil, nil, nil, err
	}
	if testSet, err = NewSubset(ds, parts[2]); err != nil {
		return nil, nil, nil, err
	}
	return train, val, testSet, nil
}

// Options control dataset construction.
type Options struct {
	SelfLoop  bool
	Normalize bool
}

func buildGraphs(mols []*Molecule, selfLoop bool) ([]*graph.HeteroGraph, *Grapher, error) {
	grapher := NewGrapher(Species(mols), selfLoop)
	graphs := make([]*graph.HeteroGraph, len(mols))
	for i, m := range mols {
		g, err := grapher.Build(m)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "molecule %d", i)
		}
		graphs[i] = g
	}
	return graphs, grapher, nil
}
