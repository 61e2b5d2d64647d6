package dataset

import (
	"math"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/graph"
	"github.com/molgat/molgat/tensor"
)

const (
	maxDegree    = 5
	maxHydrogens = 4
)

// AtomFeaturizer encodes atoms as element one-hot, degree one-hot (0..5),
// attached hydrogen one-hot (0..4) and formal charge.
type AtomFeaturizer struct {
	Species []string
}

// Size returns the width of an atom feature row.
func (f *AtomFeaturizer) Size() int {
	return len(f.Species) + (maxDegree + 1) + (maxHydrogens + 1) + 1
}

// Featurize returns the [atoms x Size()] feature matrix of m.
func (f *AtomFeaturizer) Featurize(m *Molecule) (*tensor.Tensor, error) {
	index := make(map[string]int, len(f.Species))
	for i, s := range f.Species {
		index[s] = i
	}
	size := f.Size()
	out := tensor.Zeros(len(m.Atoms), size)
	for i, a := range m.Atoms {
		row := out.Row(i)
		si, ok := index[a.Symbol]
		if !ok {
			return nil, errors.Errorf("atom %d: element %q not in species %v", i, a.Symbol, f.Species)
		}
		row[si] = 1
		off := len(f.Species)
		row[off+min(m.Degree(i), maxDegree)] = 1
		off += maxDegree + 1
		row[off+min(m.NumHydrogens(i), maxHydrogens)] = 1
		row[size-1] = float64(a.Charge)
	}
	return out, nil
}

// RBF expands a distance d into exp(-Gamma*(d-c)^2) over Num evenly spaced centers c
// in [Low, High].
type RBF struct {
	Low   float64
	High  float64
	Num   int
	Gamma float64
}

// DefaultRBF returns the bond length expansion used for bond features.
func DefaultRBF() RBF {
	return RBF{Low: 0.1, High: 2.5, Num: 10, Gamma: 10}
}

// Expand writes the expansion of d into dst, which must have length Num.
func (r RBF) Expand(d float64, dst []float64) {
	step := 0.0
	if r.Num > 1 {
		step = (r.High - r.Low) / float64(r.Num-1)
	}
	for i := 0; i < r.Num; i++ {
		c := r.Low + float64(i)*step
		dst[i] = math.Exp(-r.Gamma * (d - c) * (d - c))
	}
}

// BondFeaturizer encodes bonds as bond type one-hot (single, double, triple,
// aromatic) followed by the RBF expansion of the bond length.
type BondFeaturizer struct {
	Length RBF
}

// Size returns the width of a bond feature row.
func (f *BondFeaturizer) Size() int {
	return BondAromatic + f.Length.Num
}

// Featurize returns the [bonds x Size()] feature matrix of m.
func (f *BondFeaturizer) Featurize(m *Molecule) (*tensor.Tensor, error) {
	out := tensor.Zeros(len(m.Bonds), f.Size())
	for i, b := range m.Bonds {
		row := out.Row(i)
		row[b.Order-1] = 1
		f.Length.Expand(m.BondLength(i), row[BondAromatic:])
	}
	return out, nil
}

// GlobalFeaturizer encodes the molecule as atom count, bond count, molecular
// weight / 100 and total charge one-hot (-1, 0, +1).
type GlobalFeaturizer struct{}

// Size returns the width of the global feature row.
func (GlobalFeaturizer) Size() int {
	return 6
}

// Featurize returns the [1 x Size()] feature matrix of m.
func (GlobalFeaturizer) Featurize(m *Molecule) (*tensor.Tensor, error) {
	charge := m.Charge()
	if charge < -1 || charge > 1 {
		return nil, errors.Errorf("molecule %q: total charge %d outside [-1, 1]", m.Name, charge)
	}
	out := tensor.Zeros(1, 6)
	out.Data[0] = float64(len(m.Atoms))
	out.Data[1] = float64(len(m.Bonds))
	out.Data[2] = m.Weight() / 100
	out.Data[4+charge] = 1
	return out, nil
}

// Grapher turns molecules into featurized heterographs.
type Grapher struct {
	Atoms    *AtomFeaturizer
	Bonds    *BondFeaturizer
	Global   GlobalFeaturizer
	SelfLoop bool
}

// NewGrapher creates a grapher for molecules made of the given species.
func NewGrapher(species []string, selfLoop bool) *Grapher {
	return &Grapher{
		Atoms:    &AtomFeaturizer{Species: species},
		Bonds:    &BondFeaturizer{Length: DefaultRBF()},
		SelfLoop: selfLoop,
	}
}

// FeatureSize returns the feature width of every node type.
func (g *Grapher) FeatureSize() map[string]int {
	return map[string]int{
		graph.Atom:   g.Atoms.Size(),
		graph.Bond:   g.Bonds.Size(),
		graph.Global: g.Global.Size(),
	}
}

// Build constructs the heterograph of m with node features attached.
func (g *Grapher) Build(m *Molecule) (*graph.HeteroGraph, error) {
	hg, err := graph.New(len(m.Atoms), m.BondPairs(), g.SelfLoop)
	if err != nil {
		return nil, errors.Wrapf(err, "molecule %q", m.Name)
	}
	atoms, err := g.Atoms.Featurize(m)
	if err != nil {
		return nil, errors.Wrapf(err, "molecule %q", m.Name)
	}
	bonds, err := g.Bonds.Featurize(m)
	if err != nil {
		return nil, errors.Wrapf(err, "molecule %q", m.Name)
	}
	global, err := g.Global.Featurize(m)
	if err != nil {
		return nil, err
	}
	for nt, f := range map[string]*tensor.Tensor{graph.Atom: atoms, graph.Bond: bonds, graph.Global: global} {
		if err := hg.SetFeatures(nt, f); err != nil {
			return nil, err
		}
	}
	return hg, nil
}
