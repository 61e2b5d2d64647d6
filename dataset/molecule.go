package dataset

import (
	"math"
	"sort"
)

// BondAromatic is the SDF bond type code for aromatic bonds.
const BondAromatic = 4

// Atom is a single atom of a molecule.
type Atom struct {
	Symbol  string
	X, Y, Z float64
	Charge  int
}

// Bond joins atoms Begin and End (0-based). Order is 1, 2, 3 or BondAromatic.
type Bond struct {
	Begin int
	End   int
	Order int
}

// Molecule is a parsed structure record.
type Molecule struct {
	Name       string
	Atoms      []Atom
	Bonds      []Bond
	Properties map[string]string
}

var atomicMass = map[string]float64{
	"H": 1.008, "Li": 6.94, "B": 10.81, "C": 12.011, "N": 14.007, "O": 15.999,
	"F": 18.998, "Na": 22.990, "Mg": 24.305, "Si": 28.085, "P": 30.974,
	"S": 32.06, "Cl": 35.45, "K": 39.098, "Br": 79.904, "I": 126.904,
}

// Charge returns the sum of formal atomic charges.
func (m *Molecule) Charge() int {
	c := 0
	for _, a := range m.Atoms {
		c += a.Charge
	}
	return c
}

// Weight returns the molecular weight in g/mol. Unknown elements count as zero.
func (m *Molecule) Weight() float64 {
	w := 0.0
	for _, a := range m.Atoms {
		w += atomicMass[a.Symbol]
	}
	return w
}

// BondLength returns the distance in Angstrom between the atoms of bond i.
func (m *Molecule) BondLength(i int) float64 {
	a, b := m.Atoms[m.Bonds[i].Begin], m.Atoms[m.Bonds[i].End]
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Degree returns the number of bonds of atom i.
func (m *Molecule) Degree(i int) int {
	d := 0
	for _, b := range m.Bonds {
		if b.Begin == i || b.End == i {
			d++
		}
	}
	return d
}

// NumHydrogens returns the number of hydrogen atoms bonded to atom i.
func (m *Molecule) NumHydrogens(i int) int {
	n := 0
	for _, b := range m.Bonds {
		var other int
		switch i {
		case b.Begin:
			other = b.End
		case b.End:
			other = b.Begin
		default:
			continue
		}
		if m.Atoms[other].Symbol == "H" {
			n++
		}
	}
	return n
}

// BondPairs returns the atom index pairs of all bonds.
func (m *Molecule) BondPairs() [][2]int {
	pairs := make([][2]int, len(m.Bonds))
	for i, b := range m.Bonds {
		pairs[i] = [2]int{b.Begin, b.End}
	}
	return pairs
}

// Species returns the sorted set of element symbols found in mols.
func Species(mols []*Molecule) []string {
	seen := make(map[string]bool)
	for _, m := range mols {
		for _, a := range m.Atoms {
			seen[a.Symbol] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
