// Package graph builds the heterogeneous molecular graphs consumed by the
// attention layers: every molecule has atom nodes, bond nodes and a single
// global node, connected by typed edges.
package graph

import (
	"github.com/pkg/errors"

	"github.com/molgat/molgat/tensor"
)

// Node types.
const (
	Atom   = "atom"
	Bond   = "bond"
	Global = "global"
)

// NodeTypes lists the node types in their canonical order.
var NodeTypes = []string{Atom, Bond, Global}

// EdgeType names a directed relation from nodes of type Src to nodes of type Dst.
type EdgeType struct {
	Name string
	Src  string
	Dst  string
}

// EdgeTypes lists every relation of a molecular heterograph. The last three are
// self loops and only carry edges when the graph is built with self loops.
var EdgeTypes = []EdgeType{
	{"a2b", Atom, Bond},
	{"b2a", Bond, Atom},
	{"a2g", Atom, Global},
	{"g2a", Global, Atom},
	{"b2g", Bond, Global},
	{"g2b", Global, Bond},
	{"a2a", Atom, Atom},
	{"b2b", Bond, Bond},
	{"g2g", Global, Global},
}

// LookupEdgeType returns the relation with the given name.
func LookupEdgeType(name string) (EdgeType, bool) {
	for _, et := range EdgeTypes {
		if et.Name == name {
			return et, true
		}
	}
	return EdgeType{}, false
}

// Edges holds parallel source and destination node indices of one relation.
type Edges struct {
	Src []int
	Dst []int
}

// Len returns the number of edges.
func (e Edges) Len() int {
	return len(e.Src)
}

// HeteroGraph is a molecule graph, or a batch of them. For a batch, nodes of each
// type are numbered consecutively graph after graph and BatchNumNodes records how
// many nodes of each type every member graph contributed.
type HeteroGraph struct {
	NumNodes      map[string]int
	Edges         map[string]Edges
	Features      map[string]*tensor.Tensor
	BatchSize     int
	BatchNumNodes map[string][]int
}

// New builds the graph of a single molecule with numAtoms atoms and the given
// bonds (pairs of atom indices). With selfLoop every node also gets an edge to itself.
func New(numAtoms int, bonds [][2]int, selfLoop bool) (*HeteroGraph, error) {
	numBonds := len(bonds)
	g := &HeteroGraph{
		NumNodes:  map[string]int{Atom: numAtoms, Bond: numBonds, Global: 1},
		Edges:     make(map[string]Edges, len(EdgeTypes)),
		Features:  make(map[string]*tensor.Tensor),
		BatchSize: 1,
		BatchNumNodes: map[string][]int{
			Atom:   {numAtoms},
			Bond:   {numBonds},
			Global: {1},
		},
	}

	var a2b, b2a Edges
	for b, pair := range bonds {
		for _, a := range pair {
			if a < 0 || a >= numAtoms {
				return nil, errors.Errorf("bond %d references atom %d, molecule has %d atoms", b, a, numAtoms)
			}
			a2b.Src = append(a2b.Src, a)
			a2b.Dst = append(a2b.Dst, b)
			b2a.Src = append(b2a.Src, b)
			b2a.Dst = append(b2a.Dst, a)
		}
	}
	g.Edges["a2b"] = a2b
	g.Edges["b2a"] = b2a
	g.Edges["a2g"], g.Edges["g2a"] = toGlobal(numAtoms)
	g.Edges["b2g"], g.Edges["g2b"] = toGlobal(numBonds)

	if selfLoop {
		g.Edges["a2a"] = selfLoops(numAtoms)
		g.Edges["b2b"] = selfLoops(numBonds)
		g.Edges["g2g"] = selfLoops(1)
	} else {
		g.Edges["a2a"] = Edges{}
		g.Edges["b2b"] = Edges{}
		g.Edges["g2g"] = Edges{}
	}
	return g, nil
}

func toGlobal(n int) (to, from Edges) {
	for i := 0; i < n; i++ {
		to.Src = append(to.Src, i)
		to.Dst = append(to.Dst, 0)
		from.Src = append(from.Src, 0)
		from.Dst = append(from.Dst, i)
	}
	return to, from
}

func selfLoops(n int) Edges {
	e := Edges{Src: make([]int, n), Dst: make([]int, n)}
	for i := 0; i < n; i++ {
		e.Src[i] = i
		e.Dst[i] = i
	}
	return e
}

// InEdges returns the relations whose destination is nodeType, in EdgeTypes order.
func InEdges(nodeType string) []EdgeType {
	var out []EdgeType
	for _, et := range EdgeTypes {
		if et.Dst == nodeType {
			out = append(out, et)
		}
	}
	return out
}

// SetFeatures attaches the node feature matrix of a node type.
func (g *HeteroGraph) SetFeatures(nodeType string, feats *tensor.Tensor) error {
	n, ok := g.NumNodes[nodeType]
	if !ok {
		return errors.Errorf("unknown node type %q", nodeType)
	}
	if feats.Rows() != n {
		return errors.Wrapf(tensor.ErrShapeMismatch, "%s features have %d rows, graph has %d nodes", nodeType, feats.Rows(), n)
	}
	g.Features[nodeType] = feats
	return nil
}

// GraphIDs returns, for every node of nodeType, the index of the member graph it
// belongs to.
func (g *HeteroGraph) GraphIDs(nodeType string) []int {
	ids := make([]int, 0, g.NumNodes[nodeType])
	for gi, n := range g.BatchNumNodes[nodeType] {
		for i := 0; i < n; i++ {
			ids = append(ids, gi)
		}
	}
	return ids
}
