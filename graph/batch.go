package graph

import (
	"github.com/pkg/errors"

	"github.com/molgat/molgat/tensor"
)

// Batch merges graphs into one disconnected graph. Node indices of every type are
// offset by the node counts of the graphs before it, and features are stacked in
// the same order, so row i of a batched feature matrix belongs to node i.
func Batch(graphs []*HeteroGraph) (*HeteroGraph, error) {
	if len(graphs) == 0 {
		return nil, errors.New("cannot batch zero graphs")
	}

	b := &HeteroGraph{
		NumNodes:      make(map[string]int, len(NodeTypes)),
		Edges:         make(map[string]Edges, len(EdgeTypes)),
		Features:      make(map[string]*tensor.Tensor),
		BatchNumNodes: make(map[string][]int, len(NodeTypes)),
	}

	offsets := make(map[string]int, len(NodeTypes))
	for gi, g := range graphs {
		for _, et := range EdgeTypes {
			e := g.Edges[et.Name]
			merged := b.Edges[et.Name]
			for i := range e.Src {
				merged.Src = append(merged.Src, e.Src[i]+offsets[et.Src])
				merged.Dst = append(merged.Dst, e.Dst[i]+offsets[et.Dst])
			}
			b.Edges[et.Name] = merged
		}
		for _, nt := range NodeTypes {
			offsets[nt] += g.NumNodes[nt]
			b.BatchNumNodes[nt] = append(b.BatchNumNodes[nt], g.BatchNumNodes[nt]...)
		}
		b.BatchSize += g.BatchSize
		if len(g.Features) != len(graphs[0].Features) {
			return nil, errors.Errorf("graph %d has features for %d node types, graph 0 has %d", gi, len(g.Features), len(graphs[0].Features))
		}
	}
	for _, nt := range NodeTypes {
		b.NumNodes[nt] = offsets[nt]
	}

	for nt := range graphs[0].Features {
		parts := make([]*tensor.Tensor, len(graphs))
		for i, g := range graphs {
			f, ok := g.Features[nt]
			if !ok {
				return nil, errors.Errorf("graph %d has no %s features", i, nt)
			}
			parts[i] = f
		}
		stacked, err := tensor.ConcatRows(parts...)
		if err != nil {
			return nil, errors.Wrapf(err, "stacking %s features", nt)
		}
		b.Features[nt] = stacked
	}
	return b, nil
}
