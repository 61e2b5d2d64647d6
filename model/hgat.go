package model

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/graph"
	"github.com/molgat/molgat/tensor"
)

// AttentionOrder is the order in which node types are updated within a layer.
// Types updated later see the already updated features of earlier ones.
var AttentionOrder = []string{graph.Atom, graph.Bond, graph.Global}

// ConvConfig configures one heterogeneous attention layer.
type ConvConfig struct {
	OutSize       int
	NumHeads      int
	FeatDrop      float64
	AttnDrop      float64
	NegativeSlope float64
	Residual      bool
	// MeanHeads averages the heads instead of concatenating them.
	MeanHeads bool
}

// nodeUpdate holds the weights that update one destination node type.
type nodeUpdate struct {
	nodeType string
	inSize   int
	edges    []graph.EdgeType
	proj     map[string]*Linear
	attnSrc  map[string]*tensor.Tensor
	dstProj  *Linear
	attnDst  *tensor.Tensor
	residual *Linear
}

// HGATConv is a graph attention layer over molecular heterographs. Every node
// attends over all of its incoming edges, whatever their relation, with a single
// softmax; each relation has its own message projection and attention vector.
type HGATConv struct {
	cfg     ConvConfig
	updates []*nodeUpdate
}

// NewHGATConv creates a layer for node features of the given input widths.
func NewHGATConv(inSizes map[string]int, cfg ConvConfig, rng *rand.Rand) (*HGATConv, error) {
	if cfg.OutSize <= 0 || cfg.NumHeads <= 0 {
		return nil, errors.Errorf("invalid attention layer size %d x %d heads", cfg.OutSize, cfg.NumHeads)
	}
	width := cfg.OutSize * cfg.NumHeads
	sizes := make(map[string]int, len(inSizes))
	for nt, s := range inSizes {
		sizes[nt] = s
	}

	c := &HGATConv{cfg: cfg}
	for _, dt := range AttentionOrder {
		in, ok := sizes[dt]
		if !ok {
			return nil, errors.Errorf("no input size for node type %q", dt)
		}
		u := &nodeUpdate{
			nodeType: dt,
			inSize:   in,
			edges:    graph.InEdges(dt),
			proj:     make(map[string]*Linear),
			attnSrc:  make(map[string]*tensor.Tensor),
			dstProj:  NewLinear(in, width, false, rng),
			attnDst:  tensor.XavierUniform(1, width, 1, rng),
		}
		for _, et := range u.edges {
			u.proj[et.Name] = NewLinear(sizes[et.Src], width, false, rng)
			u.attnSrc[et.Name] = tensor.XavierUniform(1, width, 1, rng)
		}
		if cfg.Residual && in != width {
			u.residual = NewLinear(in, width, false, rng)
		}
		c.updates = append(c.updates, u)
		sizes[dt] = c.OutSize()
	}
	return c, nil
}

// OutSize returns the width of the features the layer produces.
func (c *HGATConv) OutSize() int {
	if c.cfg.MeanHeads {
		return c.cfg.OutSize
	}
	return c.cfg.OutSize * c.cfg.NumHeads
}

// Forward updates the features of every node type in AttentionOrder. feats is
// not modified; the updated features are returned in a new map.
func (c *HGATConv) Forward(g *graph.HeteroGraph, feats map[string]*tensor.Tensor, training bool, rng *rand.Rand) (map[string]*tensor.Tensor, error) {
	cur := make(map[string]*tensor.Tensor, len(feats))
	for nt, f := range feats {
		cur[nt] = f
	}
	for _, u := range c.updates {
		out, err := c.update(u, g, cur, training, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "updating %s nodes", u.nodeType)
		}
		cur[u.nodeType] = out
	}
	return cur, nil
}

func (c *HGATConv) update(u *nodeUpdate, g *graph.HeteroGraph, cur map[string]*tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	heads := c.cfg.NumHeads
	dropped := make(map[string]*tensor.Tensor)
	input := func(nt string) (*tensor.Tensor, error) {
		if t, ok := dropped[nt]; ok {
			return t, nil
		}
		f, ok := cur[nt]
		if !ok {
			return nil, errors.Errorf("missing %s features", nt)
		}
		t, err := tensor.Dropout(f, c.cfg.FeatDrop, training, rng)
		if err != nil {
			return nil, err
		}
		dropped[nt] = t
		return t, nil
	}

	h, err := input(u.nodeType)
	if err != nil {
		return nil, err
	}
	numDst := g.NumNodes[u.nodeType]
	if h.Rows() != numDst {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "%d feature rows for %d nodes", h.Rows(), numDst)
	}
	dstP, err := u.dstProj.Forward(h)
	if err != nil {
		return nil, err
	}
	er, err := tensor.HeadDot(dstP, u.attnDst, heads)
	if err != nil {
		return nil, err
	}

	var msgs, scores []*tensor.Tensor
	var dst []int
	for _, et := range u.edges {
		e := g.Edges[et.Name]
		src, err := input(et.Src)
		if err != nil {
			return nil, err
		}
		p, err := u.proj[et.Name].Forward(src)
		if err != nil {
			return nil, errors.Wrapf(err, "projecting %s", et.Name)
		}
		el, err := tensor.HeadDot(p, u.attnSrc[et.Name], heads)
		if err != nil {
			return nil, err
		}
		msg, err := tensor.Gather(p, e.Src)
		if err != nil {
			return nil, errors.Wrapf(err, "%s sources", et.Name)
		}
		elE, err := tensor.Gather(el, e.Src)
		if err != nil {
			return nil, err
		}
		erE, err := tensor.Gather(er, e.Dst)
		if err != nil {
			return nil, errors.Wrapf(err, "%s destinations", et.Name)
		}
		score, err := tensor.Add(elE, erE)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
		scores = append(scores, tensor.LeakyReLU(score, c.cfg.NegativeSlope))
		dst = append(dst, e.Dst...)
	}

	msg, err := tensor.ConcatRows(msgs...)
	if err != nil {
		return nil, err
	}
	score, err := tensor.ConcatRows(scores...)
	if err != nil {
		return nil, err
	}
	alpha, err := tensor.SegmentSoftmax(score, dst, numDst)
	if err != nil {
		return nil, err
	}
	if alpha, err = tensor.Dropout(alpha, c.cfg.AttnDrop, training, rng); err != nil {
		return nil, err
	}
	weighted, err := tensor.HeadScale(msg, alpha, heads)
	if err != nil {
		return nil, err
	}
	out, err := tensor.SegmentSum(weighted, dst, numDst)
	if err != nil {
		return nil, err
	}

	if c.cfg.Residual {
		res := h
		if u.residual != nil {
			if res, err = u.residual.Forward(h); err != nil {
				return nil, err
			}
		}
		if out, err = tensor.Add(out, res); err != nil {
			return nil, err
		}
	}
	if c.cfg.MeanHeads {
		if out, err = tensor.HeadMean(out, heads); err != nil {
			return nil, err
		}
	}
	return tensor.ELU(out), nil
}

func (c *HGATConv) params(prefix string, p *paramSet) {
	for _, u := range c.updates {
		base := fmt.Sprintf("%s.%s", prefix, u.nodeType)
		for _, et := range u.edges {
			u.proj[et.Name].params(base+".proj."+et.Name, p)
			p.add(base+".attn_src."+et.Name, u.attnSrc[et.Name])
		}
		u.dstProj.params(base+".dst_proj", p)
		p.add(base+".attn_dst", u.attnDst)
		if u.residual != nil {
			u.residual.params(base+".residual", p)
		}
	}
}
