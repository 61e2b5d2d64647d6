package model

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/dataset"
	"github.com/molgat/molgat/graph"
	"github.com/molgat/molgat/tensor"
)

// Config holds the network hyperparameters.
type Config struct {
	NumGATLayers  int
	GATHiddenSize int
	NumHeads      int
	FeatDrop      float64
	AttnDrop      float64
	NegativeSlope float64
	Residual      bool
	NumFCLayers   int
	FCHiddenSize  int
	// OutSize is the number of values predicted per molecule, or per bond for
	// bond tasks.
	OutSize int
	Task    dataset.Task
}

// DefaultConfig returns a small network suitable for QM9 energies.
func DefaultConfig() Config {
	return Config{
		NumGATLayers:  3,
		GATHiddenSize: 32,
		NumHeads:      4,
		NegativeSlope: 0.2,
		Residual:      true,
		NumFCLayers:   3,
		FCHiddenSize:  128,
		OutSize:       1,
		Task:          dataset.GraphTask,
	}
}

// HGATMol stacks heterogeneous attention layers and reads the node features
// out into molecule (or bond) predictions through a fully connected head.
type HGATMol struct {
	cfg      Config
	convs    []*HGATConv
	fc       []*Linear
	out      *Linear
	training bool
	rng      *rand.Rand
	params   paramSet
}

// New builds a network for the given input feature widths. rng seeds the weights
// and drives dropout.
func New(inSizes map[string]int, cfg Config, rng *rand.Rand) (*HGATMol, error) {
	if cfg.NumGATLayers <= 0 {
		return nil, errors.Errorf("need at least one attention layer, got %d", cfg.NumGATLayers)
	}
	if cfg.OutSize <= 0 {
		return nil, errors.Errorf("invalid output size %d", cfg.OutSize)
	}
	m := &HGATMol{cfg: cfg, training: true, rng: rng}

	sizes := inSizes
	for i := 0; i < cfg.NumGATLayers; i++ {
		conv, err := NewHGATConv(sizes, ConvConfig{
			OutSize:       cfg.GATHiddenSize,
			NumHeads:      cfg.NumHeads,
			FeatDrop:      cfg.FeatDrop,
			AttnDrop:      cfg.AttnDrop,
			NegativeSlope: cfg.NegativeSlope,
			Residual:      cfg.Residual,
			MeanHeads:     i == cfg.NumGATLayers-1,
		}, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "attention layer %d", i)
		}
		m.convs = append(m.convs, conv)
		sizes = map[string]int{graph.Atom: conv.OutSize(), graph.Bond: conv.OutSize(), graph.Global: conv.OutSize()}
	}

	width := cfg.GATHiddenSize * 3
	if cfg.Task == dataset.BondTask {
		width = cfg.GATHiddenSize * 2
	}
	for i := 0; i < cfg.NumFCLayers; i++ {
		m.fc = append(m.fc, NewLinear(width, cfg.FCHiddenSize, true, rng))
		width = cfg.FCHiddenSize
	}
	m.out = NewLinear(width, cfg.OutSize, true, rng)

	for i, conv := range m.convs {
		conv.params(fmt.Sprintf("gat.%d", i), &m.params)
	}
	for i, l := range m.fc {
		l.params(fmt.Sprintf("fc.%d", i), &m.params)
	}
	m.out.params("out", &m.params)
	return m, nil
}

// Forward predicts a [molecules x OutSize] matrix for graph tasks, or a
// [bonds x OutSize] matrix for bond tasks, rows in batch order.
func (m *HGATMol) Forward(b *dataset.Batch) (*tensor.Tensor, error) {
	g := b.Graph
	feats := g.Features
	for i, conv := range m.convs {
		var err error
		if feats, err = conv.Forward(g, feats, m.IsTraining(), m.rng); err != nil {
			return nil, errors.Wrapf(err, "attention layer %d", i)
		}
	}

	h, err := m.readout(g, feats)
	if err != nil {
		return nil, err
	}
	for i, l := range m.fc {
		if h, err = l.Forward(h); err != nil {
			return nil, errors.Wrapf(err, "fc layer %d", i)
		}
		h = tensor.ReLU(h)
	}
	return m.out.Forward(h)
}

func (m *HGATMol) readout(g *graph.HeteroGraph, feats map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	if m.cfg.Task == dataset.BondTask {
		global, err := tensor.Gather(feats[graph.Global], g.GraphIDs(graph.Bond))
		if err != nil {
			return nil, errors.Wrap(err, "bond readout")
		}
		return tensor.ConcatCols(feats[graph.Bond], global)
	}

	atoms, err := tensor.SegmentMean(feats[graph.Atom], g.GraphIDs(graph.Atom), g.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "atom readout")
	}
	bonds, err := tensor.SegmentMean(feats[graph.Bond], g.GraphIDs(graph.Bond), g.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "bond readout")
	}
	if feats[graph.Global].Rows() != g.BatchSize {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "%d global nodes for %d graphs", feats[graph.Global].Rows(), g.BatchSize)
	}
	return tensor.ConcatCols(atoms, bonds, feats[graph.Global])
}

// Parameters returns the trainable tensors in a fixed order.
func (m *HGATMol) Parameters() []*tensor.Tensor {
	return m.params.tensors
}

// Train enables dropout.
func (m *HGATMol) Train() { m.training = true }

// Eval disables dropout.
func (m *HGATMol) Eval() { m.training = false }

// IsTraining returns true in training mode.
func (m *HGATMol) IsTraining() bool { return m.training }

// Config returns the hyperparameters the network was built with.
func (m *HGATMol) Config() Config { return m.cfg }

// StateDict snapshots every parameter by name.
func (m *HGATMol) StateDict() checkpoints.State {
	return m.params.stateDict()
}

// LoadStateDict restores parameters saved by StateDict.
func (m *HGATMol) LoadStateDict(s checkpoints.State) error {
	return m.params.loadStateDict(s)
}

func (m *HGATMol) String() string {
	n := 0
	for _, p := range m.params.tensors {
		n += p.Numel()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "HGATMol(\n")
	for i, conv := range m.convs {
		fmt.Fprintf(&sb, "  (gat.%d): HGATConv(out=%d, heads=%d, residual=%t)\n", i, conv.OutSize(), conv.cfg.NumHeads, conv.cfg.Residual)
	}
	for i, l := range m.fc {
		fmt.Fprintf(&sb, "  (fc.%d): Linear(%d -> %d)\n", i, l.Weight.Rows(), l.Weight.Cols())
	}
	fmt.Fprintf(&sb, "  (out): Linear(%d -> %d)\n", m.out.Weight.Rows(), m.out.Weight.Cols())
	fmt.Fprintf(&sb, ")  %d parameters in %d tensors", n, len(m.params.tensors))
	return sb.String()
}
