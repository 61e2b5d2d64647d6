package model

import (
	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/tensor"
)

// paramSet is an ordered list of named parameters.
type paramSet struct {
	names   []string
	tensors []*tensor.Tensor
}

func (p *paramSet) add(name string, t *tensor.Tensor) {
	p.names = append(p.names, name)
	p.tensors = append(p.tensors, t)
}

func (p *paramSet) stateDict() checkpoints.State {
	s := checkpoints.NewState()
	for i, name := range p.names {
		t := p.tensors[i]
		s.Tensors[name] = checkpoints.TensorState{
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float64(nil), t.Data...),
		}
	}
	return s
}

// loadStateDict copies values into the existing parameters, leaving them
// untouched unless every parameter is present with the right size.
func (p *paramSet) loadStateDict(s checkpoints.State) error {
	states := make([]checkpoints.TensorState, len(p.names))
	for i, name := range p.names {
		ts, err := s.Tensor(name, p.tensors[i].Numel())
		if err != nil {
			return errors.Wrap(err, "model state")
		}
		states[i] = ts
	}
	for i, ts := range states {
		copy(p.tensors[i].Data, ts.Data)
	}
	return nil
}
