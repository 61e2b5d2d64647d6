// Package model implements the heterogeneous graph attention network used to
// predict molecular and bond properties.
package model

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/tensor"
)

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewLinear creates a Linear layer with Xavier uniform weights and zero bias.
func NewLinear(inputSize, outputSize int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{Weight: tensor.XavierUniform(inputSize, outputSize, 1, rng)}
	if bias {
		l.Bias = tensor.Zeros(1, outputSize)
		l.Bias.SetRequiresGrad(true)
	}
	return l
}

// Forward maps [n x in] to [n x out].
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.Cols() != l.Weight.Rows() {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "input size mismatch: expected %d, got %d", l.Weight.Rows(), input.Cols())
	}
	out, err := tensor.MatMul(input, l.Weight)
	if err != nil {
		return nil, err
	}
	if l.Bias != nil {
		return tensor.AddRow(out, l.Bias)
	}
	return out, nil
}

func (l *Linear) params(prefix string, p *paramSet) {
	p.add(prefix+".weight", l.Weight)
	if l.Bias != nil {
		p.add(prefix+".bias", l.Bias)
	}
}
