package tensor

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// New creates a rows x cols tensor backed by data. A nil data slice allocates zeros.
func New(rows, cols int, data []float64) (*Tensor, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.Errorf("invalid shape [%d, %d]", rows, cols)
	}
	if data == nil {
		data = make([]float64, rows*cols)
	}
	if len(data) != rows*cols {
		return nil, errors.Wrapf(ErrShapeMismatch, "data length %d does not match shape [%d, %d]", len(data), rows, cols)
	}
	return &Tensor{Shape: []int{rows, cols}, Data: data}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(rows, cols int) *Tensor {
	return &Tensor{Shape: []int{rows, cols}, Data: make([]float64, rows*cols)}
}

// Full creates a tensor with every element set to value.
func Full(rows, cols int, value float64) *Tensor {
	t := Zeros(rows, cols)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// FromRows stacks equally sized rows into a tensor. All rows must have width cols.
func FromRows(rows [][]float64, cols int) (*Tensor, error) {
	t := Zeros(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, errors.Wrapf(ErrShapeMismatch, "row %d has %d values, expected %d", i, len(r), cols)
		}
		copy(t.Data[i*cols:], r)
	}
	return t, nil
}

// XavierUniform creates a fanIn x fanOut parameter initialized from
// U(-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))) scaled by gain.
func XavierUniform(fanIn, fanOut int, gain float64, rng *rand.Rand) *Tensor {
	t := Zeros(fanIn, fanOut)
	if fanIn+fanOut == 0 {
		return t
	}
	bound := gain * math.Sqrt(6.0/float64(fanIn+fanOut))
	for i := range t.Data {
		t.Data[i] = (rng.Float64()*2.0 - 1.0) * bound
	}
	t.requiresGrad = true
	return t
}
