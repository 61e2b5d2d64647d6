package training

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/molgat/molgat/tensor"
)

// ErrShapeMismatch is returned when predictions, targets, scales or masks
// disagree in length.
var ErrShapeMismatch = tensor.ErrShapeMismatch

// Norm selects the per-element error.
type Norm int

const (
	L1 Norm = iota // |p - t|
	L2             // (p - t)^2
)

func (n Norm) String() string {
	switch n {
	case L1:
		return "L1"
	case L2:
		return "L2"
	default:
		return fmt.Sprintf("Unknown(%d)", int(n))
	}
}

// Reduction selects how per-element errors are combined.
type Reduction int

const (
	Sum Reduction = iota
	Mean
)

func (r Reduction) String() string {
	switch r {
	case Sum:
		return "sum"
	case Mean:
		return "mean"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// ErrorMetric measures prediction error in original label units. Predictions and
// targets are standardized values; both are multiplied by the scale before the
// error is taken.
type ErrorMetric struct {
	Norm      Norm
	Reduction Reduction
}

// NewMAE returns the summed absolute error metric used during training.
func NewMAE() ErrorMetric {
	return ErrorMetric{Norm: L1, Reduction: Sum}
}

func (m ErrorMetric) String() string {
	return fmt.Sprintf("%s(%s)", m.Norm, m.Reduction)
}

// elementErrors returns the per-element errors and which of them count.
func (m ErrorMetric) elementErrors(pred, target, scale []float64, mask []bool) ([]float64, []bool, error) {
	n := len(pred)
	if len(target) != n {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "%d predictions, %d targets", n, len(target))
	}
	if mask != nil && len(mask) != n {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "%d predictions, %d mask entries", n, len(mask))
	}
	width := 0 // elements per scale entry; 0 means unscaled
	if scale != nil {
		switch {
		case len(scale) == n:
			width = 1
		case len(scale) > 0 && n%len(scale) == 0:
			width = n / len(scale)
		default:
			return nil, nil, errors.Wrapf(ErrShapeMismatch, "%d scale entries for %d predictions", len(scale), n)
		}
	}

	out := make([]float64, n)
	valid := make([]bool, n)
	for i := range pred {
		if mask != nil && !mask[i] {
			continue
		}
		valid[i] = true
		s := 1.0
		if width > 0 {
			s = scale[i/width]
		}
		d := pred[i]*s - target[i]*s
		if m.Norm == L2 {
			out[i] = d * d
		} else {
			out[i] = math.Abs(d)
		}
	}
	return out, valid, nil
}

// Compute returns the reduced error and the number of contributing elements.
// A nil scale means 1, a scale of len(pred) applies elementwise, and a shorter
// scale dividing len(pred) applies one entry per row of len(pred)/len(scale)
// elements. A nil mask means every element is valid. Mean over zero valid
// elements is 0.
func (m ErrorMetric) Compute(pred, target, scale []float64, mask []bool) (float64, int, error) {
	errs, valid, err := m.elementErrors(pred, target, scale, mask)
	if err != nil {
		return 0, 0, err
	}
	kept := errs[:0]
	for i, e := range errs {
		if valid[i] {
			kept = append(kept, e)
		}
	}
	total := floats.Sum(kept)
	count := len(kept)
	if m.Reduction == Mean {
		if count == 0 {
			return 0, 0, nil
		}
		return total / float64(count), count, nil
	}
	return total, count, nil
}

// ComputePerColumn treats pred as rows of width values and reduces every column
// separately.
func (m ErrorMetric) ComputePerColumn(pred, target, scale []float64, mask []bool, width int) ([]float64, []int, error) {
	if width <= 0 || len(pred)%width != 0 {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "%d predictions cannot form rows of %d", len(pred), width)
	}
	errs, valid, err := m.elementErrors(pred, target, scale, mask)
	if err != nil {
		return nil, nil, err
	}
	values := make([]float64, width)
	counts := make([]int, width)
	for i, e := range errs {
		if !valid[i] {
			continue
		}
		values[i%width] += e
		counts[i%width]++
	}
	if m.Reduction == Mean {
		for j := range values {
			if counts[j] > 0 {
				values[j] /= float64(counts[j])
			}
		}
	}
	return values, counts, nil
}

// MetricAccumulator sums metric values and element counts across batches so the
// epoch metric is the total error divided by the total count.
type MetricAccumulator struct {
	total float64
	count int
}

// Add records one batch computed with Sum reduction.
func (a *MetricAccumulator) Add(value float64, count int) {
	a.total += value
	a.count += count
}

// Value returns total / count, or 0 before anything valid was added.
func (a *MetricAccumulator) Value() float64 {
	if a.count == 0 {
		return 0
	}
	return a.total / float64(a.count)
}

// Total returns the summed error.
func (a *MetricAccumulator) Total() float64 {
	return a.total
}

// Count returns the number of contributing elements.
func (a *MetricAccumulator) Count() int {
	return a.count
}

// Reset clears the accumulator for a new epoch.
func (a *MetricAccumulator) Reset() {
	a.total = 0
	a.count = 0
}
