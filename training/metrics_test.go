package training

import (
	"errors"
	"math"
	"testing"
)

func TestErrorMetricCompute(t *testing.T) {
	pred := []float64{1, 2, 3, 4}
	target := []float64{0, 2, 5, 3}

	tests := []struct {
		name      string
		metric    ErrorMetric
		scale     []float64
		mask      []bool
		wantValue float64
		wantCount int
	}{
		{"l1 sum", NewMAE(), nil, nil, 4, 4},
		{"l1 mean", ErrorMetric{L1, Mean}, nil, nil, 1, 4},
		{"l2 sum", ErrorMetric{L2, Sum}, nil, nil, 6, 4},
		{"elementwise scale", NewMAE(), []float64{2, 2, 0.5, 1}, nil, 4, 4},
		{"row scale", NewMAE(), []float64{10, 1}, nil, 13, 4},
		{"mask", NewMAE(), nil, []bool{true, false, false, true}, 2, 2},
		{"mask and scale", NewMAE(), []float64{3, 3, 3, 3}, []bool{false, false, true, false}, 6, 1},
		{"mean with nothing valid", ErrorMetric{L1, Mean}, nil, []bool{false, false, false, false}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, count, err := tt.metric.Compute(pred, target, tt.scale, tt.mask)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if math.Abs(value-tt.wantValue) > 1e-12 {
				t.Errorf("Expected value %v, got %v", tt.wantValue, value)
			}
			if count != tt.wantCount {
				t.Errorf("Expected count %d, got %d", tt.wantCount, count)
			}
		})
	}
}

func TestErrorMetricShapeMismatch(t *testing.T) {
	m := NewMAE()
	tests := []struct {
		name   string
		target []float64
		scale  []float64
		mask   []bool
	}{
		{"target", []float64{1, 2}, nil, nil},
		{"mask", []float64{1, 2, 3}, nil, []bool{true}},
		{"scale", []float64{1, 2, 3}, []float64{1, 2}, nil},
	}
	for _, tt := range tests {
		_, _, err := m.Compute([]float64{1, 2, 3}, tt.target, tt.scale, tt.mask)
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%s: expected ErrShapeMismatch, got %v", tt.name, err)
		}
	}
}

func TestErrorMetricNaNPrediction(t *testing.T) {
	value, count, err := NewMAE().Compute([]float64{math.NaN(), 1}, []float64{0, 1}, nil, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !math.IsNaN(value) || count != 2 {
		t.Errorf("Expected NaN over 2 elements, got %v over %d", value, count)
	}
}

// Summing per-batch values equals computing over the concatenation.
func TestMetricSumAdditivity(t *testing.T) {
	pred := []float64{0.5, -1, 2, 3, 0, 7}
	target := []float64{1, 1, 1, 1, 1, 1}
	scale := []float64{1, 2, 3, 4, 5, 6}
	mask := []bool{true, false, true, true, false, true}

	for _, masked := range []bool{false, true} {
		var m []bool
		if masked {
			m = mask
		}
		whole, wholeCount, err := NewMAE().Compute(pred, target, scale, m)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}

		var acc MetricAccumulator
		for _, r := range [][2]int{{0, 2}, {2, 5}, {5, 6}} {
			var bm []bool
			if masked {
				bm = mask[r[0]:r[1]]
			}
			v, c, err := NewMAE().Compute(pred[r[0]:r[1]], target[r[0]:r[1]], scale[r[0]:r[1]], bm)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			acc.Add(v, c)
		}

		if math.Abs(acc.Total()-whole) > 1e-12 {
			t.Errorf("masked=%t: expected total %v, got %v", masked, whole, acc.Total())
		}
		if acc.Count() != wholeCount {
			t.Errorf("masked=%t: expected count %d, got %d", masked, wholeCount, acc.Count())
		}
		if math.Abs(acc.Value()-whole/float64(wholeCount)) > 1e-12 {
			t.Errorf("masked=%t: expected value %v, got %v", masked, whole/float64(wholeCount), acc.Value())
		}
	}
}

func TestComputePerColumn(t *testing.T) {
	pred := []float64{1, 10, 2, 20}
	target := []float64{0, 0, 0, 0}

	values, counts, err := ErrorMetric{L1, Mean}.ComputePerColumn(pred, target, nil, []bool{true, true, false, true}, 2)
	if err != nil {
		t.Fatalf("ComputePerColumn failed: %v", err)
	}
	if values[0] != 1 || values[1] != 15 {
		t.Errorf("Expected [1 15], got %v", values)
	}
	if counts[0] != 1 || counts[1] != 2 {
		t.Errorf("Expected counts [1 2], got %v", counts)
	}

	if _, _, err := NewMAE().ComputePerColumn(pred, target, nil, nil, 3); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestMetricAccumulator(t *testing.T) {
	var acc MetricAccumulator
	if acc.Value() != 0 {
		t.Errorf("Expected 0 for an empty accumulator, got %v", acc.Value())
	}
	acc.Add(3, 2)
	acc.Add(5, 2)
	if acc.Value() != 2 {
		t.Errorf("Expected 2, got %v", acc.Value())
	}
	acc.Reset()
	if acc.Count() != 0 || acc.Total() != 0 {
		t.Errorf("Expected reset accumulator, got total %v count %d", acc.Total(), acc.Count())
	}
}

func TestMetricStrings(t *testing.T) {
	if s := NewMAE().String(); s != "L1(sum)" {
		t.Errorf("Expected L1(sum), got %s", s)
	}
	if s := (ErrorMetric{L2, Mean}).String(); s != "L2(mean)" {
		t.Errorf("Expected L2(mean), got %s", s)
	}
}
