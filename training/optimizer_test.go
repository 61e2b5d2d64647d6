package training

import (
	"math"
	"testing"

	"github.com/molgat/molgat/tensor"
)

func newParam(t *testing.T, values ...float64) *tensor.Tensor {
	t.Helper()
	p, err := tensor.New(1, len(values), values)
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	p.SetRequiresGrad(true)
	return p
}

func setGrad(t *testing.T, p *tensor.Tensor, g ...float64) {
	t.Helper()
	if err := p.SetGrad(g); err != nil {
		t.Fatalf("SetGrad failed: %v", err)
	}
}

func assertClose(t *testing.T, label string, got, want []float64) {
	t.Helper()
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-7 {
			t.Errorf("%s[%d]: expected %v, got %v", label, i, want[i], got[i])
		}
	}
}

func TestSGDStep(t *testing.T) {
	tests := []struct {
		name        string
		momentum    float64
		weightDecay float64
		nesterov    bool
		want        [][]float64 // parameter after each of two steps
	}{
		{"plain", 0, 0, false, [][]float64{{0.9, 1.8}, {0.8, 1.6}}},
		{"weight decay", 0, 0.5, false, [][]float64{{0.85, 1.7}, {0.7075, 1.415}}},
		{"momentum", 0.9, 0, false, [][]float64{{0.9, 1.8}, {0.71, 1.42}}},
		{"nesterov", 0.9, 0, true, [][]float64{{0.81, 1.62}, {0.539, 1.078}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParam(t, 1, 2)
			opt := NewSGD([]*tensor.Tensor{p}, 0.1, tt.momentum, tt.weightDecay, 0, tt.nesterov)
			for _, want := range tt.want {
				setGrad(t, p, 1, 2)
				if err := opt.Step(); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
				assertClose(t, tt.name, p.Data, want)
			}
		})
	}
}

func TestSGDSkipsFrozenParameters(t *testing.T) {
	frozen := newParam(t, 1)
	frozen.SetRequiresGrad(false)
	noGrad := newParam(t, 1)

	opt := NewSGD([]*tensor.Tensor{frozen, noGrad}, 0.1, 0, 0, 0, false)
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if frozen.Data[0] != 1 || noGrad.Data[0] != 1 {
		t.Errorf("Expected parameters without gradients to stay 1, got %v and %v", frozen.Data[0], noGrad.Data[0])
	}
}

func TestAdamStep(t *testing.T) {
	p := newParam(t, 1, -1)
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	opt := NewAdam([]*tensor.Tensor{p}, cfg)

	// With bias correction the first step moves every weight by lr against the gradient sign.
	setGrad(t, p, 0.5, -4)
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	assertClose(t, "adam", p.Data, []float64{0.9, -0.9})

	if opt.GetLR() != 0.1 {
		t.Errorf("Expected LR 0.1, got %v", opt.GetLR())
	}
	opt.SetLR(0.01)
	if opt.GetLR() != 0.01 {
		t.Errorf("Expected LR 0.01, got %v", opt.GetLR())
	}

	opt.ZeroGrad()
	for i, g := range p.Grad() {
		if g != 0 {
			t.Errorf("Grad %d: expected 0 after ZeroGrad, got %v", i, g)
		}
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	build := map[string]func(p *tensor.Tensor) Optimizer{
		"sgd": func(p *tensor.Tensor) Optimizer {
			return NewSGD([]*tensor.Tensor{p}, 0.1, 0.9, 0, 0, false)
		},
		"adam": func(p *tensor.Tensor) Optimizer {
			cfg := DefaultAdamConfig()
			cfg.LearningRate = 0.05
			return NewAdam([]*tensor.Tensor{p}, cfg)
		},
	}

	for name, newOpt := range build {
		t.Run(name, func(t *testing.T) {
			p := newParam(t, 1, 2, 3)
			opt := newOpt(p)
			for i := 0; i < 3; i++ {
				setGrad(t, p, 0.3, -0.2, 0.1)
				if err := opt.Step(); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
			}
			opt.SetLR(0.02)
			state := opt.StateDict()

			q := newParam(t, append([]float64(nil), p.Data...)...)
			restored := newOpt(q)
			if err := restored.LoadStateDict(state); err != nil {
				t.Fatalf("LoadStateDict failed: %v", err)
			}
			if restored.GetLR() != 0.02 {
				t.Errorf("Expected restored LR 0.02, got %v", restored.GetLR())
			}

			// The next step must match exactly when moments were restored.
			setGrad(t, p, 0.3, -0.2, 0.1)
			setGrad(t, q, 0.3, -0.2, 0.1)
			if err := opt.Step(); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			if err := restored.Step(); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			assertClose(t, name, q.Data, p.Data)
		})
	}
}

func TestOptimizerLoadRejectsWrongShape(t *testing.T) {
	opt := NewAdam([]*tensor.Tensor{newParam(t, 1, 2)}, DefaultAdamConfig())
	other := NewAdam([]*tensor.Tensor{newParam(t, 1, 2, 3)}, DefaultAdamConfig())
	if err := other.LoadStateDict(opt.StateDict()); err == nil {
		t.Errorf("Expected error loading moments of a different size")
	}
}
