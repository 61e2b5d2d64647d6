package training

import (
	"math"
	"testing"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/tensor"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1
	
	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},      // Initial
		{1, 0.1},      // No change yet
		{2, 0.01},     // First reduction
		{3, 0.01},     // Same
		{4, 0.001},    // Second reduction
		{5, 0.001},    // Same
		{6, 0.0001},   // Third reduction
	}
	
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestExponentialLRScheduler(t *testing.T) {
	scheduler := NewExponentialLRScheduler(0.9)
	baseLR := 0.1
	
	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},        // Initial
		{1, 0.09},       // 0.1 * 0.9
		{2, 0.081},      // 0.1 * 0.9^2
		{3, 0.0729},     // 0.1 * 0.9^3
		{4, 0.06561},    // 0.1 * 0.9^4
		{5, 0.059049},   // 0.1 * 0.9^5
	}
	
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01
	
	// Test specific points in the cosine curve
	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},      // Initial (max)
		{5, 0.0001, 1e-6},    // Final (min)
		{2, 0.006580, 1e-6}, // Midpoint calculation
	}
	
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
	
	// Test beyond TMax
	lr := scheduler.GetLR(10, 0, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestReduceLROnPlateauScheduler(t *testing.T) {
	scheduler := NewReduceLROnPlateauScheduler(0.5, 2, 0.01, Minimize)

	tests := []struct {
		metric     float64
		expectedLR float64
	}{
		{1.0, 0.1},   // Initial
		{0.98, 0.1},  // Improvement beyond the relative threshold
		{0.99, 0.1},  // Bad epoch 1
		{0.975, 0.1}, // Within threshold of 0.98, bad epoch 2
		{0.99, 0.05}, // Bad epoch 3 exceeds patience
		{0.99, 0.05}, // Counter was reset
	}

	currentLR := 0.1
	for i, tt := range tests {
		currentLR = scheduler.Step(tt.metric, currentLR)
		if math.Abs(currentLR-tt.expectedLR) > 1e-12 {
			t.Errorf("Step %d: expected LR %f, got %f", i, tt.expectedLR, currentLR)
		}
	}
}

func TestReduceLROnPlateauMinLR(t *testing.T) {
	scheduler := NewReduceLROnPlateauScheduler(0.1, 0, 0, Maximize)
	scheduler.MinLR = 0.005

	lr := scheduler.Step(1.0, 0.1)
	lr = scheduler.Step(0.5, lr)
	if math.Abs(lr-0.01) > 1e-12 {
		t.Errorf("Expected LR 0.01, got %f", lr)
	}
	lr = scheduler.Step(0.5, lr)
	if lr != 0.005 {
		t.Errorf("Expected LR clamped to 0.005, got %f", lr)
	}
}

func TestSchedulerDriver(t *testing.T) {
	param := tensor.Full(1, 1, 1)
	param.SetRequiresGrad(true)

	t.Run("epoch based", func(t *testing.T) {
		opt := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0, 0, false)
		s := NewScheduler(NewStepLRScheduler(2, 0.5), opt)
		expected := []float64{0.1, 0.05, 0.05, 0.025}
		for i, want := range expected {
			s.Step(0)
			if math.Abs(opt.GetLR()-want) > 1e-12 {
				t.Errorf("Epoch %d: expected LR %f, got %f", i+1, want, opt.GetLR())
			}
		}
		if s.Epoch() != 4 {
			t.Errorf("Expected epoch 4, got %d", s.Epoch())
		}
	})

	t.Run("metric based", func(t *testing.T) {
		opt := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0, 0, false)
		s := NewScheduler(NewReduceLROnPlateauScheduler(0.5, 0, 0, Minimize), opt)
		s.Step(1.0)
		s.Step(2.0)
		if math.Abs(opt.GetLR()-0.05) > 1e-12 {
			t.Errorf("Expected LR 0.05, got %f", opt.GetLR())
		}
	})
}

func TestSchedulerStateRoundTrip(t *testing.T) {
	param := tensor.Full(1, 1, 1)
	opt := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0, 0, false)
	s := NewScheduler(NewReduceLROnPlateauScheduler(0.5, 1, 0, Minimize), opt)
	for _, m := range []float64{1.0, 0.5, 0.7} {
		s.Step(m)
	}
	state := s.StateDict()

	restoredOpt := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0, 0, false)
	restored := NewScheduler(NewReduceLROnPlateauScheduler(0.5, 1, 0, Minimize), restoredOpt)
	if err := restored.LoadStateDict(state); err != nil {
		t.Fatalf("LoadStateDict failed: %v", err)
	}
	if restored.Epoch() != 3 {
		t.Errorf("Expected epoch 3, got %d", restored.Epoch())
	}

	// One more bad epoch reduces both, proving bad_epochs survived the round trip.
	s.Step(0.7)
	restored.Step(0.7)
	if opt.GetLR() != restoredOpt.GetLR() {
		t.Errorf("Expected restored scheduler to follow the original, got %f vs %f", restoredOpt.GetLR(), opt.GetLR())
	}
	if math.Abs(opt.GetLR()-0.05) > 1e-12 {
		t.Errorf("Expected LR 0.05, got %f", opt.GetLR())
	}

	if err := restored.LoadStateDict(checkpoints.NewState()); err == nil {
		t.Errorf("Expected error for an empty state")
	}
}

func TestNewLRScheduler(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{"plateau", "ReduceLROnPlateau", false},
		{"step", "StepLR", false},
		{"exponential", "ExponentialLR", false},
		{"cosine", "CosineAnnealingLR", false},
		{"constant", "ConstantLR", false},
		{"", "ConstantLR", false},
		{"cyclic", "", true},
	}

	for _, tt := range tests {
		s, err := NewLRScheduler(tt.name, 0.5, 3, 10, Minimize)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.name, err)
			continue
		}
		if s.GetName() != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.name, tt.expected, s.GetName())
		}
	}
}

func TestSchedulerNames(t *testing.T) {
	tests := []struct {
		scheduler LRScheduler
		expected  string
	}{
		{NewStepLRScheduler(10, 0.1), "StepLR"},
		{NewExponentialLRScheduler(0.95), "ExponentialLR"},
		{NewCosineAnnealingLRScheduler(100, 0.0), "CosineAnnealingLR"},
		{NewReduceLROnPlateauScheduler(0.1, 10, 0.001, Minimize), "ReduceLROnPlateau"},
		{&NoOpScheduler{}, "ConstantLR"},
	}
	
	for _, tt := range tests {
		name := tt.scheduler.GetName()
		if name != tt.expected {
			t.Errorf("Expected name %s, got %s", tt.expected, name)
		}
	}
}