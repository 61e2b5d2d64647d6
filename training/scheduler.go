package training

import (
	"math"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Epoch based schedules are pure functions of the epoch; metric driven ones keep
// their own state and also implement MetricScheduler.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// MetricScheduler adjusts the learning rate from a validation metric.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
	checkpoints.Stateful
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30 // Default: reduce every 30 epochs
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	// Calculate how many times to apply gamma
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95 // Default: 5% reduction per epoch
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100 // Default: 100 epochs
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving.
// A metric improves when it beats the best so far by the relative Threshold.
// Once more than Patience epochs pass without improvement the rate is multiplied
// by Factor, never going below MinLR.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Number of epochs with no improvement tolerated before reducing
	Threshold float64 // Relative threshold for measuring the new optimum
	Mode      Mode
	MinLR     float64

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode Mode) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience < 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

func (s *ReduceLROnPlateauScheduler) improved(metric float64) bool {
	if s.Mode == Maximize {
		return metric > s.bestMetric*(1+s.Threshold)
	}
	return metric < s.bestMetric*(1-s.Threshold)
}

// Step records the epoch's metric and returns the learning rate to use next.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}
	s.currentLR = currentLR

	if s.improved(metric) {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
	}
	if s.badEpochs > s.Patience {
		s.currentLR = math.Max(s.currentLR*s.Factor, s.MinLR)
		s.badEpochs = 0
	}
	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// StateDict captures the plateau tracking state.
func (s *ReduceLROnPlateauScheduler) StateDict() checkpoints.State {
	st := checkpoints.NewState()
	st.Scalars["best_metric"] = s.bestMetric
	st.Scalars["bad_epochs"] = float64(s.badEpochs)
	st.Scalars["current_lr"] = s.currentLR
	st.Scalars["initialized"] = boolScalar(s.initialized)
	return st
}

// LoadStateDict restores a state captured by StateDict.
func (s *ReduceLROnPlateauScheduler) LoadStateDict(st checkpoints.State) error {
	values := make(map[string]float64, 4)
	for _, name := range []string{"best_metric", "bad_epochs", "current_lr", "initialized"} {
		v, err := st.Scalar(name)
		if err != nil {
			return errors.Wrap(err, "plateau scheduler state")
		}
		values[name] = v
	}
	s.bestMetric = values["best_metric"]
	s.badEpochs = int(values["bad_epochs"])
	s.currentLR = values["current_lr"]
	s.initialized = values["initialized"] != 0
	return nil
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// NewLRScheduler builds a schedule by name: plateau, step, exponential, cosine or
// constant. factor and patience parameterize the plateau and step schedules,
// epochs the cosine one.
func NewLRScheduler(name string, factor float64, patience int, epochs int, mode Mode) (LRScheduler, error) {
	switch name {
	case "plateau":
		return NewReduceLROnPlateauScheduler(factor, patience, 1e-4, mode), nil
	case "step":
		return NewStepLRScheduler(patience, factor), nil
	case "exponential":
		return NewExponentialLRScheduler(factor), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(epochs, 0), nil
	case "constant", "":
		return &NoOpScheduler{}, nil
	default:
		return nil, errors.Errorf("unknown scheduler %q", name)
	}
}

// Scheduler drives an optimizer's learning rate with an LRScheduler, once per
// epoch. It is checkpointed alongside the optimizer.
type Scheduler struct {
	policy LRScheduler
	opt    Optimizer
	baseLR float64
	epoch  int
}

// NewScheduler binds policy to opt, taking the optimizer's current rate as base.
func NewScheduler(policy LRScheduler, opt Optimizer) *Scheduler {
	return &Scheduler{policy: policy, opt: opt, baseLR: opt.GetLR()}
}

// Step advances one epoch, given the epoch's validation metric.
func (s *Scheduler) Step(metric float64) {
	s.epoch++
	if ms, ok := s.policy.(MetricScheduler); ok {
		s.opt.SetLR(ms.Step(metric, s.opt.GetLR()))
		return
	}
	s.opt.SetLR(s.policy.GetLR(s.epoch, 0, s.baseLR))
}

// Name returns the policy name.
func (s *Scheduler) Name() string {
	return s.policy.GetName()
}

// Epoch returns the number of completed steps.
func (s *Scheduler) Epoch() int {
	return s.epoch
}

// StateDict captures the epoch count, base rate and any policy state.
func (s *Scheduler) StateDict() checkpoints.State {
	st := checkpoints.NewState()
	if ms, ok := s.policy.(MetricScheduler); ok {
		st = ms.StateDict()
	}
	st.Scalars["epoch"] = float64(s.epoch)
	st.Scalars["base_lr"] = s.baseLR
	return st
}

// LoadStateDict restores a state captured by StateDict.
func (s *Scheduler) LoadStateDict(st checkpoints.State) error {
	epoch, err := st.Scalar("epoch")
	if err != nil {
		return errors.Wrap(err, "scheduler state")
	}
	baseLR, err := st.Scalar("base_lr")
	if err != nil {
		return errors.Wrap(err, "scheduler state")
	}
	if ms, ok := s.policy.(MetricScheduler); ok {
		if err := ms.LoadStateDict(st); err != nil {
			return err
		}
	}
	s.epoch = int(epoch)
	s.baseLR = baseLR
	return nil
}
