package training

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/tensor"
)

// Optimizer updates parameters from their accumulated gradients. Its moments and
// learning rate are checkpointed with the model.
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
	checkpoints.Stateful
}

// SGD implements Stochastic Gradient Descent with optional momentum.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   [][]float64
	started      bool
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*tensor.Tensor, lr float64, momentum float64, weightDecay float64, dampening float64, nesterov bool) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
		velocities:   make([][]float64, len(parameters)),
	}
	for i, p := range parameters {
		sgd.velocities[i] = make([]float64, p.Numel())
	}
	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		grad := param.Grad()
		velocity := sgd.velocities[i]
		for j := range param.Data {
			g := grad[j] + sgd.weightDecay*param.Data[j]
			if sgd.momentum > 0 {
				// the first step seeds the velocity with the raw gradient
				if sgd.started {
					velocity[j] = sgd.momentum*velocity[j] + (1-sgd.dampening)*g
				} else {
					velocity[j] = g
				}
				if sgd.nesterov {
					g += sgd.momentum * velocity[j]
				} else {
					g = velocity[j]
				}
			}
			param.Data[j] -= sgd.learningRate * g
		}
	}
	sgd.started = true
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.learningRate = lr
}

// StateDict captures the learning rate and momentum buffers.
func (sgd *SGD) StateDict() checkpoints.State {
	s := checkpoints.NewState()
	s.Scalars["lr"] = sgd.learningRate
	s.Scalars["started"] = boolScalar(sgd.started)
	for i, v := range sgd.velocities {
		s.Tensors[fmt.Sprintf("param.%d.velocity", i)] = bufferState(sgd.parameters[i], v)
	}
	return s
}

// LoadStateDict restores a state captured by StateDict.
func (sgd *SGD) LoadStateDict(s checkpoints.State) error {
	lr, err := s.Scalar("lr")
	if err != nil {
		return errors.Wrap(err, "sgd state")
	}
	started, err := s.Scalar("started")
	if err != nil {
		return errors.Wrap(err, "sgd state")
	}
	buffers, err := loadBuffers(s, sgd.parameters, "velocity")
	if err != nil {
		return errors.Wrap(err, "sgd state")
	}
	sgd.learningRate = lr
	sgd.started = started != 0
	sgd.velocities = buffers
	return nil
}

// Adam implements the Adam optimizer with L2 weight decay.
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           [][]float64 // First moment estimates
	v           [][]float64 // Second moment estimates
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns the usual Adam settings.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, cfg AdamConfig) *Adam {
	adam := &Adam{
		parameters:  parameters,
		lr:          cfg.LearningRate,
		beta1:       cfg.Beta1,
		beta2:       cfg.Beta2,
		eps:         cfg.Epsilon,
		weightDecay: cfg.WeightDecay,
		m:           make([][]float64, len(parameters)),
		v:           make([][]float64, len(parameters)),
	}
	for i, p := range parameters {
		adam.m[i] = make([]float64, p.Numel())
		adam.v[i] = make([]float64, p.Numel())
	}
	return adam
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		grad := param.Grad()
		m, v := adam.m[i], adam.v[i]
		for j := range param.Data {
			g := grad[j] + adam.weightDecay*param.Data[j]
			m[j] = adam.beta1*m[j] + (1-adam.beta1)*g
			v[j] = adam.beta2*v[j] + (1-adam.beta2)*g*g
			mHat := m[j] / bias1
			vHat := v[j] / bias2
			param.Data[j] -= adam.lr * mHat / (math.Sqrt(vHat) + adam.eps)
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.lr = lr
}

// StateDict captures the learning rate, step count and moment estimates.
func (adam *Adam) StateDict() checkpoints.State {
	s := checkpoints.NewState()
	s.Scalars["lr"] = adam.lr
	s.Scalars["step"] = float64(adam.step)
	for i := range adam.parameters {
		s.Tensors[fmt.Sprintf("param.%d.m", i)] = bufferState(adam.parameters[i], adam.m[i])
		s.Tensors[fmt.Sprintf("param.%d.v", i)] = bufferState(adam.parameters[i], adam.v[i])
	}
	return s
}

// LoadStateDict restores a state captured by StateDict.
func (adam *Adam) LoadStateDict(s checkpoints.State) error {
	lr, err := s.Scalar("lr")
	if err != nil {
		return errors.Wrap(err, "adam state")
	}
	step, err := s.Scalar("step")
	if err != nil {
		return errors.Wrap(err, "adam state")
	}
	m, err := loadBuffers(s, adam.parameters, "m")
	if err != nil {
		return errors.Wrap(err, "adam state")
	}
	v, err := loadBuffers(s, adam.parameters, "v")
	if err != nil {
		return errors.Wrap(err, "adam state")
	}
	adam.lr = lr
	adam.step = int64(step)
	adam.m, adam.v = m, v
	return nil
}

func boolScalar(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func bufferState(param *tensor.Tensor, buf []float64) checkpoints.TensorState {
	return checkpoints.TensorState{
		Shape: append([]int(nil), param.Shape...),
		Data:  append([]float64(nil), buf...),
	}
}

func loadBuffers(s checkpoints.State, params []*tensor.Tensor, kind string) ([][]float64, error) {
	out := make([][]float64, len(params))
	for i, p := range params {
		ts, err := s.Tensor(fmt.Sprintf("param.%d.%s", i, kind), p.Numel())
		if err != nil {
			return nil, err
		}
		out[i] = append([]float64(nil), ts.Data...)
	}
	return out, nil
}
