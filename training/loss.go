package training

import (
	"github.com/molgat/molgat/tensor"
)

// Loss maps predictions and standardized targets to a scalar to minimize.
// Positions where mask is false are ignored; a nil mask keeps all of them.
type Loss interface {
	Forward(predicted *tensor.Tensor, target []float64, mask []bool) (*tensor.Tensor, error)
}

// MSELoss implements the mean squared error over valid positions.
type MSELoss struct{}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss() *MSELoss {
	return &MSELoss{}
}

// Forward computes L = (1/N) * sum((y_pred - y_true)^2) over the N valid positions.
func (mse *MSELoss) Forward(predicted *tensor.Tensor, target []float64, mask []bool) (*tensor.Tensor, error) {
	return tensor.MaskedMSE(predicted, target, mask)
}
