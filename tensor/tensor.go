package tensor

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when the shapes or lengths of operands disagree.
var ErrShapeMismatch = errors.New("shape mismatch")

// Operation is a node in the autodiff graph. Backward receives the gradient of the
// output and returns one gradient per input (nil for inputs that need none).
type Operation interface {
	Backward(gradOut []float64) [][]float64
}

// Tensor is a dense row-major float64 matrix that can take part in reverse-mode
// automatic differentiation. All tensors are two dimensional: Shape is [rows, cols].
type Tensor struct {
	Shape []int
	Data  []float64

	requiresGrad bool
	grad         []float64
	creator      Operation
	inputs       []*Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d, requiresGrad=%t)", t.Shape, len(t.Data), t.requiresGrad)
}

// Rows returns the number of rows.
func (t *Tensor) Rows() int {
	return t.Shape[0]
}

// Cols returns the number of columns.
func (t *Tensor) Cols() int {
	return t.Shape[1]
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int {
	return len(t.Data)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed.
func (t *Tensor) Grad() []float64 {
	return t.grad
}

// SetGrad replaces the accumulated gradient with a copy of g.
func (t *Tensor) SetGrad(g []float64) error {
	if len(g) != len(t.Data) {
		return errors.Wrapf(ErrShapeMismatch, "gradient of %d values for tensor %v", len(g), t.Shape)
	}
	t.grad = append(t.grad[:0], g...)
	return nil
}

// At returns the element at row i, column j.
func (t *Tensor) At(i, j int) float64 {
	return t.Data[i*t.Shape[1]+j]
}

// Set stores v at row i, column j.
func (t *Tensor) Set(i, j int, v float64) {
	t.Data[i*t.Shape[1]+j] = v
}

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float64 {
	c := t.Shape[1]
	return t.Data[i*c : (i+1)*c]
}

// Item returns the single value of a 1x1 tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.Data) != 1 {
		return 0, errors.Wrapf(ErrShapeMismatch, "item requires a single element, tensor has %d", len(t.Data))
	}
	return t.Data[0], nil
}

// Clone returns a detached deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: []int{t.Shape[0], t.Shape[1]}, Data: data}
}

// Detach returns a tensor sharing t's data but cut from the autodiff graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{Shape: []int{t.Shape[0], t.Shape[1]}, Data: t.Data}
}

// dense wraps the data in a gonum matrix without copying. Callers must guard
// against zero-sized shapes, which gonum rejects.
func (t *Tensor) dense() *mat.Dense {
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data)
}

func (t *Tensor) empty() bool {
	return t.Shape[0] == 0 || t.Shape[1] == 0
}

func (t *Tensor) accumulateGrad(g []float64) {
	if t.grad == nil {
		t.grad = make([]float64, len(t.Data))
	}
	for i, v := range g {
		t.grad[i] += v
	}
}

// ZeroGrad clears the gradients of the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		for i := range t.grad {
			t.grad[i] = 0
		}
	}
}

func sameShape(a, b *Tensor) bool {
	return a.Shape[0] == b.Shape[0] && a.Shape[1] == b.Shape[1]
}
