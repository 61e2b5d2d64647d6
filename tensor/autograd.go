package tensor

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var gradEnabled = true

// NoGrad runs fn with graph recording disabled. Tensors produced inside fn never
// require gradients, so evaluation passes build no backward graph.
func NoGrad(fn func() error) error {
	prev := gradEnabled
	gradEnabled = false
	defer func() { gradEnabled = prev }()
	return fn()
}

// IsGradEnabled reports whether operations currently record the autodiff graph.
func IsGradEnabled() bool {
	return gradEnabled
}

// record attaches op as the creator of out when any input requires gradients.
func record(out *Tensor, op Operation, inputs ...*Tensor) *Tensor {
	if !gradEnabled {
		return out
	}
	for _, in := range inputs {
		if in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			out.inputs = inputs
			break
		}
	}
	return out
}

// Backward computes gradients of the scalar t with respect to every tensor in its
// graph that requires gradients. Leaf gradients accumulate until ZeroGrad.
func (t *Tensor) Backward() error {
	if len(t.Data) != 1 {
		return errors.Wrapf(ErrShapeMismatch, "backward requires a scalar, got shape %v", t.Shape)
	}
	if !t.requiresGrad {
		return errors.New("backward called on a tensor that does not require gradients")
	}

	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, in := range n.inputs {
			visit(in)
		}
		order = append(order, n)
	}
	visit(t)

	t.grad = []float64{1}
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.creator == nil || n.grad == nil {
			continue
		}
		grads := n.creator.Backward(n.grad)
		for j, in := range n.inputs {
			if j >= len(grads) || grads[j] == nil || !in.requiresGrad {
				continue
			}
			in.accumulateGrad(grads[j])
		}
		// intermediate results are not reused, drop their graph
		if n != t {
			n.grad = nil
		}
		n.creator = nil
		n.inputs = nil
	}
	return nil
}

type matMulOp struct{ a, b *Tensor }

// MatMul returns a x b for a [m x k] and b [k x n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Cols() != b.Rows() {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul %v x %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Rows(), b.Cols())
	if !a.empty() && !b.empty() {
		out.dense().Mul(a.dense(), b.dense())
	}
	return record(out, &matMulOp{a, b}, a, b), nil
}

func (op *matMulOp) Backward(g []float64) [][]float64 {
	m, k, n := op.a.Rows(), op.a.Cols(), op.b.Cols()
	ga := make([]float64, m*k)
	gb := make([]float64, k*n)
	if m == 0 || k == 0 || n == 0 {
		return [][]float64{ga, gb}
	}
	gd := mat.NewDense(m, n, g)
	if op.a.requiresGrad {
		mat.NewDense(m, k, ga).Mul(gd, op.b.dense().T())
	}
	if op.b.requiresGrad {
		mat.NewDense(k, n, gb).Mul(op.a.dense().T(), gd)
	}
	return [][]float64{ga, gb}
}

type addOp struct{}

// Add returns the elementwise sum of two tensors of the same shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if !sameShape(a, b) {
		return nil, errors.Wrapf(ErrShapeMismatch, "add %v + %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Rows(), a.Cols())
	floats.AddTo(out.Data, a.Data, b.Data)
	return record(out, addOp{}, a, b), nil
}

func (addOp) Backward(g []float64) [][]float64 {
	return [][]float64{g, g}
}

type addRowOp struct{ rows, cols int }

// AddRow adds the [1 x n] row vector bias to every row of a [m x n].
func AddRow(a, bias *Tensor) (*Tensor, error) {
	if bias.Rows() != 1 || bias.Cols() != a.Cols() {
		return nil, errors.Wrapf(ErrShapeMismatch, "add row %v to %v", bias.Shape, a.Shape)
	}
	out := a.Clone()
	for i := 0; i < a.Rows(); i++ {
		floats.Add(out.Row(i), bias.Data)
	}
	return record(out, &addRowOp{a.Rows(), a.Cols()}, a, bias), nil
}

func (op *addRowOp) Backward(g []float64) [][]float64 {
	gb := make([]float64, op.cols)
	for i := 0; i < op.rows; i++ {
		floats.Add(gb, g[i*op.cols:(i+1)*op.cols])
	}
	return [][]float64{g, gb}
}

type mulOp struct{ a, b *Tensor }

// Mul returns the elementwise product of two tensors of the same shape.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !sameShape(a, b) {
		return nil, errors.Wrapf(ErrShapeMismatch, "mul %v * %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Rows(), a.Cols())
	floats.MulTo(out.Data, a.Data, b.Data)
	return record(out, &mulOp{a, b}, a, b), nil
}

func (op *mulOp) Backward(g []float64) [][]float64 {
	ga := make([]float64, len(g))
	gb := make([]float64, len(g))
	floats.MulTo(ga, g, op.b.Data)
	floats.MulTo(gb, g, op.a.Data)
	return [][]float64{ga, gb}
}

type scaleOp struct{ s float64 }

// Scale multiplies every element by s.
func Scale(a *Tensor, s float64) *Tensor {
	out := a.Clone()
	floats.Scale(s, out.Data)
	return record(out, scaleOp{s}, a)
}

func (op scaleOp) Backward(g []float64) [][]float64 {
	ga := make([]float64, len(g))
	floats.ScaleTo(ga, op.s, g)
	return [][]float64{ga}
}

// pointwiseOp backs activations whose derivative depends only on the input value.
type pointwiseOp struct {
	in    *Tensor
	deriv func(x float64) float64
}

func (op *pointwiseOp) Backward(g []float64) [][]float64 {
	ga := make([]float64, len(g))
	for i, x := range op.in.Data {
		ga[i] = g[i] * op.deriv(x)
	}
	return [][]float64{ga}
}

func pointwise(a *Tensor, f, deriv func(float64) float64) *Tensor {
	out := Zeros(a.Rows(), a.Cols())
	for i, x := range a.Data {
		out.Data[i] = f(x)
	}
	return record(out, &pointwiseOp{in: a, deriv: deriv}, a)
}

// ReLU applies max(0, x).
func ReLU(a *Tensor) *Tensor {
	return pointwise(a,
		func(x float64) float64 { return math.Max(0, x) },
		func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// LeakyReLU applies x for x > 0 and slope*x otherwise.
func LeakyReLU(a *Tensor, slope float64) *Tensor {
	return pointwise(a,
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return slope
		})
}

// ELU applies x for x > 0 and exp(x)-1 otherwise.
func ELU(a *Tensor) *Tensor {
	return pointwise(a,
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Expm1(x)
		},
		func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return math.Exp(x)
		})
}

type concatColsOp struct{ widths []int }

// ConcatCols joins tensors with the same number of rows side by side.
func ConcatCols(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("concat requires at least one tensor")
	}
	rows := ts[0].Rows()
	cols := 0
	widths := make([]int, len(ts))
	for i, t := range ts {
		if t.Rows() != rows {
			return nil, errors.Wrapf(ErrShapeMismatch, "concat cols: tensor %d has %d rows, expected %d", i, t.Rows(), rows)
		}
		widths[i] = t.Cols()
		cols += t.Cols()
	}
	out := Zeros(rows, cols)
	for r := 0; r < rows; r++ {
		off := r * cols
		for _, t := range ts {
			copy(out.Data[off:], t.Row(r))
			off += t.Cols()
		}
	}
	return record(out, &concatColsOp{widths}, ts...), nil
}

func (op *concatColsOp) Backward(g []float64) [][]float64 {
	cols := 0
	for _, w := range op.widths {
		cols += w
	}
	rows := 0
	if cols > 0 {
		rows = len(g) / cols
	}
	grads := make([][]float64, len(op.widths))
	start := 0
	for i, w := range op.widths {
		gi := make([]float64, rows*w)
		for r := 0; r < rows; r++ {
			copy(gi[r*w:(r+1)*w], g[r*cols+start:r*cols+start+w])
		}
		grads[i] = gi
		start += w
	}
	return grads
}

type concatRowsOp struct{ sizes []int }

// ConcatRows stacks tensors with the same number of columns on top of each other.
func ConcatRows(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("concat requires at least one tensor")
	}
	cols := ts[0].Cols()
	rows := 0
	sizes := make([]int, len(ts))
	for i, t := range ts {
		if t.Cols() != cols {
			return nil, errors.Wrapf(ErrShapeMismatch, "concat rows: tensor %d has %d cols, expected %d", i, t.Cols(), cols)
		}
		sizes[i] = t.Numel()
		rows += t.Rows()
	}
	out := Zeros(rows, cols)
	off := 0
	for _, t := range ts {
		copy(out.Data[off:], t.Data)
		off += t.Numel()
	}
	return record(out, &concatRowsOp{sizes}, ts...), nil
}

func (op *concatRowsOp) Backward(g []float64) [][]float64 {
	parts, _ := SplitBySize(g, op.sizes)
	return parts
}

type maskedMSEOp struct {
	pred   *Tensor
	target []float64
	mask   []bool
	count  int
}

// MaskedMSE returns the mean squared error between pred and target over the
// positions where mask is true. A nil mask selects every position. With no valid
// position the loss is zero.
func MaskedMSE(pred *Tensor, target []float64, mask []bool) (*Tensor, error) {
	if len(target) != pred.Numel() {
		return nil, errors.Wrapf(ErrShapeMismatch, "mse: %d predictions, %d targets", pred.Numel(), len(target))
	}
	if mask != nil && len(mask) != pred.Numel() {
		return nil, errors.Wrapf(ErrShapeMismatch, "mse: %d predictions, %d mask entries", pred.Numel(), len(mask))
	}
	var sum float64
	count := 0
	for i, p := range pred.Data {
		if mask != nil && !mask[i] {
			continue
		}
		d := p - target[i]
		sum += d * d
		count++
	}
	out := Zeros(1, 1)
	if count > 0 {
		out.Data[0] = sum / float64(count)
	}
	return record(out, &maskedMSEOp{pred: pred, target: target, mask: mask, count: count}, pred), nil
}

func (op *maskedMSEOp) Backward(g []float64) [][]float64 {
	gp := make([]float64, op.pred.Numel())
	if op.count == 0 {
		return [][]float64{gp}
	}
	c := 2 * g[0] / float64(op.count)
	for i, p := range op.pred.Data {
		if op.mask != nil && !op.mask[i] {
			continue
		}
		gp[i] = c * (p - op.target[i])
	}
	return [][]float64{gp}
}
