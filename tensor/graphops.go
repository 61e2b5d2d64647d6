package tensor

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Operations used by message passing over graphs. Edges are described by index
// slices: Gather pulls source rows onto edges, the Segment* family reduces edge
// rows onto destination nodes.

type gatherOp struct {
	src *Tensor
	idx []int
}

// Gather returns the rows of a selected by idx, in order. Indices may repeat.
func Gather(a *Tensor, idx []int) (*Tensor, error) {
	cols := a.Cols()
	out := Zeros(len(idx), cols)
	for i, r := range idx {
		if r < 0 || r >= a.Rows() {
			return nil, errors.Errorf("gather index %d out of range [0, %d)", r, a.Rows())
		}
		copy(out.Data[i*cols:(i+1)*cols], a.Row(r))
	}
	return record(out, &gatherOp{a, idx}, a), nil
}

func (op *gatherOp) Backward(g []float64) [][]float64 {
	cols := op.src.Cols()
	ga := make([]float64, op.src.Numel())
	for i, r := range op.idx {
		floats.Add(ga[r*cols:(r+1)*cols], g[i*cols:(i+1)*cols])
	}
	return [][]float64{ga}
}

func checkSegments(a *Tensor, seg []int, n int) error {
	if len(seg) != a.Rows() {
		return errors.Wrapf(ErrShapeMismatch, "%d segment ids for %d rows", len(seg), a.Rows())
	}
	for _, s := range seg {
		if s < 0 || s >= n {
			return errors.Errorf("segment id %d out of range [0, %d)", s, n)
		}
	}
	return nil
}

type segmentSumOp struct {
	seg  []int
	cols int
	div  []float64
}

// SegmentSum adds row i of a into output row seg[i]. The output has n rows.
func SegmentSum(a *Tensor, seg []int, n int) (*Tensor, error) {
	return segmentReduce(a, seg, n, false)
}

// SegmentMean averages the rows of a sharing a segment id. Empty segments are zero.
func SegmentMean(a *Tensor, seg []int, n int) (*Tensor, error) {
	return segmentReduce(a, seg, n, true)
}

func segmentReduce(a *Tensor, seg []int, n int, mean bool) (*Tensor, error) {
	if err := checkSegments(a, seg, n); err != nil {
		return nil, err
	}
	cols := a.Cols()
	out := Zeros(n, cols)
	for i, s := range seg {
		floats.Add(out.Row(s), a.Row(i))
	}
	var div []float64
	if mean {
		counts := make([]float64, n)
		for _, s := range seg {
			counts[s]++
		}
		div = make([]float64, n)
		for s, c := range counts {
			if c > 0 {
				div[s] = 1 / c
				floats.Scale(div[s], out.Row(s))
			}
		}
	}
	return record(out, &segmentSumOp{seg: seg, cols: cols, div: div}, a), nil
}

func (op *segmentSumOp) Backward(g []float64) [][]float64 {
	cols := op.cols
	ga := make([]float64, len(op.seg)*cols)
	for i, s := range op.seg {
		row := ga[i*cols : (i+1)*cols]
		copy(row, g[s*cols:(s+1)*cols])
		if op.div != nil {
			floats.Scale(op.div[s], row)
		}
	}
	return [][]float64{ga}
}

type segmentSoftmaxOp struct {
	out *Tensor
	seg []int
	n   int
}

// SegmentSoftmax normalizes each column of a with a softmax taken over the rows
// that share a segment id. It is the edge softmax of graph attention.
func SegmentSoftmax(a *Tensor, seg []int, n int) (*Tensor, error) {
	if err := checkSegments(a, seg, n); err != nil {
		return nil, err
	}
	cols := a.Cols()
	maxes := make([]float64, n*cols)
	for i := range maxes {
		maxes[i] = math.Inf(-1)
	}
	for i, s := range seg {
		for c := 0; c < cols; c++ {
			if v := a.Data[i*cols+c]; v > maxes[s*cols+c] {
				maxes[s*cols+c] = v
			}
		}
	}
	out := Zeros(a.Rows(), cols)
	sums := make([]float64, n*cols)
	for i, s := range seg {
		for c := 0; c < cols; c++ {
			e := math.Exp(a.Data[i*cols+c] - maxes[s*cols+c])
			out.Data[i*cols+c] = e
			sums[s*cols+c] += e
		}
	}
	for i, s := range seg {
		for c := 0; c < cols; c++ {
			out.Data[i*cols+c] /= sums[s*cols+c]
		}
	}
	return record(out, &segmentSoftmaxOp{out: out, seg: seg, n: n}, a), nil
}

func (op *segmentSoftmaxOp) Backward(g []float64) [][]float64 {
	cols := op.out.Cols()
	y := op.out.Data
	dots := make([]float64, op.n*cols)
	for i, s := range op.seg {
		for c := 0; c < cols; c++ {
			dots[s*cols+c] += g[i*cols+c] * y[i*cols+c]
		}
	}
	ga := make([]float64, len(y))
	for i, s := range op.seg {
		for c := 0; c < cols; c++ {
			k := i*cols + c
			ga[k] = y[k] * (g[k] - dots[s*cols+c])
		}
	}
	return [][]float64{ga}
}

func headWidth(a *Tensor, heads int) (int, error) {
	if heads <= 0 || a.Cols()%heads != 0 {
		return 0, errors.Wrapf(ErrShapeMismatch, "%d columns cannot be split into %d heads", a.Cols(), heads)
	}
	return a.Cols() / heads, nil
}

type headDotOp struct {
	x, w  *Tensor
	heads int
	d     int
}

// HeadDot computes, per row and per head, the dot product of the head's slice of
// x [e x heads*d] with the matching slice of w [1 x heads*d]. The result is [e x heads].
func HeadDot(x, w *Tensor, heads int) (*Tensor, error) {
	d, err := headWidth(x, heads)
	if err != nil {
		return nil, err
	}
	if w.Rows() != 1 || w.Cols() != x.Cols() {
		return nil, errors.Wrapf(ErrShapeMismatch, "head dot weights %v for input %v", w.Shape, x.Shape)
	}
	out := Zeros(x.Rows(), heads)
	for i := 0; i < x.Rows(); i++ {
		row := x.Row(i)
		for h := 0; h < heads; h++ {
			out.Data[i*heads+h] = floats.Dot(row[h*d:(h+1)*d], w.Data[h*d:(h+1)*d])
		}
	}
	return record(out, &headDotOp{x: x, w: w, heads: heads, d: d}, x, w), nil
}

func (op *headDotOp) Backward(g []float64) [][]float64 {
	cols := op.x.Cols()
	gx := make([]float64, op.x.Numel())
	gw := make([]float64, cols)
	for i := 0; i < op.x.Rows(); i++ {
		row := op.x.Row(i)
		for h := 0; h < op.heads; h++ {
			gi := g[i*op.heads+h]
			lo, hi := h*op.d, (h+1)*op.d
			floats.AddScaled(gx[i*cols+lo:i*cols+hi], gi, op.w.Data[lo:hi])
			floats.AddScaled(gw[lo:hi], gi, row[lo:hi])
		}
	}
	return [][]float64{gx, gw}
}

type headScaleOp struct {
	x, alpha *Tensor
	heads, d int
}

// HeadScale multiplies each head slice of x [e x heads*d] by the matching column
// of alpha [e x heads].
func HeadScale(x, alpha *Tensor, heads int) (*Tensor, error) {
	d, err := headWidth(x, heads)
	if err != nil {
		return nil, err
	}
	if alpha.Rows() != x.Rows() || alpha.Cols() != heads {
		return nil, errors.Wrapf(ErrShapeMismatch, "head scale %v for input %v", alpha.Shape, x.Shape)
	}
	out := x.Clone()
	for i := 0; i < x.Rows(); i++ {
		row := out.Row(i)
		for h := 0; h < heads; h++ {
			floats.Scale(alpha.Data[i*heads+h], row[h*d:(h+1)*d])
		}
	}
	return record(out, &headScaleOp{x: x, alpha: alpha, heads: heads, d: d}, x, alpha), nil
}

func (op *headScaleOp) Backward(g []float64) [][]float64 {
	cols := op.x.Cols()
	gx := make([]float64, op.x.Numel())
	ga := make([]float64, op.alpha.Numel())
	for i := 0; i < op.x.Rows(); i++ {
		for h := 0; h < op.heads; h++ {
			lo, hi := i*cols+h*op.d, i*cols+(h+1)*op.d
			a := op.alpha.Data[i*op.heads+h]
			floats.AddScaled(gx[lo:hi], a, g[lo:hi])
			ga[i*op.heads+h] = floats.Dot(g[lo:hi], op.x.Data[lo:hi])
		}
	}
	return [][]float64{gx, ga}
}

type headMeanOp struct {
	rows, heads, d int
}

// HeadMean averages the head slices of x [e x heads*d] into [e x d].
func HeadMean(x *Tensor, heads int) (*Tensor, error) {
	d, err := headWidth(x, heads)
	if err != nil {
		return nil, err
	}
	out := Zeros(x.Rows(), d)
	inv := 1 / float64(heads)
	for i := 0; i < x.Rows(); i++ {
		row := x.Row(i)
		dst := out.Row(i)
		for h := 0; h < heads; h++ {
			floats.AddScaled(dst, inv, row[h*d:(h+1)*d])
		}
	}
	return record(out, &headMeanOp{rows: x.Rows(), heads: heads, d: d}, x), nil
}

func (op *headMeanOp) Backward(g []float64) [][]float64 {
	cols := op.heads * op.d
	gx := make([]float64, op.rows*cols)
	inv := 1 / float64(op.heads)
	for i := 0; i < op.rows; i++ {
		src := g[i*op.d : (i+1)*op.d]
		for h := 0; h < op.heads; h++ {
			floats.AddScaled(gx[i*cols+h*op.d:i*cols+(h+1)*op.d], inv, src)
		}
	}
	return [][]float64{gx}
}

// Dropout zeroes each element with probability p and scales survivors by 1/(1-p).
// Outside training, or with p == 0, x is returned unchanged.
func Dropout(x *Tensor, p float64, training bool, rng *rand.Rand) (*Tensor, error) {
	if !training || p <= 0 {
		return x, nil
	}
	if p >= 1 {
		return Mul(x, Zeros(x.Rows(), x.Cols()))
	}
	mask := Zeros(x.Rows(), x.Cols())
	keep := 1 / (1 - p)
	for i := range mask.Data {
		if rng.Float64() >= p {
			mask.Data[i] = keep
		}
	}
	return Mul(x, mask)
}
