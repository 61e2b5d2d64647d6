package tensor

import "github.com/pkg/errors"

// SplitBySize partitions s into consecutive groups whose lengths are given by
// sizes. Groups are views into s. The sizes must be non-negative and sum to len(s).
func SplitBySize[T any](s []T, sizes []int) ([][]T, error) {
	total := 0
	for i, n := range sizes {
		if n < 0 {
			return nil, errors.Wrapf(ErrShapeMismatch, "split size %d at position %d is negative", n, i)
		}
		total += n
	}
	if total != len(s) {
		return nil, errors.Wrapf(ErrShapeMismatch, "split sizes sum to %d, sequence has length %d", total, len(s))
	}

	groups := make([][]T, len(sizes))
	offset := 0
	for i, n := range sizes {
		groups[i] = s[offset : offset+n : offset+n]
		offset += n
	}
	return groups, nil
}

// SplitRows partitions the rows of t into consecutive blocks of the given row
// counts. Each block is returned as a flat row-major slice sharing t's data.
func SplitRows(t *Tensor, rows []int) ([][]float64, error) {
	sizes := make([]int, len(rows))
	for i, r := range rows {
		sizes[i] = r * t.Cols()
	}
	groups, err := SplitBySize(t.Data, sizes)
	if err != nil {
		return nil, errors.Wrapf(err, "splitting %d rows", t.Rows())
	}
	return groups, nil
}
