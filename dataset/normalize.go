package dataset

import (
	"gonum.org/v1/gonum/stat"
)

// Standardizer holds per-column mean and standard deviation of a label set.
type Standardizer struct {
	Mean []float64
	Std  []float64
}

// FitStandardizer computes column statistics over rows. Entries where mask is
// false are ignored; mask may be nil. A column with fewer than two values or zero
// spread gets std 1 so it is passed through unscaled.
func FitStandardizer(rows [][]float64, masks [][]bool, width int) *Standardizer {
	s := &Standardizer{Mean: make([]float64, width), Std: make([]float64, width)}
	col := make([]float64, 0, len(rows))
	for j := 0; j < width; j++ {
		col = col[:0]
		for i, r := range rows {
			if masks != nil && !masks[i][j] {
				continue
			}
			col = append(col, r[j])
		}
		s.Std[j] = 1
		switch {
		case len(col) == 1:
			s.Mean[j] = col[0]
		case len(col) > 1:
			mean, std := stat.MeanStdDev(col, nil)
			s.Mean[j] = mean
			if std > 0 {
				s.Std[j] = std
			}
		}
	}
	return s
}

// FitPooled computes a single mean and std over every valid value of ragged rows,
// as used for bond level labels whose width varies per molecule.
func FitPooled(rows [][]float64, masks [][]bool) (mean, std float64) {
	var all []float64
	for i, r := range rows {
		for j, v := range r {
			if masks != nil && !masks[i][j] {
				continue
			}
			all = append(all, v)
		}
	}
	std = 1
	switch {
	case len(all) == 1:
		mean = all[0]
	case len(all) > 1:
		m, s := stat.MeanStdDev(all, nil)
		mean = m
		if s > 0 {
			std = s
		}
	}
	return mean, std
}

// Transform standardizes row in place, column j using Mean[j] and Std[j].
func (s *Standardizer) Transform(row []float64) {
	for j := range row {
		row[j] = (row[j] - s.Mean[j]) / s.Std[j]
	}
}

// Inverse maps a standardized row back to original units in place.
func (s *Standardizer) Inverse(row []float64) {
	for j := range row {
		row[j] = row[j]*s.Std[j] + s.Mean[j]
	}
}
