package ensemble

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"stackcast/internal/features"
)

// Scaler standardizes engineered columns to zero mean and unit variance using
// statistics fitted on the training split only. Columns with no spread keep a
// deviation of 1 so transformed values stay finite.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// FitScaler computes per-column statistics over the given rows.
func FitScaler(rows [][]float64) *Scaler {
	if len(rows) == 0 {
		return &Scaler{}
	}
	width := len(rows[0])
	col := make([]float64, len(rows))
	s := &Scaler{
		Means: make([]float64, width),
		Stds:  make([]float64, width),
	}
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean := stat.Mean(col, nil)
		variance := stat.Variance(col, nil)
		// population deviation, matching how the training stack standardizes
		std := math.Sqrt(variance * float64(len(col)-1) / float64(len(col)))
		if std < 1e-10 {
			std = 1
		}
		s.Means[j] = mean
		s.Stds[j] = std
	}
	return s
}

// Width returns the number of columns the scaler was fitted on.
func (s *Scaler) Width() int { return len(s.Means) }

// Transform standardizes one vector. The width must match the fitted schema.
func (s *Scaler) Transform(vec []float64) ([]float64, error) {
	if len(vec) != len(s.Means) {
		return nil, &features.SchemaMismatchError{Want: len(s.Means), Got: len(vec)}
	}
	out := make([]float64, len(vec))
	for j, v := range vec {
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out, nil
}

// TransformAll standardizes a whole matrix.
func (s *Scaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// classCounts tallies labels into the stable encoding order.
func classCounts(labels []features.Label) [features.NumLabels]int {
	var counts [features.NumLabels]int
	for _, l := range labels {
		if l.Valid() {
			counts[l]++
		}
	}
	return counts
}

// classWeights balances the loss across uneven class frequencies. Absent
// classes get weight zero; they contribute nothing to the loss either way.
func classWeights(labels []features.Label) [features.NumLabels]float64 {
	counts := classCounts(labels)
	total := len(labels)
	var w [features.NumLabels]float64
	for k, c := range counts {
		if c > 0 {
			w[k] = float64(total) / (float64(features.NumLabels) * float64(c))
		}
	}
	return w
}
