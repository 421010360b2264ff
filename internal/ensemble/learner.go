package ensemble

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"stackcast/internal/features"
)

// Learner status values carried through reports, status and snapshots.
const (
	LearnerActive   = "active"
	LearnerDegraded = "degraded"
	LearnerSkipped  = "skipped"
)

// Capabilities describe what a base learner requires from the training set.
// The trainer activates a learner only when its requirements hold; it never
// probes imports or environment at prediction time.
type Capabilities struct {
	// SequenceWindow is the number of chronological rows the learner consumes
	// per prediction. Zero means a pointwise learner.
	SequenceWindow int
	// MinTrainRows gates activation: below this depth the learner is skipped.
	MinTrainRows int
}

// BaseLearner is the first ensemble layer. PredictProba receives a
// chronological window of scaled rows; pointwise learners read only the last
// row. Outputs are 3-class probability vectors in stable label order.
type BaseLearner interface {
	Name() string
	Capabilities() Capabilities
	Fit(rows [][]float64, labels []features.Label) error
	PredictProba(window [][]float64) []float64
}

// uniformLearner stands in for a degraded base learner: it contributes a flat
// distribution so the meta-combiner can down-weight it instead of the whole
// ensemble failing.
type uniformLearner struct {
	name string
}

func (u *uniformLearner) Name() string               { return u.name }
func (u *uniformLearner) Capabilities() Capabilities { return Capabilities{} }

func (u *uniformLearner) Fit([][]float64, []features.Label) error { return nil }

func (u *uniformLearner) PredictProba([][]float64) []float64 {
	p := make([]float64, features.NumLabels)
	for k := range p {
		p[k] = 1.0 / features.NumLabels
	}
	return p
}

// softmax writes the stabilized softmax of logits into a fresh slice.
func softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// argmax returns the index of the largest value, first one on ties.
func argmax(vals []float64) int {
	return floats.MaxIdx(vals)
}

// validProbs reports whether p is a finite 3-class distribution.
func validProbs(p []float64) bool {
	if len(p) != features.NumLabels {
		return false
	}
	var sum float64
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) < 1e-6
}

// uniformProbs returns the flat 3-class distribution.
func uniformProbs() []float64 {
	p := make([]float64, features.NumLabels)
	for k := range p {
		p[k] = 1.0 / features.NumLabels
	}
	return p
}

// tailWindow returns the last w rows, repeating the first row when the window
// is shorter than w. Used to feed sequence learners from a single
// reconstructed vector.
func tailWindow(rows [][]float64, w int) [][]float64 {
	if len(rows) >= w {
		return rows[len(rows)-w:]
	}
	out := make([][]float64, w)
	pad := w - len(rows)
	for i := 0; i < pad; i++ {
		out[i] = rows[0]
	}
	copy(out[pad:], rows)
	return out
}
