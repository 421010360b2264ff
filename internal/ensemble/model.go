package ensemble

import (
	"math"
	"time"

	"stackcast/internal/features"
)

// learnerSlot pairs a base learner with its training outcome. Degraded slots
// hold a uniform stand-in so the stacked width stays fixed; skipped learners
// never get a slot at all.
type learnerSlot struct {
	name    string
	status  string
	reason  string
	learner BaseLearner
}

// Model is one fully trained snapshot: frozen schema, fitted scaler, base
// learners and meta-combiner. It is immutable after construction, so any
// number of Predict calls may run against it concurrently.
type Model struct {
	params  Params
	schema  *features.Schema
	scaler  *Scaler
	slots   []learnerSlot
	meta    *MetaCombiner
	monitor *RangeMonitor
	report  TrainReport
}

// Prediction is the full response for a single inference call.
type Prediction struct {
	Label      features.Label `json:"label"`
	Confidence float64        `json:"confidence"`
	// Score is (P(BULLISH) - P(BEARISH)) * max(P): sign carries direction,
	// magnitude carries certainty, and NEUTRAL dominance pulls it toward 0.
	Score         float64              `json:"score"`
	Probabilities map[string][]float64 `json:"per_model_probabilities"`
	// Defaulted counts schema columns filled by the reconstructor because the
	// caller did not supply them.
	Defaulted int `json:"defaulted_features"`
	// OutOfRange lists columns outside the training envelope (served anyway).
	OutOfRange  []string  `json:"out_of_range,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Predict reconstructs a full feature vector from a partial input map,
// scores it through every base learner and combines the result. history is
// an optional recent-price series (oldest first) used to resolve lag and
// rolling columns that the caller did not supply.
func (m *Model) Predict(supplied map[string]float64, history []float64) (*Prediction, error) {
	vec, defaulted, err := m.schema.Reconstruct(supplied, history)
	if err != nil {
		return nil, err
	}

	var outOfRange []string
	if m.monitor != nil {
		outOfRange = m.monitor.Check(vec)
	}

	scaled, err := m.scaler.Transform(vec)
	if err != nil {
		return nil, err
	}

	window := [][]float64{scaled}
	perModel := make(map[string][]float64, len(m.slots)+1)
	stacked := make([]float64, 0, len(m.slots)*features.NumLabels)
	for _, slot := range m.slots {
		probs := slot.learner.PredictProba(window)
		if !validProbs(probs) {
			probs = uniformProbs()
		}
		perModel[slot.name] = probs
		stacked = append(stacked, probs...)
	}

	combined, err := m.meta.PredictProba(stacked)
	if err != nil {
		return nil, err
	}
	perModel["combined"] = combined

	label := features.Label(argmax(combined))
	return &Prediction{
		Label:         label,
		Confidence:    combined[label],
		Score:         directionalScore(combined),
		Probabilities: perModel,
		Defaulted:     defaulted,
		OutOfRange:    outOfRange,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

// directionalScore folds a 3-class distribution into [-1, 1].
func directionalScore(probs []float64) float64 {
	raw := (probs[features.Bullish] - probs[features.Bearish]) * probs[argmax(probs)]
	return math.Max(-1, math.Min(1, raw))
}

// FeatureImportance returns normalized gain-based importances from the
// boosted-tree learner, keyed by column name. It is unavailable when that
// learner degraded during training.
func (m *Model) FeatureImportance() (map[string]float64, error) {
	for _, slot := range m.slots {
		bt, ok := slot.learner.(*BoostedTrees)
		if !ok || slot.status != LearnerActive {
			continue
		}
		gains := bt.Importance()
		if gains == nil {
			return nil, ErrImportanceUnavailable
		}
		cols := m.schema.Columns()
		out := make(map[string]float64, len(cols))
		for i, name := range cols {
			out[name] = gains[i]
		}
		return out, nil
	}
	return nil, ErrImportanceUnavailable
}

// Schema exposes the frozen column schema.
func (m *Model) Schema() *features.Schema { return m.schema }

// Params returns the effective hyperparameters the model was trained with,
// overrides already applied.
func (m *Model) Params() Params { return m.params }

// Report returns the training report captured when the model was built.
func (m *Model) Report() TrainReport { return m.report }

// Learners returns the per-learner statuses in stacking order.
func (m *Model) Learners() []LearnerStatus {
	out := make([]LearnerStatus, len(m.slots))
	for i, slot := range m.slots {
		out[i] = LearnerStatus{Name: slot.name, Status: slot.status, Reason: slot.reason}
	}
	return out
}

// LearnerStatus is the externally visible view of one learner slot.
type LearnerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
