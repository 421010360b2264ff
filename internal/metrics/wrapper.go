package metrics

import (
	"time"

	"stackcast/internal/ensemble"
)

// Wrapper adapts Metrics to the ensemble.Tracker interface so the engine can
// report outcomes without importing Prometheus types.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wires an engine tracker to the given metrics set.
func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

// ObserveTraining records one training run outcome.
func (w *Wrapper) ObserveTraining(report ensemble.TrainReport, err error) {
	if err != nil {
		w.m.TrainingFailures.Inc()
		return
	}
	w.m.TrainingRuns.Inc()
	w.m.TrainingDuration.Observe(report.Elapsed.Seconds())
	w.m.CombinedAccuracy.Set(report.CombinedAccuracy)
	w.m.DegradedLearners.Set(float64(len(report.Degraded)))
	w.m.SetModelTrainedAt(report.TrainedAt)
}

// ObservePrediction records one prediction outcome.
func (w *Wrapper) ObservePrediction(p *ensemble.Prediction, elapsed time.Duration, err error) {
	if err != nil || p == nil {
		w.m.PredictionFailures.Inc()
		return
	}
	w.m.PredictionsTotal.WithLabelValues(p.Label.String()).Inc()
	w.m.PredictionLatency.Observe(elapsed.Seconds())
	w.m.PredictionScores.Observe(p.Score)
	w.m.PredictionConfidence.Observe(p.Confidence)
	w.m.DefaultedFeatures.Observe(float64(p.Defaulted))
	if n := len(p.OutOfRange); n > 0 {
		w.m.OutOfRangeFeatures.Add(float64(n))
	}
}
