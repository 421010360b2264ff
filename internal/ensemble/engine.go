// Package ensemble implements the two-layer stacked prediction engine: a set
// of heterogeneous base learners over engineered features, combined by a
// multinomial logistic meta-combiner. An Engine owns at most one trained
// Model at a time and swaps it atomically on retrain, so concurrent Predict
// calls always see a fully formed snapshot.
package ensemble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stackcast/internal/features"
)

// Tracker receives training and prediction outcomes. The metrics package
// provides the Prometheus implementation; NoopTracker is used in tests and
// the evaluate command.
type Tracker interface {
	ObserveTraining(report TrainReport, err error)
	ObservePrediction(p *Prediction, elapsed time.Duration, err error)
}

// NoopTracker discards every observation.
type NoopTracker struct{}

func (NoopTracker) ObserveTraining(TrainReport, error)                  {}
func (NoopTracker) ObservePrediction(*Prediction, time.Duration, error) {}

// Engine is the caller-owned lifecycle controller. Zero or one Model is live
// at any time; Train replaces it wholesale and never mutates it in place.
type Engine struct {
	mu      sync.RWMutex
	model   *Model
	params  Params
	log     zerolog.Logger
	tracker Tracker

	training atomic.Bool
}

// New validates the configuration and returns an untrained engine. A nil
// tracker disables outcome reporting.
func New(params Params, log zerolog.Logger, tracker Tracker) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = NoopTracker{}
	}
	return &Engine{
		params:  params,
		log:     log.With().Str("component", "ensemble").Logger(),
		tracker: tracker,
	}, nil
}

// Params returns the engine's base configuration (before any per-run
// overrides).
func (e *Engine) Params() Params { return e.params }

// Train runs one full batch training pass over obs and atomically installs
// the resulting model. Only one training run may be active per engine;
// concurrent calls fail fast with ErrTrainingInProgress. overrides carries
// flat hyperparameter tweaks for this run only.
func (e *Engine) Train(ctx context.Context, obs []features.Observation, overrides map[string]any) (*TrainReport, error) {
	if !e.training.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer e.training.Store(false)

	params := e.params
	if len(overrides) > 0 {
		params = params.ApplyOverrides(overrides, e.log)
	}
	if err := params.Validate(); err != nil {
		e.tracker.ObserveTraining(TrainReport{}, err)
		return nil, err
	}

	model, err := train(ctx, obs, params, e.log)
	if err != nil {
		e.tracker.ObserveTraining(TrainReport{}, err)
		return nil, err
	}

	e.mu.Lock()
	e.model = model
	e.mu.Unlock()

	report := model.Report()
	e.tracker.ObserveTraining(report, nil)
	return &report, nil
}

// Predict scores one partial input map against the live model.
func (e *Engine) Predict(supplied map[string]float64, history []float64) (*Prediction, error) {
	model := e.snapshot()
	if model == nil {
		return nil, ErrNotTrained
	}
	started := time.Now()
	p, err := model.Predict(supplied, history)
	e.tracker.ObservePrediction(p, time.Since(started), err)
	return p, err
}

// FeatureImportance proxies to the live model.
func (e *Engine) FeatureImportance() (map[string]float64, error) {
	model := e.snapshot()
	if model == nil {
		return nil, ErrNotTrained
	}
	return model.FeatureImportance()
}

// Status describes the engine for health and info endpoints.
type Status struct {
	Trained  bool            `json:"trained"`
	Training bool            `json:"training"`
	Learners []LearnerStatus `json:"learners,omitempty"`
	Report   *TrainReport    `json:"last_report,omitempty"`
}

// Status returns the current lifecycle view. The report pointer refers to a
// copy, never the live model's own state.
func (e *Engine) Status() Status {
	st := Status{Training: e.training.Load()}
	if model := e.snapshot(); model != nil {
		report := model.Report()
		st.Trained = true
		st.Learners = model.Learners()
		st.Report = &report
	}
	return st
}

// Model returns the live trained snapshot, or nil before the first
// successful Train.
func (e *Engine) Model() *Model { return e.snapshot() }

// Restore installs a previously decoded model snapshot, replacing any live
// model. It refuses to race an active training run.
func (e *Engine) Restore(model *Model) error {
	if model == nil {
		return ErrNotTrained
	}
	if e.training.Load() {
		return ErrTrainingInProgress
	}
	e.mu.Lock()
	e.model = model
	e.mu.Unlock()
	e.log.Info().Time("trained_at", model.report.TrainedAt).Msg("model snapshot restored")
	return nil
}

func (e *Engine) snapshot() *Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}
