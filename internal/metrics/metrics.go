// Package metrics provides Prometheus metrics collection for the prediction
// service. It defines the counters, gauges, and histograms covering training
// runs, prediction serving, feature reconstruction, and the outcome journal,
// all exposed via the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the prediction service.
type Metrics struct {
	// Prediction serving
	PredictionsTotal     *prometheus.CounterVec // by predicted label
	PredictionFailures   prometheus.Counter
	PredictionLatency    prometheus.Histogram
	PredictionScores     prometheus.Histogram // directional score in [-1, 1]
	PredictionConfidence prometheus.Histogram
	DefaultedFeatures    prometheus.Histogram // columns defaulted per request
	OutOfRangeFeatures   prometheus.Counter

	// Training lifecycle
	TrainingRuns     prometheus.Counter
	TrainingFailures prometheus.Counter
	TrainingDuration prometheus.Histogram
	CombinedAccuracy prometheus.Gauge
	DegradedLearners prometheus.Gauge
	ModelAge         prometheus.Gauge

	// Telemetry intake and journal
	ObservationsStored prometheus.Counter
	FeedErrors         prometheus.Counter
	JournalEntries     *prometheus.GaugeVec // by bucket
	OutcomesResolved   prometheus.Counter
	LiveAccuracy       prometheus.Gauge

	// Streaming
	StreamClients prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics against a custom registry, which keeps
// tests isolated from the global state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions served, by predicted label",
		}, []string{"label"}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of prediction calls that returned an error",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_scores",
			Help:    "Distribution of directional prediction scores",
			Buckets: prometheus.LinearBuckets(-1, 0.2, 11),
		}),
		PredictionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_confidence",
			Help:    "Distribution of combined-model confidence values",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DefaultedFeatures: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_defaulted_features",
			Help:    "Number of schema columns filled by defaulting rules per request",
			Buckets: prometheus.LinearBuckets(0, 5, 9),
		}),
		OutOfRangeFeatures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_out_of_range_features_total",
			Help: "Total number of input columns observed outside the training envelope",
		}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of completed training runs",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Total number of training runs that returned an error",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CombinedAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_combined_accuracy",
			Help: "Held-out combined accuracy of the live model",
		}),
		DegradedLearners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_degraded_learners",
			Help: "Number of base learners degraded to uniform stand-ins in the live model",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the live model in seconds",
		}),
		ObservationsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "observations_stored_total",
			Help: "Total number of telemetry observations appended to the journal",
		}),
		FeedErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_errors_total",
			Help: "Total number of telemetry feed failures",
		}),
		JournalEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "journal_entries",
			Help: "Entries currently stored in the journal, by bucket",
		}, []string{"bucket"}),
		OutcomesResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_outcomes_resolved_total",
			Help: "Total number of journaled predictions resolved against realized prices",
		}),
		LiveAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prediction_live_accuracy",
			Help: "Directional accuracy of resolved journaled predictions",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Currently connected streaming clients",
		}),
	}
}

// SetModelTrainedAt refreshes the model age gauge from a training timestamp.
// Callers re-invoke it periodically so the gauge keeps advancing.
func (m *Metrics) SetModelTrainedAt(trainedAt time.Time) {
	if trainedAt.IsZero() {
		m.ModelAge.Set(0)
		return
	}
	m.ModelAge.Set(time.Since(trainedAt).Seconds())
}
