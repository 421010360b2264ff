package ensemble

import "errors"

var (
	// ErrNotTrained is returned by prediction and explainability calls before
	// the first successful training run.
	ErrNotTrained = errors.New("ensemble is not trained")

	// ErrTrainingInProgress is returned when a training run is requested while
	// another one is still running on the same engine.
	ErrTrainingInProgress = errors.New("training already in progress")

	// ErrImportanceUnavailable is returned when the boosted learner degraded
	// during training and no split gains were accumulated.
	ErrImportanceUnavailable = errors.New("feature importance unavailable: boosted learner degraded")
)

// DegradedLearner records a base learner whose fit failed. The learner is
// replaced by a uniform-probability stand-in and training continues; the
// record lands in the training report and the metrics.
type DegradedLearner struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
