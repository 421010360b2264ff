package ensemble

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stackcast/internal/features"
)

// TrainReport summarizes one training run. It travels with the model it
// produced and is what /model/info and the evaluate command print.
type TrainReport struct {
	TrainedAt        time.Time          `json:"trained_at"`
	Elapsed          time.Duration      `json:"elapsed"`
	Samples          int                `json:"samples"`
	TrainRows        int                `json:"train_rows"`
	TestRows         int                `json:"test_rows"`
	Columns          int                `json:"columns"`
	ClassCounts      map[string]int     `json:"class_counts"`
	LearnerAccuracy  map[string]float64 `json:"learner_accuracy"`
	CombinedAccuracy float64            `json:"combined_accuracy"`
	Degraded         []DegradedLearner  `json:"degraded,omitempty"`
	SequenceSkipped  string             `json:"sequence_skipped,omitempty"`
}

// train runs the full batch pipeline: engineer features, split
// chronologically, fit scaler and base learners on the leading split, stack
// their probabilities into the meta-combiner, then measure everything on the
// held-out tail. Individual learner failures degrade to uniform stand-ins;
// only data and schema problems abort the run.
func train(ctx context.Context, obs []features.Observation, params Params, log zerolog.Logger) (*Model, error) {
	started := time.Now()

	pipeline, err := features.NewPipeline(params.Features)
	if err != nil {
		return nil, err
	}
	matrix, err := pipeline.BuildMatrix(obs)
	if err != nil {
		return nil, err
	}

	n := matrix.NumRows()
	testRows := int(float64(n) * params.TestFraction)
	if testRows < 1 {
		testRows = 1
	}
	trainRows := n - testRows
	if trainRows < 2 {
		return nil, &features.InsufficientDataError{Have: n, Need: testRows + 2}
	}

	// The scaler only ever sees the leading split; the tail stays untouched
	// until evaluation.
	scaler := FitScaler(matrix.Rows[:trainRows])
	scaledAll, err := scaler.TransformAll(matrix.Rows)
	if err != nil {
		return nil, err
	}
	trainSet := scaledAll[:trainRows]
	trainLabels := matrix.Labels[:trainRows]

	report := TrainReport{
		Samples:     len(obs),
		TrainRows:   trainRows,
		TestRows:    testRows,
		Columns:     pipeline.Schema().Len(),
		ClassCounts: labelCounts(matrix.Labels),
	}

	slots := make([]learnerSlot, 0, 3)
	for _, candidate := range []BaseLearner{
		NewBoostedTrees(params.Boost, params.Seed+1),
		NewNeuralNet(params.Net, params.Seed+2),
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slots = append(slots, fitSlot(candidate, trainSet, trainLabels, &report, log))
	}

	switch {
	case !params.Sequence.Enabled:
		report.SequenceSkipped = "disabled in configuration"
	case trainRows < params.Sequence.MinTrainRows:
		report.SequenceSkipped = fmt.Sprintf("insufficient rows: have %d, need %d",
			trainRows, params.Sequence.MinTrainRows)
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := NewSequenceHead(params.Sequence, params.Seed+3)
		slots = append(slots, fitSlot(seq, trainSet, trainLabels, &report, log))
	}
	if report.SequenceSkipped != "" {
		log.Info().Str("reason", report.SequenceSkipped).Msg("sequence learner skipped")
	}

	order := make([]string, len(slots))
	maxWindow := 1
	for i, slot := range slots {
		order[i] = slot.name
		if w := slot.learner.Capabilities().SequenceWindow; w > maxWindow {
			maxWindow = w
		}
	}

	stackedTrain := make([][]float64, trainRows)
	for i := 0; i < trainRows; i++ {
		stackedTrain[i] = stackRow(slots, windowAt(scaledAll, i, maxWindow))
	}

	meta := NewMetaCombiner(params.Meta, order, params.Seed+4)
	if err := meta.Fit(stackedTrain, trainLabels); err != nil {
		return nil, err
	}

	report.LearnerAccuracy = make(map[string]float64, len(slots))
	correctPer := make([]int, len(slots))
	combinedCorrect := 0
	for i := trainRows; i < n; i++ {
		window := windowAt(scaledAll, i, maxWindow)
		stacked := make([]float64, 0, len(slots)*features.NumLabels)
		for s, slot := range slots {
			probs := slot.learner.PredictProba(window)
			if !validProbs(probs) {
				probs = uniformProbs()
			}
			if features.Label(argmax(probs)) == matrix.Labels[i] {
				correctPer[s]++
			}
			stacked = append(stacked, probs...)
		}
		combined, err := meta.PredictProba(stacked)
		if err != nil {
			return nil, err
		}
		if features.Label(argmax(combined)) == matrix.Labels[i] {
			combinedCorrect++
		}
	}
	for s, slot := range slots {
		report.LearnerAccuracy[slot.name] = float64(correctPer[s]) / float64(testRows)
	}
	report.CombinedAccuracy = float64(combinedCorrect) / float64(testRows)

	report.TrainedAt = time.Now().UTC()
	report.Elapsed = time.Since(started)

	log.Info().
		Int("samples", report.Samples).
		Int("train_rows", trainRows).
		Int("test_rows", testRows).
		Int("degraded", len(report.Degraded)).
		Float64("combined_accuracy", report.CombinedAccuracy).
		Dur("elapsed", report.Elapsed).
		Msg("training run complete")

	return &Model{
		params:  params,
		schema:  pipeline.Schema(),
		scaler:  scaler,
		slots:   slots,
		meta:    meta,
		monitor: FitRangeMonitor(pipeline.Schema().Columns(), matrix.Rows[:trainRows], params.RangeTolerance),
		report:  report,
	}, nil
}

// fitSlot trains one base learner, degrading it to a uniform stand-in on
// failure so the stacked width stays fixed.
func fitSlot(l BaseLearner, rows [][]float64, labels []features.Label, report *TrainReport, log zerolog.Logger) learnerSlot {
	if err := l.Fit(rows, labels); err != nil {
		log.Warn().Err(err).Str("learner", l.Name()).Msg("base learner degraded to uniform stand-in")
		report.Degraded = append(report.Degraded, DegradedLearner{Name: l.Name(), Reason: err.Error()})
		return learnerSlot{
			name:    l.Name(),
			status:  LearnerDegraded,
			reason:  err.Error(),
			learner: &uniformLearner{name: l.Name()},
		}
	}
	return learnerSlot{name: l.Name(), status: LearnerActive, learner: l}
}

// stackRow concatenates every slot's probability vector for one window.
func stackRow(slots []learnerSlot, window [][]float64) []float64 {
	out := make([]float64, 0, len(slots)*features.NumLabels)
	for _, slot := range slots {
		probs := slot.learner.PredictProba(window)
		if !validProbs(probs) {
			probs = uniformProbs()
		}
		out = append(out, probs...)
	}
	return out
}

// windowAt returns the chronological window ending at row i, clipped at the
// start of the matrix.
func windowAt(rows [][]float64, i, width int) [][]float64 {
	lo := i + 1 - width
	if lo < 0 {
		lo = 0
	}
	return rows[lo : i+1]
}

func labelCounts(labels []features.Label) map[string]int {
	out := make(map[string]int, features.NumLabels)
	for l := features.Label(0); l.Valid(); l++ {
		out[l.String()] = 0
	}
	for _, l := range labels {
		out[l.String()]++
	}
	return out
}
