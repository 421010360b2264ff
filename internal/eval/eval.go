// Package eval measures out-of-sample prediction quality. A walk-forward run
// trains the engine on the leading split of an observation series, then
// predicts every held-out observation in chronological order and grades the
// predicted direction against the move that actually followed.
package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"stackcast/internal/ensemble"
	"stackcast/internal/features"
)

// Options shapes one evaluation run.
type Options struct {
	Asset        string
	EvalFraction float64        // held-out tail share, default 0.2
	Overrides    map[string]any // hyperparameter overrides for the training run
}

// ClassMetrics carries per-class precision/recall/F1 over the held-out tail.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Result is the full outcome of a walk-forward run. Confusion is indexed
// [actual][predicted] in Classes order.
type Result struct {
	Asset          string                                      `json:"asset,omitempty"`
	Observations   int                                         `json:"observations"`
	TrainObs       int                                         `json:"train_observations"`
	Graded         int                                         `json:"graded"`
	Accuracy       float64                                     `json:"accuracy"`
	MacroF1        float64                                     `json:"macro_f1"`
	Classes        [features.NumLabels]string                  `json:"classes"`
	Confusion      [features.NumLabels][features.NumLabels]int `json:"confusion"`
	PerClass       map[string]ClassMetrics                     `json:"per_class"`
	MeanConfidence float64                                     `json:"mean_confidence"`
	Training       ensemble.TrainReport                        `json:"training"`
	Elapsed        time.Duration                               `json:"elapsed_ns"`
}

// Run executes one walk-forward evaluation. The engine never sees held-out
// observations during training; prediction i may still reach back into the
// training region for its price history, which is exactly what a live caller
// would do.
func Run(ctx context.Context, obs []features.Observation, params ensemble.Params, opts Options, log zerolog.Logger) (*Result, error) {
	started := time.Now()

	fraction := opts.EvalFraction
	if fraction == 0 {
		fraction = 0.2
	}
	if fraction <= 0 || fraction > 0.5 {
		return nil, fmt.Errorf("eval fraction %v out of range (0, 0.5]", fraction)
	}

	split := len(obs) - int(float64(len(obs))*fraction)
	if split < 1 || len(obs)-split < 2 {
		return nil, &features.InsufficientDataError{Have: len(obs), Need: split + 2}
	}

	eng, err := ensemble.New(params, log, nil)
	if err != nil {
		return nil, err
	}
	report, err := eng.Train(ctx, obs[:split], opts.Overrides)
	if err != nil {
		return nil, fmt.Errorf("training split: %w", err)
	}

	effective := eng.Model().Params()
	threshold := effective.Features.LabelThreshold
	depth := historyDepth(effective.Features)

	res := &Result{
		Asset:        opts.Asset,
		Observations: len(obs),
		TrainObs:     split,
		Training:     *report,
	}
	for i := range res.Classes {
		res.Classes[i] = features.Label(i).String()
	}

	var confidences []float64
	for i := split; i < len(obs)-1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lo := i + 1 - depth
		if lo < 0 {
			lo = 0
		}
		history := make([]float64, 0, i+1-lo)
		for _, o := range obs[lo : i+1] {
			history = append(history, o.Price)
		}

		pred, err := eng.Predict(suppliedFrom(obs[i]), history)
		if err != nil {
			return nil, fmt.Errorf("predict held-out row %d: %w", i, err)
		}

		change := (obs[i+1].Price - obs[i].Price) / obs[i].Price
		actual := features.LabelFromChange(change, threshold)

		res.Confusion[actual][pred.Label]++
		res.Graded++
		confidences = append(confidences, pred.Confidence)
	}

	res.finalize()
	if len(confidences) > 0 {
		res.MeanConfidence = stat.Mean(confidences, nil)
	}
	res.Elapsed = time.Since(started)
	return res, nil
}

// suppliedFrom exposes one observation the way a live caller would: current
// market state only, engineered columns left to reconstruction.
func suppliedFrom(o features.Observation) map[string]float64 {
	m := map[string]float64{
		"price":  o.Price,
		"volume": o.Volume,
	}
	for p := features.Pillar(0); p < features.NumPillars; p++ {
		m[p.ScoreKey()] = o.Score(p)
	}
	return m
}

// historyDepth returns how many trailing prices the reconstruction rules can
// actually consume.
func historyDepth(cfg features.Config) int {
	depth := cfg.SlowWindow
	if cfg.OscillatorPeriod+1 > depth {
		depth = cfg.OscillatorPeriod + 1
	}
	return depth + 1
}

// finalize fills the derived metrics from the confusion matrix. Macro F1
// averages all classes, including absent ones.
func (r *Result) finalize() {
	if r.Graded == 0 {
		return
	}

	correct := 0
	perClass := make(map[string]ClassMetrics, features.NumLabels)
	macro := 0.0
	for c := 0; c < features.NumLabels; c++ {
		correct += r.Confusion[c][c]

		predicted, actual := 0, 0
		for o := 0; o < features.NumLabels; o++ {
			predicted += r.Confusion[o][c]
			actual += r.Confusion[c][o]
		}

		var m ClassMetrics
		m.Support = actual
		if predicted > 0 {
			m.Precision = float64(r.Confusion[c][c]) / float64(predicted)
		}
		if actual > 0 {
			m.Recall = float64(r.Confusion[c][c]) / float64(actual)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		macro += m.F1
		perClass[r.Classes[c]] = m
	}

	r.Accuracy = float64(correct) / float64(r.Graded)
	r.MacroF1 = macro / float64(features.NumLabels)
	r.PerClass = perClass
}
