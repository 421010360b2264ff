package ensemble

import (
	"fmt"
	"math/rand"

	"stackcast/internal/features"
)

// MetaParams tune the second-layer combiner.
type MetaParams struct {
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate" default:"0.05"`
	Epochs       int     `yaml:"epochs" json:"epochs" default:"300"`
	L2           float64 `yaml:"l2" json:"l2" default:"0.0001"`
}

// MetaCombiner is the second ensemble layer: a multinomial logistic model
// over the concatenated base-learner probability vectors. It is refit on
// every training run, since any base retrain invalidates the previous
// combination weights. LearnerOrder pins the concatenation order.
type MetaCombiner struct {
	Params       MetaParams  `json:"params"`
	Core         linearModel `json:"core"`
	LearnerOrder []string    `json:"learner_order"`

	seed int64
}

// NewMetaCombiner creates an unfitted combiner for the given base learner
// order.
func NewMetaCombiner(p MetaParams, learnerOrder []string, seed int64) *MetaCombiner {
	return &MetaCombiner{Params: p, LearnerOrder: learnerOrder, seed: seed}
}

// Fit trains the combiner on stacked base probabilities.
func (mc *MetaCombiner) Fit(inputs [][]float64, labels []features.Label) error {
	if len(inputs) == 0 {
		return fmt.Errorf("meta combiner: no stacked inputs")
	}
	want := len(mc.LearnerOrder) * features.NumLabels
	if len(inputs[0]) != want {
		return &features.SchemaMismatchError{Want: want, Got: len(inputs[0])}
	}

	rng := rand.New(rand.NewSource(mc.seed))
	mc.Core = newLinearModel(len(inputs[0]), rng)
	mc.Core.fit(inputs, labels, mc.Params.LearningRate, mc.Params.Epochs, mc.Params.L2, rng)
	return nil
}

// PredictProba combines one stacked probability vector.
func (mc *MetaCombiner) PredictProba(stacked []float64) ([]float64, error) {
	want := len(mc.LearnerOrder) * features.NumLabels
	if len(stacked) != want {
		return nil, &features.SchemaMismatchError{Want: want, Got: len(stacked)}
	}
	return mc.Core.predict(stacked), nil
}
