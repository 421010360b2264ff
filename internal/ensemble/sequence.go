package ensemble

import (
	"fmt"
	"math/rand"

	"stackcast/internal/features"
)

// SeqParams tune the optional sequence learner.
type SeqParams struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" default:"true"`
	Window       int     `yaml:"window" json:"window" default:"8"`
	MinTrainRows int     `yaml:"min_train_rows" json:"min_train_rows" default:"120"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate" default:"0.05"`
	Epochs       int     `yaml:"epochs" json:"epochs" default:"150"`
	L2           float64 `yaml:"l2" json:"l2" default:"0.0001"`
}

// SequenceHead is the optional third base learner. It consumes flattened
// windows of the last Window scaled rows, so unlike the pointwise learners it
// sees short-range temporal structure. At inference a single reconstructed
// vector is tiled across the window, mirroring how the training-time shape is
// preserved.
type SequenceHead struct {
	Params SeqParams   `json:"params"`
	Core   linearModel `json:"core"`

	seed int64
}

// NewSequenceHead creates an unfitted sequence learner.
func NewSequenceHead(p SeqParams, seed int64) *SequenceHead {
	return &SequenceHead{Params: p, seed: seed}
}

func (sh *SequenceHead) Name() string { return "sequence" }

func (sh *SequenceHead) Capabilities() Capabilities {
	return Capabilities{SequenceWindow: sh.Params.Window, MinTrainRows: sh.Params.MinTrainRows}
}

// Fit builds one training example per row from index Window-1 on: the
// flattened window ending at that row, labeled with the row's label.
func (sh *SequenceHead) Fit(rows [][]float64, labels []features.Label) error {
	w := sh.Params.Window
	if len(rows) < sh.Params.MinTrainRows {
		return fmt.Errorf("sequence head: %d rows is below the minimum %d", len(rows), sh.Params.MinTrainRows)
	}

	inputs := make([][]float64, 0, len(rows)-w+1)
	windowLabels := make([]features.Label, 0, len(rows)-w+1)
	for i := w - 1; i < len(rows); i++ {
		inputs = append(inputs, flattenWindow(rows[i-w+1:i+1]))
		windowLabels = append(windowLabels, labels[i])
	}

	rng := rand.New(rand.NewSource(sh.seed))
	sh.Core = newLinearModel(len(inputs[0]), rng)
	sh.Core.fit(inputs, windowLabels, sh.Params.LearningRate, sh.Params.Epochs, sh.Params.L2, rng)
	return nil
}

// PredictProba pads short windows by repeating the oldest row, then scores
// the flattened window.
func (sh *SequenceHead) PredictProba(window [][]float64) []float64 {
	return sh.Core.predict(flattenWindow(tailWindow(window, sh.Params.Window)))
}

func flattenWindow(window [][]float64) []float64 {
	if len(window) == 0 {
		return nil
	}
	out := make([]float64, 0, len(window)*len(window[0]))
	for _, row := range window {
		out = append(out, row...)
	}
	return out
}
