package ensemble

import (
	"fmt"
	"math"
	"math/rand"

	"stackcast/internal/features"
)

// BoostParams tune the boosted-tree learner. Defaults follow the documented
// hyperparameter table.
type BoostParams struct {
	Rounds       int     `yaml:"rounds" json:"rounds" default:"60"`
	MaxDepth     int     `yaml:"max_depth" json:"max_depth" default:"4"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate" default:"0.1"`
	Subsample    float64 `yaml:"subsample" json:"subsample" default:"0.8"`
	ColSample    float64 `yaml:"colsample" json:"colsample" default:"0.8"`
	MinLeaf      int     `yaml:"min_leaf" json:"min_leaf" default:"5"`
	Lambda       float64 `yaml:"lambda" json:"lambda" default:"1.0"`
}

// BoostedTrees is the gradient-boosted tree base learner: one shallow
// regression tree per class per round, fitted to softmax residuals.
type BoostedTrees struct {
	Params      BoostParams  `json:"params"`
	Base        []float64    `json:"base"`  // per-class prior log-odds
	Trees       [][]*regTree `json:"trees"` // [round][class]
	Gain        []float64    `json:"gain"`  // per-feature accumulated split gain
	NumFeatures int          `json:"num_features"`

	seed int64
}

// NewBoostedTrees creates an unfitted boosted-tree learner. The seed fixes
// row and column subsampling, making training fully reproducible.
func NewBoostedTrees(p BoostParams, seed int64) *BoostedTrees {
	return &BoostedTrees{Params: p, seed: seed}
}

func (b *BoostedTrees) Name() string { return "boosted_trees" }

func (b *BoostedTrees) Capabilities() Capabilities {
	return Capabilities{MinTrainRows: 2 * b.Params.MinLeaf}
}

// Fit trains Rounds×classes trees on the scaled matrix.
func (b *BoostedTrees) Fit(rows [][]float64, labels []features.Label) error {
	n := len(rows)
	if n < 2*b.Params.MinLeaf {
		return fmt.Errorf("boosted trees: %d rows is below the minimum %d", n, 2*b.Params.MinLeaf)
	}
	width := len(rows[0])
	rng := rand.New(rand.NewSource(b.seed))

	b.NumFeatures = width
	b.Gain = make([]float64, width)
	b.Base = priorLogOdds(labels)
	b.Trees = make([][]*regTree, 0, b.Params.Rounds)

	// running logits per row
	logits := make([][]float64, n)
	for i := range logits {
		logits[i] = make([]float64, features.NumLabels)
		copy(logits[i], b.Base)
	}

	prm := treeParams{maxDepth: b.Params.MaxDepth, minLeaf: b.Params.MinLeaf, lambda: b.Params.Lambda}
	grad := make([]float64, n)
	hess := make([]float64, n)

	for round := 0; round < b.Params.Rounds; round++ {
		idx := sampleRows(rng, n, b.Params.Subsample)
		feats := sampleFeatures(rng, width, b.Params.ColSample)

		probs := make([][]float64, n)
		for i := range probs {
			probs[i] = softmax(logits[i])
		}

		classTrees := make([]*regTree, features.NumLabels)
		for k := 0; k < features.NumLabels; k++ {
			for i := 0; i < n; i++ {
				y := 0.0
				if int(labels[i]) == k {
					y = 1.0
				}
				grad[i] = probs[i][k] - y
				hess[i] = probs[i][k] * (1 - probs[i][k])
			}
			tree := buildTree(rows, grad, hess, idx, feats, prm, b.Gain)
			classTrees[k] = tree
			for i := 0; i < n; i++ {
				logits[i][k] += b.Params.LearningRate * tree.predict(rows[i])
			}
		}
		b.Trees = append(b.Trees, classTrees)
	}
	return nil
}

// PredictProba scores the last row of the window.
func (b *BoostedTrees) PredictProba(window [][]float64) []float64 {
	row := window[len(window)-1]
	logits := make([]float64, features.NumLabels)
	copy(logits, b.Base)
	for _, classTrees := range b.Trees {
		for k, tree := range classTrees {
			logits[k] += b.Params.LearningRate * tree.predict(row)
		}
	}
	return softmax(logits)
}

// Importance returns the per-feature split gains normalized to sum to 1.
// Returns nil when the learner never split (degenerate data).
func (b *BoostedTrees) Importance() []float64 {
	var total float64
	for _, g := range b.Gain {
		total += g
	}
	if total <= 0 {
		return nil
	}
	out := make([]float64, len(b.Gain))
	for i, g := range b.Gain {
		out[i] = g / total
	}
	return out
}

// priorLogOdds seeds the logits with the class priors so early rounds start
// from the base rate instead of a flat distribution.
func priorLogOdds(labels []features.Label) []float64 {
	counts := classCounts(labels)
	total := float64(len(labels))
	out := make([]float64, features.NumLabels)
	for k, c := range counts {
		p := (float64(c) + 1) / (total + features.NumLabels) // Laplace smoothing
		out[k] = math.Log(p)
	}
	return out
}

func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	take := int(math.Ceil(fraction * float64(n)))
	if take >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rng.Perm(n)[:take]
	return perm
}

func sampleFeatures(rng *rand.Rand, width int, fraction float64) []int {
	take := int(math.Ceil(fraction * float64(width)))
	if take < 1 {
		take = 1
	}
	if take >= width {
		feats := make([]int, width)
		for i := range feats {
			feats[i] = i
		}
		return feats
	}
	return rng.Perm(width)[:take]
}
