package ensemble

import (
	"math/rand"

	"stackcast/internal/features"
)

// linearModel is a multinomial logistic core shared by the meta-combiner and
// the sequence head: logits = Wx + b, probabilities via softmax.
type linearModel struct {
	W [][]float64 `json:"w"` // [class][input]
	B []float64   `json:"b"`
}

func newLinearModel(inputs int, rng *rand.Rand) linearModel {
	m := linearModel{
		W: make([][]float64, features.NumLabels),
		B: make([]float64, features.NumLabels),
	}
	for k := range m.W {
		m.W[k] = make([]float64, inputs)
		for i := range m.W[k] {
			m.W[k][i] = (rng.Float64() - 0.5) * 0.1
		}
	}
	return m
}

func (m *linearModel) predict(x []float64) []float64 {
	logits := make([]float64, features.NumLabels)
	for k := range m.W {
		sum := m.B[k]
		for i, v := range x {
			sum += m.W[k][i] * v
		}
		logits[k] = sum
	}
	return softmax(logits)
}

// fit runs plain SGD with L2 shrinkage and class weighting over the examples
// in chronological order; the seeded rng shuffles within each epoch.
func (m *linearModel) fit(inputs [][]float64, labels []features.Label, lr float64, epochs int, l2 float64, rng *rand.Rand) {
	weights := classWeights(labels)

	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			x := inputs[idx]
			probs := m.predict(x)
			w := weights[labels[idx]]
			for k := range m.W {
				y := 0.0
				if int(labels[idx]) == k {
					y = 1.0
				}
				g := (probs[k] - y) * w
				row := m.W[k]
				for i, v := range x {
					row[i] -= lr * (g*v + l2*row[i])
				}
				m.B[k] -= lr * g
			}
		}
	}
}
