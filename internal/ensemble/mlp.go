package ensemble

import (
	"fmt"
	"math/rand"

	"stackcast/internal/features"
)

// NetParams tune the feed-forward base learner.
type NetParams struct {
	Hidden       []int   `yaml:"hidden" json:"hidden" default:"[64,32]"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate" default:"0.01"`
	Epochs       int     `yaml:"epochs" json:"epochs" default:"200"`
	BatchSize    int     `yaml:"batch_size" json:"batch_size" default:"16"`
	Patience     int     `yaml:"patience" json:"patience" default:"5"`
	ValFraction  float64 `yaml:"val_fraction" json:"val_fraction" default:"0.15"`
}

// netLayer is one dense layer: Weights[out][in] plus a bias per output unit.
type netLayer struct {
	Weights [][]float64 `json:"w"`
	Biases  []float64   `json:"b"`
}

// NeuralNet is the feed-forward base learner: ReLU hidden layers with a
// softmax head, trained with class-weighted cross-entropy and early stopping
// on a chronological validation tail.
type NeuralNet struct {
	Params NetParams  `json:"params"`
	Layers []netLayer `json:"layers"`

	seed int64
}

// NewNeuralNet creates an unfitted network. Weight initialization and batch
// shuffling derive from the seed.
func NewNeuralNet(p NetParams, seed int64) *NeuralNet {
	return &NeuralNet{Params: p, seed: seed}
}

func (nn *NeuralNet) Name() string { return "feed_forward" }

func (nn *NeuralNet) Capabilities() Capabilities {
	return Capabilities{MinTrainRows: 4 * nn.Params.BatchSize}
}

// Fit trains the network. The last ValFraction of the rows (never shuffled
// across the boundary) serves as the early-stopping validation tail.
func (nn *NeuralNet) Fit(rows [][]float64, labels []features.Label) error {
	n := len(rows)
	if n < 4*nn.Params.BatchSize {
		return fmt.Errorf("feed forward: %d rows is below the minimum %d", n, 4*nn.Params.BatchSize)
	}

	valStart := n - int(float64(n)*nn.Params.ValFraction)
	if valStart >= n {
		valStart = n - 1
	}
	if valStart < 1 {
		valStart = 1
	}
	trainRows, trainLabels := rows[:valStart], labels[:valStart]
	valRows, valLabels := rows[valStart:], labels[valStart:]

	rng := rand.New(rand.NewSource(nn.seed))
	nn.initLayers(len(rows[0]), rng)
	weights := classWeights(trainLabels)

	bestAcc := -1.0
	var best []netLayer
	patience := 0

	order := make([]int, len(trainRows))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < nn.Params.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, i := range order {
			nn.step(trainRows[i], trainLabels[i], weights[trainLabels[i]])
		}

		acc := nn.accuracy(valRows, valLabels)
		if acc > bestAcc {
			bestAcc = acc
			best = nn.copyLayers()
			patience = 0
		} else {
			patience++
			if patience >= nn.Params.Patience {
				break
			}
		}
	}

	if best != nil {
		nn.Layers = best
	}
	return nil
}

// PredictProba scores the last row of the window.
func (nn *NeuralNet) PredictProba(window [][]float64) []float64 {
	activations, _ := nn.forward(window[len(window)-1])
	return activations[len(activations)-1]
}

// initLayers builds hidden layers plus the softmax head with small symmetric
// random weights.
func (nn *NeuralNet) initLayers(inputs int, rng *rand.Rand) {
	sizes := append([]int{inputs}, nn.Params.Hidden...)
	sizes = append(sizes, features.NumLabels)

	nn.Layers = make([]netLayer, len(sizes)-1)
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		layer := netLayer{
			Weights: make([][]float64, out),
			Biases:  make([]float64, out),
		}
		for o := 0; o < out; o++ {
			layer.Weights[o] = make([]float64, in)
			for i := 0; i < in; i++ {
				layer.Weights[o][i] = (rng.Float64() - 0.5) * 0.1
			}
		}
		nn.Layers[l] = layer
	}
}

// forward returns the activations of every layer (input first) and the
// pre-activation sums of the hidden layers for the ReLU mask.
func (nn *NeuralNet) forward(row []float64) ([][]float64, [][]float64) {
	activations := make([][]float64, len(nn.Layers)+1)
	preacts := make([][]float64, len(nn.Layers))
	activations[0] = row

	for l, layer := range nn.Layers {
		in := activations[l]
		z := make([]float64, len(layer.Weights))
		for o, w := range layer.Weights {
			sum := layer.Biases[o]
			for i, v := range in {
				sum += w[i] * v
			}
			z[o] = sum
		}
		preacts[l] = z

		if l == len(nn.Layers)-1 {
			activations[l+1] = softmax(z)
			continue
		}
		a := make([]float64, len(z))
		for i, v := range z {
			if v > 0 {
				a[i] = v
			}
		}
		activations[l+1] = a
	}
	return activations, preacts
}

// step runs one weighted SGD update for a single example.
func (nn *NeuralNet) step(row []float64, label features.Label, weight float64) {
	activations, preacts := nn.forward(row)
	lr := nn.Params.LearningRate

	// output delta: (p - onehot) scaled by the class weight
	out := activations[len(activations)-1]
	delta := make([]float64, len(out))
	for k := range out {
		y := 0.0
		if int(label) == k {
			y = 1.0
		}
		delta[k] = (out[k] - y) * weight
	}

	for l := len(nn.Layers) - 1; l >= 0; l-- {
		layer := &nn.Layers[l]
		in := activations[l]

		var next []float64
		if l > 0 {
			next = make([]float64, len(in))
			for o, w := range layer.Weights {
				for i := range in {
					next[i] += w[i] * delta[o]
				}
			}
			// ReLU mask from the previous layer's pre-activations
			for i := range next {
				if preacts[l-1][i] <= 0 {
					next[i] = 0
				}
			}
		}

		for o, w := range layer.Weights {
			for i := range in {
				w[i] -= lr * delta[o] * in[i]
			}
			layer.Biases[o] -= lr * delta[o]
		}
		delta = next
	}
}

func (nn *NeuralNet) accuracy(rows [][]float64, labels []features.Label) float64 {
	if len(rows) == 0 {
		return 0
	}
	correct := 0
	for i, row := range rows {
		probs := nn.PredictProba([][]float64{row})
		if features.Label(argmax(probs)) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows))
}

func (nn *NeuralNet) copyLayers() []netLayer {
	out := make([]netLayer, len(nn.Layers))
	for l, layer := range nn.Layers {
		cp := netLayer{
			Weights: make([][]float64, len(layer.Weights)),
			Biases:  append([]float64(nil), layer.Biases...),
		}
		for o, w := range layer.Weights {
			cp.Weights[o] = append([]float64(nil), w...)
		}
		out[l] = cp
	}
	return out
}
