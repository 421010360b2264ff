package ensemble

import "sort"

// treeNode is one node of a regression tree in the flattened node array.
// Leaves have Left == -1 and carry the output value.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// regTree is a shallow regression tree fitted to gradient/hessian targets.
type regTree struct {
	Nodes []treeNode `json:"nodes"`
}

type treeParams struct {
	maxDepth int
	minLeaf  int
	lambda   float64
}

// treeBuilder carries the state shared across the recursive split search.
type treeBuilder struct {
	rows    [][]float64
	grad    []float64
	hess    []float64
	feats   []int
	prm     treeParams
	gainAcc []float64 // per-feature accumulated split gain
	nodes   []treeNode
}

// buildTree fits one regression tree on the given row indices using the
// classic second-order greedy split: gain = G_L²/(H_L+λ) + G_R²/(H_R+λ) −
// G²/(H+λ). Split gains are accumulated per feature for importance.
func buildTree(rows [][]float64, grad, hess []float64, idx, feats []int, prm treeParams, gainAcc []float64) *regTree {
	b := &treeBuilder{rows: rows, grad: grad, hess: hess, feats: feats, prm: prm, gainAcc: gainAcc}
	b.grow(idx, 0)
	return &regTree{Nodes: b.nodes}
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	var g, h float64
	for _, i := range idx {
		g += b.grad[i]
		h += b.hess[i]
	}

	if depth >= b.prm.maxDepth || len(idx) < 2*b.prm.minLeaf {
		return b.leaf(g, h)
	}

	feature, threshold, gain, left, right := b.bestSplit(idx, g, h)
	if gain <= 0 {
		return b.leaf(g, h)
	}
	b.gainAcc[feature] += gain

	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: feature, Threshold: threshold})
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[pos].Left = l
	b.nodes[pos].Right = r
	return pos
}

func (b *treeBuilder) leaf(g, h float64) int {
	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Left: -1, Right: -1, Value: -g / (h + b.prm.lambda)})
	return pos
}

// bestSplit scans every candidate feature for the highest-gain threshold.
// Ties resolve to the first candidate in feature order, keeping the tree
// deterministic for a fixed feature subset.
func (b *treeBuilder) bestSplit(idx []int, gTotal, hTotal float64) (feature int, threshold, gain float64, left, right []int) {
	feature = -1
	parent := gTotal * gTotal / (hTotal + b.prm.lambda)

	order := make([]int, len(idx))
	for _, f := range b.feats {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.rows[order[a]][f] < b.rows[order[c]][f] })

		var gL, hL float64
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			gL += b.grad[i]
			hL += b.hess[i]

			cur, next := b.rows[i][f], b.rows[order[pos+1]][f]
			if cur == next {
				continue
			}
			nLeft := pos + 1
			if nLeft < b.prm.minLeaf || len(order)-nLeft < b.prm.minLeaf {
				continue
			}

			gR := gTotal - gL
			hR := hTotal - hL
			split := gL*gL/(hL+b.prm.lambda) + gR*gR/(hR+b.prm.lambda) - parent
			if split > gain {
				gain = split
				feature = f
				threshold = (cur + next) / 2
			}
		}
	}
	if feature < 0 {
		return -1, 0, 0, nil, nil
	}

	for _, i := range idx {
		if b.rows[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return feature, threshold, gain, left, right
}

// predict walks the tree for one row.
func (t *regTree) predict(row []float64) float64 {
	n := 0
	for {
		node := t.Nodes[n]
		if node.Left < 0 {
			return node.Value
		}
		if row[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}
