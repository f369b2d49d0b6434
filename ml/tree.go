package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// TreeNode is one node of a classification tree stored in a flat slice.
// Value is the weighted fraction of positive samples at the node.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	Left       int     `json:"left"`
	Right      int     `json:"right"`
	Value      float64 `json:"value"`
	Impurity   float64 `json:"impurity"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

// Tree is a binary classification tree with probability leaves.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

type treeParams struct {
	maxDepth    int
	minLeaf     int
	featureFrac float64
	rnd         *rand.Rand
}

// Fit grows the tree with gini splits. weights are per-sample weights
// (class balancing); pass nil for uniform.
func (t *Tree) Fit(x [][]float64, y []int, weights []float64, maxDepth, minLeaf int, featureFrac float64, rnd *rand.Rand) error {
	if len(x) == 0 || len(x) != len(y) {
		return errors.New("invalid training data")
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if minLeaf <= 0 {
		minLeaf = 5
	}
	if weights == nil {
		weights = make([]float64, len(y))
		for i := range weights {
			weights[i] = 1
		}
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(42))
	}
	params := treeParams{maxDepth: maxDepth, minLeaf: minLeaf, featureFrac: featureFrac, rnd: rnd}

	indices := make([]int, len(x))
	for i := range indices {
		indices[i] = i
	}
	t.Nodes = t.grow(x, y, weights, indices, 0, params)
	return nil
}

func (t *Tree) grow(x [][]float64, y []int, weights []float64, indices []int, depth int, params treeParams) []TreeNode {
	value, impurity := nodeStats(y, weights, indices)
	leaf := TreeNode{
		FeatureIdx: -1,
		Left:       -1,
		Right:      -1,
		Value:      value,
		Impurity:   impurity,
		Samples:    len(indices),
		IsLeaf:     true,
	}
	if depth >= params.maxDepth || impurity == 0 || len(indices) < 2*params.minLeaf {
		return []TreeNode{leaf}
	}

	feature, threshold, ok := bestGiniSplit(x, y, weights, indices, params)
	if !ok {
		return []TreeNode{leaf}
	}

	leftIdx, rightIdx := partition(x, indices, feature, threshold)
	if len(leftIdx) < params.minLeaf || len(rightIdx) < params.minLeaf {
		return []TreeNode{leaf}
	}

	leftNodes := t.grow(x, y, weights, leftIdx, depth+1, params)
	rightNodes := t.grow(x, y, weights, rightIdx, depth+1, params)

	root := TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		Left:       1,
		Right:      1 + len(leftNodes),
		Value:      value,
		Impurity:   impurity,
		Samples:    len(indices),
	}
	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes shifts child links so the subtree slice can be appended to
// the parent slice.
func offsetNodes(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if !nodes[i].IsLeaf {
			nodes[i].Left += offset
			nodes[i].Right += offset
		}
	}
	return nodes
}

// PredictProba walks to a leaf and returns its positive-class fraction.
func (t *Tree) PredictProba(row []float64) (float64, error) {
	path, err := t.Path(row)
	if err != nil {
		return 0, err
	}
	return t.Nodes[path[len(path)-1]].Value, nil
}

// Path returns the node indices visited for a row, root to leaf.
func (t *Tree) Path(row []float64) ([]int, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotTrained
	}
	path := make([]int, 0, 16)
	idx := 0
	for {
		path = append(path, idx)
		node := t.Nodes[idx]
		if node.IsLeaf {
			return path, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(row) {
			return nil, errors.New("feature index out of range")
		}
		if row[node.FeatureIdx] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

// ImportanceGain accumulates weighted impurity decrease per feature.
func (t *Tree) ImportanceGain(out []float64) {
	for _, node := range t.Nodes {
		if node.IsLeaf || node.FeatureIdx < 0 || node.FeatureIdx >= len(out) {
			continue
		}
		left := t.Nodes[node.Left]
		right := t.Nodes[node.Right]
		gain := node.Impurity*float64(node.Samples) -
			left.Impurity*float64(left.Samples) -
			right.Impurity*float64(right.Samples)
		if gain > 0 {
			out[node.FeatureIdx] += gain
		}
	}
}

func nodeStats(y []int, weights []float64, indices []int) (value, impurity float64) {
	total, pos := 0.0, 0.0
	for _, i := range indices {
		total += weights[i]
		if y[i] == 1 {
			pos += weights[i]
		}
	}
	if total == 0 {
		return 0, 0
	}
	p := pos / total
	return p, 2 * p * (1 - p) // binary gini
}

func bestGiniSplit(x [][]float64, y []int, weights []float64, indices []int, params treeParams) (int, float64, bool) {
	dim := len(x[indices[0]])
	features := candidateFeatures(dim, params.featureFrac, params.rnd)

	bestFeature, bestThreshold := -1, 0.0
	bestScore := math.MaxFloat64
	for _, f := range features {
		for _, threshold := range candidateThresholds(x, indices, f) {
			lTotal, lPos, rTotal, rPos := 0.0, 0.0, 0.0, 0.0
			for _, i := range indices {
				if x[i][f] <= threshold {
					lTotal += weights[i]
					if y[i] == 1 {
						lPos += weights[i]
					}
				} else {
					rTotal += weights[i]
					if y[i] == 1 {
						rPos += weights[i]
					}
				}
			}
			if lTotal == 0 || rTotal == 0 {
				continue
			}
			score := lTotal*giniOf(lPos/lTotal) + rTotal*giniOf(rPos/rTotal)
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func giniOf(p float64) float64 {
	return 2 * p * (1 - p)
}

// candidateThresholds picks deciles of the feature over the node's rows.
func candidateThresholds(x [][]float64, indices []int, feature int) []float64 {
	values := make([]float64, 0, len(indices))
	for _, i := range indices {
		values = append(values, x[i][feature])
	}
	sort.Float64s(values)

	thresholds := make([]float64, 0, 9)
	last := math.NaN()
	for q := 1; q <= 9; q++ {
		v := values[(len(values)-1)*q/10]
		if v != last {
			thresholds = append(thresholds, v)
			last = v
		}
	}
	return thresholds
}

func candidateFeatures(dim int, frac float64, rnd *rand.Rand) []int {
	if frac <= 0 || frac >= 1 {
		all := make([]int, dim)
		for i := range all {
			all[i] = i
		}
		return all
	}
	n := int(math.Ceil(frac * float64(dim)))
	if n < 1 {
		n = 1
	}
	perm := rnd.Perm(dim)
	return perm[:n]
}

func partition(x [][]float64, indices []int, feature int, threshold float64) (left, right []int) {
	for _, i := range indices {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
