package ml

import (
	"errors"
	"math"
	"sort"
)

// RegNode is one node of a boosting tree. Value is the Newton step
// (sum of gradients over sum of hessians) estimated at the node, so
// internal nodes carry the partial estimate used for path attribution.
type RegNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	Left       int     `json:"left"`
	Right      int     `json:"right"`
	Value      float64 `json:"value"`
	Impurity   float64 `json:"impurity"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

// RegTree is a shallow regression tree fitted to boosting gradients.
type RegTree struct {
	Nodes []RegNode `json:"nodes"`
}

// Boost is gradient boosting for binary classification in logit space:
// margin(x) = base_score + lr * sum of tree outputs, proba = sigmoid.
type Boost struct {
	Trees        []*RegTree `json:"trees"`
	BaseScore    float64    `json:"base_score"`
	LearningRate float64    `json:"learning_rate"`
	MaxDepth     int        `json:"max_depth"`
}

func (b *Boost) Train(x [][]float64, y []int, nTrees, maxDepth int, seed int64, progress func(step, total int, loss float64)) error {
	if len(x) == 0 || len(x) != len(y) {
		return errors.New("invalid training data")
	}
	if nTrees <= 0 {
		nTrees = 100
	}
	if maxDepth <= 0 {
		maxDepth = 4
	}
	b.MaxDepth = maxDepth
	if b.LearningRate == 0 {
		b.LearningRate = 0.1
	}

	// Base score is the prior log-odds.
	nPos := 0
	for _, label := range y {
		if label == 1 {
			nPos++
		}
	}
	if nPos == 0 || nPos == len(y) {
		return errors.New("training data has a single class")
	}
	prior := float64(nPos) / float64(len(y))
	b.BaseScore = math.Log(prior / (1 - prior))

	margins := make([]float64, len(y))
	for i := range margins {
		margins[i] = b.BaseScore
	}
	grads := make([]float64, len(y))
	hess := make([]float64, len(y))

	b.Trees = make([]*RegTree, 0, nTrees)
	for n := 0; n < nTrees; n++ {
		loss := 0.0
		for i := range y {
			p := Sigmoid(margins[i])
			grads[i] = float64(y[i]) - p
			hess[i] = p * (1 - p)
			if y[i] == 1 {
				loss -= math.Log(p + 1e-10)
			} else {
				loss -= math.Log(1 - p + 1e-10)
			}
		}
		loss /= float64(len(y))

		tree := &RegTree{}
		indices := make([]int, len(x))
		for i := range indices {
			indices[i] = i
		}
		tree.Nodes = growRegTree(x, grads, hess, indices, 0, maxDepth)
		b.Trees = append(b.Trees, tree)

		for i := range x {
			margins[i] += b.LearningRate * tree.Predict(x[i])
		}
		if progress != nil {
			progress(n+1, nTrees, loss)
		}
	}
	return nil
}

// Margin returns base_score + lr * sum of tree outputs.
func (b *Boost) Margin(row []float64) (float64, error) {
	if len(b.Trees) == 0 {
		return 0, ErrNotTrained
	}
	margin := b.BaseScore
	for _, tree := range b.Trees {
		margin += b.LearningRate * tree.Predict(row)
	}
	return margin, nil
}

func (b *Boost) PredictProba(row []float64) (float64, error) {
	margin, err := b.Margin(row)
	if err != nil {
		return 0, err
	}
	return Sigmoid(margin), nil
}

// PerTreeMargins returns each tree's logit increment for the row.
func (b *Boost) PerTreeMargins(row []float64) ([]float64, error) {
	if len(b.Trees) == 0 {
		return nil, ErrNotTrained
	}
	out := make([]float64, len(b.Trees))
	for i, tree := range b.Trees {
		out[i] = b.LearningRate * tree.Predict(row)
	}
	return out, nil
}

// FeatureImportance is the normalized variance-reduction gain per feature.
func (b *Boost) FeatureImportance(dim int) []float64 {
	gains := make([]float64, dim)
	for _, tree := range b.Trees {
		for _, node := range tree.Nodes {
			if node.IsLeaf || node.FeatureIdx < 0 || node.FeatureIdx >= dim {
				continue
			}
			left := tree.Nodes[node.Left]
			right := tree.Nodes[node.Right]
			gain := node.Impurity*float64(node.Samples) -
				left.Impurity*float64(left.Samples) -
				right.Impurity*float64(right.Samples)
			if gain > 0 {
				gains[node.FeatureIdx] += gain
			}
		}
	}
	total := 0.0
	for _, g := range gains {
		total += g
	}
	if total > 0 {
		for i := range gains {
			gains[i] /= total
		}
	}
	return gains
}

func (t *RegTree) Predict(row []float64) float64 {
	path, err := t.Path(row)
	if err != nil || len(path) == 0 {
		return 0
	}
	return t.Nodes[path[len(path)-1]].Value
}

// Path returns the node indices visited for a row, root to leaf.
func (t *RegTree) Path(row []float64) ([]int, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotTrained
	}
	path := make([]int, 0, 8)
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

func growRegTree(x [][]float64, grads, hess []float64, indices []int, depth, maxDepth int) []RegNode {
	value := newtonStep(grads, hess, indices)
	impurity := gradVariance(grads, indices)
	leaf := RegNode{
		FeatureIdx: -1,
		Left:       -1,
		Right:      -1,
		Value:      value,
		Impurity:   impurity,
		Samples:    len(indices),
		IsLeaf:     true,
	}
	if depth >= maxDepth || len(indices) < 10 || impurity == 0 {
		return []RegNode{leaf}
	}

	feature, threshold, ok := bestVarianceSplit(x, grads, indices)
	if !ok {
		return []RegNode{leaf}
	}
	leftIdx, rightIdx := partition(x, indices, feature, threshold)
	if len(leftIdx) < 5 || len(rightIdx) < 5 {
		return []RegNode{leaf}
	}

	leftNodes := growRegTree(x, grads, hess, leftIdx, depth+1, maxDepth)
	rightNodes := growRegTree(x, grads, hess, rightIdx, depth+1, maxDepth)

	root := RegNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		Left:       1,
		Right:      1 + len(leftNodes),
		Value:      value,
		Impurity:   impurity,
		Samples:    len(indices),
	}
	nodes := make([]RegNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetRegNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetRegNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

func offsetRegNodes(nodes []RegNode, offset int) []RegNode {
	for i := range nodes {
		if !nodes[i].IsLeaf {
			nodes[i].Left += offset
			nodes[i].Right += offset
		}
	}
	return nodes
}

func newtonStep(grads, hess []float64, indices []int) float64 {
	g, h := 0.0, 0.0
	for _, i := range indices {
		g += grads[i]
		h += hess[i]
	}
	if h == 0 {
		return 0
	}
	return g / h
}

func gradVariance(grads []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	mean := 0.0
	for _, i := range indices {
		mean += grads[i]
	}
	mean /= float64(len(indices))
	variance := 0.0
	for _, i := range indices {
		d := grads[i] - mean
		variance += d * d
	}
	return variance / float64(len(indices))
}

func bestVarianceSplit(x [][]float64, grads []float64, indices []int) (int, float64, bool) {
	dim := len(x[indices[0]])
	bestFeature, bestThreshold := -1, 0.0
	bestScore := math.MaxFloat64

	for f := 0; f < dim; f++ {
		for _, threshold := range regThresholds(x, indices, f) {
			lSum, lCount, rSum, rCount := 0.0, 0, 0.0, 0
			for _, i := range indices {
				if x[i][f] <= threshold {
					lSum += grads[i]
					lCount++
				} else {
					rSum += grads[i]
					rCount++
				}
			}
			if lCount == 0 || rCount == 0 {
				continue
			}
			// Minimizing within-group sum of squares is equivalent to
			// maximizing the between-group term, computed here cheaply.
			score := -(lSum*lSum/float64(lCount) + rSum*rSum/float64(rCount))
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

func regThresholds(x [][]float64, indices []int, feature int) []float64 {
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
