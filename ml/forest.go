package ml

import (
	"errors"
	"math"
	"math/rand"
)

// Forest is a bagged ensemble of classification trees. Each tree trains
// on a bootstrap sample with sqrt feature subsampling and balanced
// per-sample weights, mirroring balanced_subsample random forests.
type Forest struct {
	Trees    []*Tree `json:"trees"`
	MaxDepth int     `json:"max_depth"`
}

func (f *Forest) Train(x [][]float64, y []int, nTrees, maxDepth int, seed int64, progress func(step, total int, loss float64)) error {
	if len(x) == 0 || len(x) != len(y) {
		return errors.New("invalid training data")
	}
	if nTrees <= 0 {
		nTrees = 100
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}
	f.MaxDepth = maxDepth
	f.Trees = make([]*Tree, 0, nTrees)

	rnd := rand.New(rand.NewSource(seed))
	featureFrac := math.Sqrt(float64(len(x[0]))) / float64(len(x[0]))

	for n := 0; n < nTrees; n++ {
		bootX := make([][]float64, len(x))
		bootY := make([]int, len(y))
		for i := range x {
			j := rnd.Intn(len(x))
			bootX[i] = x[j]
			bootY[i] = y[j]
		}

		tree := &Tree{}
		treeRnd := rand.New(rand.NewSource(seed + int64(n) + 1))
		if err := tree.Fit(bootX, bootY, balancedWeights(bootY), maxDepth, 5, featureFrac, treeRnd); err != nil {
			return err
		}
		f.Trees = append(f.Trees, tree)
		if progress != nil {
			progress(n+1, nTrees, 0)
		}
	}
	return nil
}

// PredictProba averages the leaf probabilities of all trees.
func (f *Forest) PredictProba(row []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, ErrNotTrained
	}
	sum := 0.0
	for _, tree := range f.Trees {
		p, err := tree.PredictProba(row)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}

// PerTreeProbas returns each tree's probability for the row.
func (f *Forest) PerTreeProbas(row []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotTrained
	}
	out := make([]float64, len(f.Trees))
	for i, tree := range f.Trees {
		p, err := tree.PredictProba(row)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// FeatureImportance is the normalized mean impurity-decrease per feature.
func (f *Forest) FeatureImportance(dim int) []float64 {
	gains := make([]float64, dim)
	for _, tree := range f.Trees {
		tree.ImportanceGain(gains)
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

func balancedWeights(y []int) []float64 {
	nPos := 0
	for _, label := range y {
		if label == 1 {
			nPos++
		}
	}
	nNeg := len(y) - nPos
	if nPos == 0 || nNeg == 0 {
		return nil
	}
	wPos := float64(len(y)) / (2 * float64(nPos))
	wNeg := float64(len(y)) / (2 * float64(nNeg))
	weights := make([]float64, len(y))
	for i, label := range y {
		if label == 1 {
			weights[i] = wPos
		} else {
			weights[i] = wNeg
		}
	}
	return weights
}
