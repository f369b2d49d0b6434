package ml

import "sort"

// Metrics is the evaluation summary of a training run.
type Metrics struct {
	AUC               float64            `json:"auc"`
	Accuracy          float64            `json:"accuracy"`
	TrainingTime      float64            `json:"training_time"`
	AvgProbaTest      float64            `json:"avg_proba_test"`
	ConfusionMatrix   [][]int            `json:"confusion_matrix"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}

// AUC computes the area under the ROC curve via the rank statistic,
// averaging ranks over probability ties.
func AUC(labels []int, probs []float64) float64 {
	type pair struct {
		p float64
		y int
	}
	pairs := make([]pair, len(labels))
	for i := range labels {
		pairs[i] = pair{probs[i], labels[i]}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].p < pairs[b].p })

	nPos, nNeg := 0, 0
	for _, pr := range pairs {
		if pr.y == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}

	rankSum := 0.0
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].p == pairs[i].p {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].y == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}
	return (rankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}

// Accuracy scores predictions thresholded at 0.5.
func Accuracy(labels []int, probs []float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, y := range labels {
		pred := 0
		if probs[i] >= 0.5 {
			pred = 1
		}
		if pred == y {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// ConfusionMatrix returns [[tn, fp], [fn, tp]] at threshold 0.5.
func ConfusionMatrix(labels []int, probs []float64) [][]int {
	m := [][]int{{0, 0}, {0, 0}}
	for i, y := range labels {
		pred := 0
		if probs[i] >= 0.5 {
			pred = 1
		}
		m[y][pred]++
	}
	return m
}

func meanFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
