// Package ml implements the credit scoring models: logistic regression,
// random forest, gradient boosting and a small feed-forward network.
package ml

import (
	"errors"
	"fmt"
	"math"
)

// Kind identifies a model family. The wire names match the frontend.
type Kind string

const (
	KindLogistic Kind = "logistic"
	KindForest   Kind = "rf"
	KindBoost    Kind = "xgb"
	KindMLP      Kind = "mlp"
)

var ErrNotTrained = errors.New("model not trained")

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLogistic, KindForest, KindBoost, KindMLP:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown model type: %q", s)
	}
}

// TrainOptions carries the tunables of a training request.
type TrainOptions struct {
	Features     []string
	Scale        bool
	NEstimators  int
	HiddenLayers []int
	Epochs       int
	Seed         int64

	// Progress, when set, is invoked during iterative training
	// (per epoch for the MLP, per tree for the ensembles).
	Progress func(step, total int, loss float64)
}

// LogOdds maps a probability to logit space. The epsilon keeps p=1
// finite.
func LogOdds(p float64) float64 {
	return math.Log(p / (1 - p + 1e-10))
}

// Sigmoid is the logistic function.
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Sanitize maps NaN/Inf to 0 so metric payloads stay JSON-safe.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
