package explain

import (
	"fmt"
	"math"

	"github.com/Kerremmarket/credit/ml"
)

// Curve is one feature's partial dependence: the mean model response as
// the feature sweeps its observed range with everything else held at
// the sample's values.
type Curve struct {
	Feature string    `json:"feature"`
	Grid    []float64 `json:"grid"`
	Values  []float64 `json:"values"`
}

// PDP holds the dependence curves of a request.
type PDP struct {
	Model      string  `json:"model"`
	SampleSize int     `json:"sample_size"`
	Curves     []Curve `json:"curves"`
}

// PartialDependence computes curves for the named features over raw
// sample rows. Grid points span the observed range of each feature;
// responses are probabilities.
func PartialDependence(t *ml.Trained, rows [][]float64, features []string, gridSize int) (*PDP, error) {
	if gridSize <= 1 {
		gridSize = 20
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows for dependence plot")
	}

	featureIdx := make(map[string]int, len(t.Features))
	for j, f := range t.Features {
		featureIdx[f] = j
	}

	out := &PDP{Model: string(t.Kind), SampleSize: len(rows), Curves: make([]Curve, 0, len(features))}
	for _, feature := range features {
		j, ok := featureIdx[feature]
		if !ok {
			return nil, fmt.Errorf("feature %q not in model", feature)
		}

		lo, hi, found := observedRange(rows, j)
		if !found {
			return nil, fmt.Errorf("feature %q has no observed values", feature)
		}

		curve := Curve{
			Feature: feature,
			Grid:    make([]float64, gridSize),
			Values:  make([]float64, gridSize),
		}
		step := (hi - lo) / float64(gridSize-1)
		for g := 0; g < gridSize; g++ {
			v := lo + step*float64(g)
			curve.Grid[g] = v

			sum := 0.0
			for _, raw := range rows {
				modified := append([]float64(nil), raw...)
				modified[j] = v
				p, err := t.PredictProba(modified)
				if err != nil {
					return nil, err
				}
				sum += p
			}
			curve.Values[g] = ml.Sanitize(sum / float64(len(rows)))
		}
		out.Curves = append(out.Curves, curve)
	}
	return out, nil
}

func observedRange(rows [][]float64, j int) (lo, hi float64, found bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		if j >= len(row) || math.IsNaN(row[j]) {
			continue
		}
		if row[j] < lo {
			lo = row[j]
		}
		if row[j] > hi {
			hi = row[j]
		}
		found = true
	}
	if found && lo == hi {
		hi = lo + 1
	}
	return lo, hi, found
}
