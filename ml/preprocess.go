package ml

import (
	"math"
	"sort"
)

// Preprocessor imputes missing cells with the train-split median and
// optionally standardizes each feature. It is fitted once on the train
// matrix and persisted alongside the model.
type Preprocessor struct {
	Medians []float64 `json:"medians"`
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
	Scale   bool      `json:"scale"`
}

func FitPreprocessor(x [][]float64, scale bool) *Preprocessor {
	if len(x) == 0 {
		return &Preprocessor{Scale: scale}
	}
	cols := len(x[0])
	p := &Preprocessor{
		Medians: make([]float64, cols),
		Means:   make([]float64, cols),
		Stds:    make([]float64, cols),
		Scale:   scale,
	}

	for j := 0; j < cols; j++ {
		values := make([]float64, 0, len(x))
		for i := range x {
			if !math.IsNaN(x[i][j]) {
				values = append(values, x[i][j])
			}
		}
		if len(values) > 0 {
			sort.Float64s(values)
			mid := len(values) / 2
			if len(values)%2 == 0 {
				p.Medians[j] = (values[mid-1] + values[mid]) / 2
			} else {
				p.Medians[j] = values[mid]
			}
		}
	}

	n := float64(len(x))
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := range x {
			sum += imputed(x[i][j], p.Medians[j])
		}
		p.Means[j] = sum / n

		variance := 0.0
		for i := range x {
			d := imputed(x[i][j], p.Medians[j]) - p.Means[j]
			variance += d * d
		}
		p.Stds[j] = math.Sqrt(variance / n)
		if p.Stds[j] == 0 {
			p.Stds[j] = 1
		}
	}
	return p
}

// Transform returns a new imputed (and scaled, if configured) vector.
func (p *Preprocessor) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		v = imputed(v, p.median(j))
		if p.Scale {
			out[j] = (v - p.mean(j)) / p.std(j)
		} else {
			out[j] = v
		}
	}
	return out
}

func (p *Preprocessor) TransformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = p.Transform(x[i])
	}
	return out
}

func (p *Preprocessor) median(j int) float64 {
	if j < len(p.Medians) {
		return p.Medians[j]
	}
	return 0
}

func (p *Preprocessor) mean(j int) float64 {
	if j < len(p.Means) {
		return p.Means[j]
	}
	return 0
}

func (p *Preprocessor) std(j int) float64 {
	if j < len(p.Stds) && p.Stds[j] != 0 {
		return p.Stds[j]
	}
	return 1
}

func imputed(v, median float64) float64 {
	if math.IsNaN(v) {
		return median
	}
	return v
}
