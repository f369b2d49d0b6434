// Package trace exposes the internal mechanics of a trained model:
// forward passes, decision paths and ensemble votes.
package trace

import (
	"fmt"

	"github.com/Kerremmarket/credit/ml"
)

// weightElideLimit caps the number of weight values embedded in an MLP
// layer payload; larger matrices report only their shape.
const weightElideLimit = 1000

// Contribution is one term of a logistic forward pass.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// LogisticForward is the full linear forward pass of a logistic model.
type LogisticForward struct {
	Model         string         `json:"model"`
	Contributions []Contribution `json:"contributions"`
	Intercept     float64        `json:"intercept"`
	Z             float64        `json:"z"`
	Probability   float64        `json:"probability"`
}

// LayerTrace is one layer of an MLP forward pass. Weights is nil when
// the matrix exceeds the elide limit; Shape is always present.
type LayerTrace struct {
	Index      int         `json:"index"`
	Activation string      `json:"activation"`
	Shape      [2]int      `json:"shape"`
	Weights    [][]float64 `json:"weights,omitempty"`
	Biases     []float64   `json:"biases"`
	Z          []float64   `json:"z"`
	A          []float64   `json:"a"`
}

// MLPForward is the layer-by-layer forward pass of the network.
type MLPForward struct {
	Model       string       `json:"model"`
	Input       []float64    `json:"input"`
	Features    []string     `json:"features"`
	Layers      []LayerTrace `json:"layers"`
	Probability float64      `json:"probability"`
}

// Forward traces a single row through a logistic or MLP model.
// The returned value is *LogisticForward or *MLPForward.
func Forward(t *ml.Trained, values map[string]float64) (any, error) {
	raw := t.Vector(values)
	row := t.Pre.Transform(raw)

	switch t.Kind {
	case ml.KindLogistic:
		if t.Logistic == nil {
			return nil, ml.ErrNotTrained
		}
		return logisticForward(t, row), nil
	case ml.KindMLP:
		if t.Net == nil {
			return nil, ml.ErrNotTrained
		}
		return mlpForward(t, row), nil
	default:
		return nil, fmt.Errorf("forward trace requires a logistic or mlp model, got %q", t.Kind)
	}
}

func logisticForward(t *ml.Trained, row []float64) *LogisticForward {
	out := &LogisticForward{
		Model:         string(t.Kind),
		Contributions: make([]Contribution, 0, len(t.Features)),
		Intercept:     t.Logistic.Bias,
	}
	z := t.Logistic.Bias
	for j, f := range t.Features {
		w := 0.0
		if j < len(t.Logistic.Weights) {
			w = t.Logistic.Weights[j]
		}
		c := w * row[j]
		z += c
		out.Contributions = append(out.Contributions, Contribution{
			Feature:      f,
			Value:        row[j],
			Weight:       w,
			Contribution: c,
		})
	}
	out.Z = z
	out.Probability = ml.Sigmoid(z)
	return out
}

func mlpForward(t *ml.Trained, row []float64) *MLPForward {
	state := t.Net.Forward(row)
	out := &MLPForward{
		Model:    string(t.Kind),
		Input:    row,
		Features: t.Features,
		Layers:   make([]LayerTrace, len(t.Net.Layers)),
	}
	for l, layer := range t.Net.Layers {
		lt := LayerTrace{
			Index:      l,
			Activation: layer.Activation,
			Shape:      [2]int{len(layer.W), len(layer.B)},
			Biases:     layer.B,
			Z:          state.Zs[l],
			A:          state.As[l],
		}
		if len(layer.W)*len(layer.B) <= weightElideLimit {
			lt.Weights = layer.W
		}
		out.Layers[l] = lt
	}
	if n := len(state.As); n > 0 && len(state.As[n-1]) > 0 {
		out.Probability = state.As[n-1][0]
	}
	return out
}
