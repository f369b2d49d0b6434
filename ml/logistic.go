package ml

import (
	"errors"
	"math/rand"
)

// Logistic is a binary logistic regression trained with class-balanced SGD.
// Inputs are expected to be preprocessed (imputed, scaled).
type Logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func (m *Logistic) Train(x [][]float64, y []int, epochs int, seed int64) error {
	if len(x) == 0 || len(x) != len(y) {
		return errors.New("invalid training data")
	}
	if epochs <= 0 {
		epochs = 200
	}
	dim := len(x[0])
	m.Weights = make([]float64, dim)
	m.Bias = 0

	// Balanced class weights: n / (2 * n_class).
	nPos := 0
	for _, label := range y {
		if label == 1 {
			nPos++
		}
	}
	nNeg := len(y) - nPos
	if nPos == 0 || nNeg == 0 {
		return errors.New("training data has a single class")
	}
	wPos := float64(len(y)) / (2 * float64(nPos))
	wNeg := float64(len(y)) / (2 * float64(nNeg))

	rnd := rand.New(rand.NewSource(seed))
	lr := 0.1
	for epoch := 0; epoch < epochs; epoch++ {
		perm := rnd.Perm(len(x))
		for _, i := range perm {
			p := m.PredictProba(x[i])
			grad := p - float64(y[i])
			sw := wNeg
			if y[i] == 1 {
				sw = wPos
			}
			step := lr * sw * grad
			for j, v := range x[i] {
				m.Weights[j] -= step * v
			}
			m.Bias -= step
		}
		// 1/t decay keeps late epochs from oscillating.
		lr = 0.1 / (1 + 0.01*float64(epoch))
	}
	return nil
}

func (m *Logistic) PredictProba(row []float64) float64 {
	return Sigmoid(m.Margin(row))
}

// Margin returns the pre-sigmoid logit w·x + b.
func (m *Logistic) Margin(row []float64) float64 {
	z := m.Bias
	for j, w := range m.Weights {
		if j < len(row) {
			z += w * row[j]
		}
	}
	return z
}
