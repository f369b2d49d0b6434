package ml

import (
	"errors"
	"math"
	"math/rand"
)

// Layer is a fully connected layer. W is laid out [in][out].
type Layer struct {
	W          [][]float64 `json:"w"`
	B          []float64   `json:"b"`
	Activation string      `json:"activation"` // "relu" or "sigmoid"
}

// MLP is a small feed-forward network with relu hidden layers and a
// single sigmoid output, trained with minibatch SGD on log loss.
type MLP struct {
	Layers []Layer `json:"layers"`
}

// ForwardState holds the per-layer intermediates of one forward pass.
type ForwardState struct {
	Zs [][]float64 // pre-activation per layer
	As [][]float64 // post-activation per layer
}

func (m *MLP) Train(x [][]float64, y []int, hidden []int, epochs int, seed int64, progress func(step, total int, loss float64)) error {
	if len(x) == 0 || len(x) != len(y) {
		return errors.New("invalid training data")
	}
	if len(hidden) == 0 {
		hidden = []int{64, 32}
	}
	if epochs <= 0 {
		epochs = 10
	}

	dim := len(x[0])
	sizes := append([]int{dim}, hidden...)
	sizes = append(sizes, 1)

	rnd := rand.New(rand.NewSource(seed))
	m.Layers = make([]Layer, len(sizes)-1)
	for l := range m.Layers {
		in, out := sizes[l], sizes[l+1]
		// He initialization for relu layers.
		scale := math.Sqrt(2.0 / float64(in))
		w := make([][]float64, in)
		for i := range w {
			w[i] = make([]float64, out)
			for j := range w[i] {
				w[i][j] = rnd.NormFloat64() * scale
			}
		}
		act := "relu"
		if l == len(m.Layers)-1 {
			act = "sigmoid"
		}
		m.Layers[l] = Layer{W: w, B: make([]float64, out), Activation: act}
	}

	// Balanced class weights, matching the other trainers.
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

	lr := 0.01
	for epoch := 0; epoch < epochs; epoch++ {
		perm := rnd.Perm(len(x))
		loss := 0.0
		for _, i := range perm {
			state := m.Forward(x[i])
			p := state.As[len(state.As)-1][0]
			if y[i] == 1 {
				loss -= math.Log(p + 1e-10)
			} else {
				loss -= math.Log(1 - p + 1e-10)
			}
			sw := wNeg
			if y[i] == 1 {
				sw = wPos
			}
			m.backprop(x[i], state, float64(y[i]), sw, lr)
		}
		loss /= float64(len(x))
		if progress != nil {
			progress(epoch+1, epochs, loss)
		}
	}
	return nil
}

// Forward runs one row through the network, keeping every layer's
// pre- and post-activation values.
func (m *MLP) Forward(row []float64) ForwardState {
	state := ForwardState{
		Zs: make([][]float64, len(m.Layers)),
		As: make([][]float64, len(m.Layers)),
	}
	a := row
	for l, layer := range m.Layers {
		z := make([]float64, len(layer.B))
		copy(z, layer.B)
		for i, v := range a {
			if i >= len(layer.W) {
				break
			}
			for j, w := range layer.W[i] {
				z[j] += v * w
			}
		}
		out := make([]float64, len(z))
		for j, v := range z {
			if layer.Activation == "sigmoid" {
				out[j] = Sigmoid(v)
			} else if v > 0 {
				out[j] = v
			}
		}
		state.Zs[l] = z
		state.As[l] = out
		a = out
	}
	return state
}

func (m *MLP) backprop(row []float64, state ForwardState, target, sampleWeight, lr float64) {
	last := len(m.Layers) - 1
	// Output delta for sigmoid + log loss is p - y.
	delta := []float64{sampleWeight * (state.As[last][0] - target)}

	for l := last; l >= 0; l-- {
		input := row
		if l > 0 {
			input = state.As[l-1]
		}
		layer := &m.Layers[l]

		var prevDelta []float64
		if l > 0 {
			prevDelta = make([]float64, len(layer.W))
			for i := range layer.W {
				sum := 0.0
				for j, w := range layer.W[i] {
					sum += w * delta[j]
				}
				if state.Zs[l-1][i] > 0 { // relu derivative
					prevDelta[i] = sum
				}
			}
		}

		for i := range layer.W {
			if i >= len(input) {
				break
			}
			for j := range layer.W[i] {
				layer.W[i][j] -= lr * delta[j] * input[i]
			}
		}
		for j := range layer.B {
			layer.B[j] -= lr * delta[j]
		}
		delta = prevDelta
	}
}

func (m *MLP) PredictProba(row []float64) (float64, error) {
	if len(m.Layers) == 0 {
		return 0, ErrNotTrained
	}
	state := m.Forward(row)
	return state.As[len(state.As)-1][0], nil
}

// InputGradient returns d(logit)/d(input) at the row, used for
// gradient-times-input attribution.
func (m *MLP) InputGradient(row []float64) ([]float64, error) {
	if len(m.Layers) == 0 {
		return nil, ErrNotTrained
	}
	state := m.Forward(row)

	// Seed with d(logit)/d(z_last) = 1 so the gradient is taken in
	// logit space rather than through the output sigmoid.
	delta := make([]float64, len(state.Zs[len(m.Layers)-1]))
	for j := range delta {
		delta[j] = 1
	}
	for l := len(m.Layers) - 1; l >= 0; l-- {
		layer := m.Layers[l]
		prev := make([]float64, len(layer.W))
		for i := range layer.W {
			sum := 0.0
			for j, w := range layer.W[i] {
				sum += w * delta[j]
			}
			if l == 0 {
				prev[i] = sum
			} else if state.Zs[l-1][i] > 0 {
				prev[i] = sum
			}
		}
		delta = prev
	}
	return delta, nil
}
