package ml

import (
	"math"
	"testing"
)

// separable builds a toy problem where feature 0 fully decides the label.
func separable(n int) ([][]float64, []int) {
	x := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		v := float64(i%10) - 4.5
		x[i] = []float64{v, float64(i % 3)}
		if v > 0 {
			y[i] = 1
		}
	}
	return x, y
}

func TestLogisticTrainSeparable(t *testing.T) {
	x, y := separable(200)
	m := &Logistic{}
	if err := m.Train(x, y, 100, 42); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	pHigh := m.PredictProba([]float64{4, 0})
	pLow := m.PredictProba([]float64{-4, 0})
	if pHigh <= pLow {
		t.Errorf("expected higher probability for positive region: got %v <= %v", pHigh, pLow)
	}
	if pHigh < 0.5 || pLow > 0.5 {
		t.Errorf("separable problem not learned: pHigh=%v pLow=%v", pHigh, pLow)
	}
}

func TestLogisticSingleClass(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	y := []int{0, 0, 0}
	m := &Logistic{}
	if err := m.Train(x, y, 10, 42); err == nil {
		t.Fatal("expected error for single-class training data")
	}
}

func TestLogisticMarginMatchesProba(t *testing.T) {
	m := &Logistic{Weights: []float64{0.5, -0.25}, Bias: 0.1}
	row := []float64{2, 4}
	want := Sigmoid(0.1 + 0.5*2 - 0.25*4)
	if got := m.PredictProba(row); math.Abs(got-want) > 1e-12 {
		t.Errorf("proba mismatch: got %v want %v", got, want)
	}
}

func TestAUC(t *testing.T) {
	labels := []int{0, 0, 1, 1}
	perfect := []float64{0.1, 0.2, 0.8, 0.9}
	if got := AUC(labels, perfect); got != 1 {
		t.Errorf("perfect ranking should give AUC 1, got %v", got)
	}
	reversed := []float64{0.9, 0.8, 0.2, 0.1}
	if got := AUC(labels, reversed); got != 0 {
		t.Errorf("reversed ranking should give AUC 0, got %v", got)
	}
	ties := []float64{0.5, 0.5, 0.5, 0.5}
	if got := AUC(labels, ties); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("all-tied scores should give AUC 0.5, got %v", got)
	}
}

func TestConfusionMatrix(t *testing.T) {
	labels := []int{0, 0, 1, 1}
	probs := []float64{0.1, 0.9, 0.2, 0.8}
	m := ConfusionMatrix(labels, probs)
	if m[0][0] != 1 || m[0][1] != 1 || m[1][0] != 1 || m[1][1] != 1 {
		t.Errorf("unexpected confusion matrix: %v", m)
	}
}

func TestSanitize(t *testing.T) {
	if Sanitize(math.NaN()) != 0 {
		t.Error("NaN should sanitize to 0")
	}
	if Sanitize(math.Inf(1)) != 0 {
		t.Error("Inf should sanitize to 0")
	}
	if Sanitize(1.5) != 1.5 {
		t.Error("finite values must pass through")
	}
}
