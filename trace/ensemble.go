package trace

import (
	"fmt"

	"github.com/Kerremmarket/credit/ml"
)

// ForestEnsemble shows how each tree in the forest voted on a row.
type ForestEnsemble struct {
	Model         string    `json:"model"`
	TreeCount     int       `json:"tree_count"`
	PerTreeProbas []float64 `json:"per_tree_probas"`
	MeanProba     float64   `json:"mean_proba"`
}

// BoostEnsemble shows the additive build-up of a boosted margin.
type BoostEnsemble struct {
	Model           string    `json:"model"`
	TreeCount       int       `json:"tree_count"`
	BaseScore       float64   `json:"base_score"`
	LearningRate    float64   `json:"learning_rate"`
	PerTreeMargins  []float64 `json:"per_tree_margins"`
	CumulativeProba []float64 `json:"cumulative_proba"`
	FinalMargin     float64   `json:"final_margin"`
	Probability     float64   `json:"probability"`
}

// Ensemble traces a row through every member of an rf or xgb model.
// When values is nil the background mean row is used, so the trace
// shows the ensemble's behavior at a typical point.
func Ensemble(t *ml.Trained, values map[string]float64) (any, error) {
	var row []float64
	if values == nil {
		row = append([]float64(nil), t.BackgroundMean...)
	} else {
		row = t.Pre.Transform(t.Vector(values))
	}

	switch t.Kind {
	case ml.KindForest:
		if t.Forest == nil {
			return nil, ml.ErrNotTrained
		}
		probas, err := t.Forest.PerTreeProbas(row)
		if err != nil {
			return nil, err
		}
		mean := 0.0
		for _, p := range probas {
			mean += p
		}
		if len(probas) > 0 {
			mean /= float64(len(probas))
		}
		return &ForestEnsemble{
			Model:         string(t.Kind),
			TreeCount:     len(probas),
			PerTreeProbas: probas,
			MeanProba:     mean,
		}, nil

	case ml.KindBoost:
		if t.Boost == nil {
			return nil, ml.ErrNotTrained
		}
		margins, err := t.Boost.PerTreeMargins(row)
		if err != nil {
			return nil, err
		}
		out := &BoostEnsemble{
			Model:           string(t.Kind),
			TreeCount:       len(margins),
			BaseScore:       t.Boost.BaseScore,
			LearningRate:    t.Boost.LearningRate,
			PerTreeMargins:  margins,
			CumulativeProba: make([]float64, len(margins)),
		}
		margin := t.Boost.BaseScore
		for i, m := range margins {
			margin += m
			out.CumulativeProba[i] = ml.Sigmoid(margin)
		}
		out.FinalMargin = margin
		out.Probability = ml.Sigmoid(margin)
		return out, nil

	default:
		return nil, fmt.Errorf("ensemble trace requires an rf or xgb model, got %q", t.Kind)
	}
}
