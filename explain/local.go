// Package explain computes per-feature attributions and dependence
// curves for trained models.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/Kerremmarket/credit/ml"
)

// Attribution is one feature's contribution to a single prediction.
type Attribution struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	Attribution float64 `json:"attribution"`
}

// Local is the attribution breakdown of one prediction. Space says
// which output space the additivity holds in: "logit" for logistic and
// xgb, "probability" for rf, "heuristic" for mlp.
type Local struct {
	Model        string        `json:"model"`
	Space        string        `json:"space"`
	BaseValue    float64       `json:"base_value"`
	Attributions []Attribution `json:"attributions"`
	Prediction   float64       `json:"prediction"`
}

// LocalAttribution explains one row. For logistic and tree models the
// attributions plus the base value reconstruct the prediction in the
// stated space.
func LocalAttribution(t *ml.Trained, values map[string]float64) (*Local, error) {
	raw := t.Vector(values)
	row := t.Pre.Transform(raw)

	switch t.Kind {
	case ml.KindLogistic:
		if t.Logistic == nil {
			return nil, ml.ErrNotTrained
		}
		return logisticLocal(t, raw, row), nil
	case ml.KindForest:
		if t.Forest == nil {
			return nil, ml.ErrNotTrained
		}
		return forestLocal(t, raw, row)
	case ml.KindBoost:
		if t.Boost == nil {
			return nil, ml.ErrNotTrained
		}
		return boostLocal(t, raw, row)
	case ml.KindMLP:
		if t.Net == nil {
			return nil, ml.ErrNotTrained
		}
		return mlpLocal(t, raw, row)
	}
	return nil, fmt.Errorf("unknown model type: %q", t.Kind)
}

// logisticLocal is exact linear SHAP in logit space: the contribution of
// feature j is w_j * (x_j - mean_j) against the background mean.
func logisticLocal(t *ml.Trained, raw, row []float64) *Local {
	out := &Local{
		Model:        string(t.Kind),
		Space:        "logit",
		Attributions: make([]Attribution, len(t.Features)),
	}
	base := t.Logistic.Margin(t.BackgroundMean)
	out.BaseValue = base
	for j, f := range t.Features {
		w := 0.0
		if j < len(t.Logistic.Weights) {
			w = t.Logistic.Weights[j]
		}
		out.Attributions[j] = Attribution{
			Feature:     f,
			Value:       ml.Sanitize(raw[j]),
			Attribution: w * (row[j] - bg(t, j)),
		}
	}
	out.Prediction = t.Logistic.Margin(row)
	return out
}

// forestLocal uses path attribution: each split credits its feature with
// the change in node value, averaged over the trees. The attributions
// plus the mean root value sum to the forest probability.
func forestLocal(t *ml.Trained, raw, row []float64) (*Local, error) {
	attrs := make([]float64, len(t.Features))
	base := 0.0
	for _, tree := range t.Forest.Trees {
		indices, err := tree.Path(row)
		if err != nil {
			return nil, err
		}
		base += tree.Nodes[indices[0]].Value
		for i := 0; i+1 < len(indices); i++ {
			node := tree.Nodes[indices[i]]
			next := tree.Nodes[indices[i+1]]
			attrs[node.FeatureIdx] += next.Value - node.Value
		}
	}
	n := float64(len(t.Forest.Trees))
	base /= n
	for j := range attrs {
		attrs[j] /= n
	}

	proba, err := t.Forest.PredictProba(row)
	if err != nil {
		return nil, err
	}
	return buildLocal(t, "probability", base, raw, attrs, proba), nil
}

// boostLocal runs path attribution over the boosting trees in margin
// space, with the prior log-odds plus shrunk root values as base.
func boostLocal(t *ml.Trained, raw, row []float64) (*Local, error) {
	attrs := make([]float64, len(t.Features))
	base := t.Boost.BaseScore
	for _, tree := range t.Boost.Trees {
		indices, err := tree.Path(row)
		if err != nil {
			return nil, err
		}
		base += t.Boost.LearningRate * tree.Nodes[indices[0]].Value
		for i := 0; i+1 < len(indices); i++ {
			node := tree.Nodes[indices[i]]
			next := tree.Nodes[indices[i+1]]
			attrs[node.FeatureIdx] += t.Boost.LearningRate * (next.Value - node.Value)
		}
	}

	margin, err := t.Boost.Margin(row)
	if err != nil {
		return nil, err
	}
	return buildLocal(t, "logit", base, raw, attrs, margin), nil
}

// mlpLocal approximates attributions with gradient-times-input around
// the background mean. The sum is not guaranteed to reconstruct the
// prediction, hence the "heuristic" space tag.
func mlpLocal(t *ml.Trained, raw, row []float64) (*Local, error) {
	grad, err := t.Net.InputGradient(row)
	if err != nil {
		return nil, err
	}
	attrs := make([]float64, len(t.Features))
	for j := range attrs {
		g := 0.0
		if j < len(grad) {
			g = grad[j]
		}
		attrs[j] = g * (row[j] - bg(t, j))
	}

	baseProba, err := t.Net.PredictProba(t.BackgroundMean)
	if err != nil {
		return nil, err
	}
	proba, err := t.Net.PredictProba(row)
	if err != nil {
		return nil, err
	}
	return buildLocal(t, "heuristic", ml.LogOdds(baseProba), raw, attrs, ml.LogOdds(proba)), nil
}

func buildLocal(t *ml.Trained, space string, base float64, raw, attrs []float64, prediction float64) *Local {
	out := &Local{
		Model:        string(t.Kind),
		Space:        space,
		BaseValue:    ml.Sanitize(base),
		Attributions: make([]Attribution, len(t.Features)),
		Prediction:   ml.Sanitize(prediction),
	}
	for j, f := range t.Features {
		out.Attributions[j] = Attribution{
			Feature:     f,
			Value:       ml.Sanitize(raw[j]),
			Attribution: ml.Sanitize(attrs[j]),
		}
	}
	return out
}

func bg(t *ml.Trained, j int) float64 {
	if j < len(t.BackgroundMean) {
		return t.BackgroundMean[j]
	}
	return 0
}

// rawAttributions returns the attribution vector for an already
// transformed row, shared by the summary computation.
func rawAttributions(t *ml.Trained, row []float64) ([]float64, error) {
	attrs := make([]float64, len(t.Features))
	switch t.Kind {
	case ml.KindLogistic:
		for j := range attrs {
			if j < len(t.Logistic.Weights) {
				attrs[j] = t.Logistic.Weights[j] * (row[j] - bg(t, j))
			}
		}
	case ml.KindForest:
		for _, tree := range t.Forest.Trees {
			indices, err := tree.Path(row)
			if err != nil {
				return nil, err
			}
			for i := 0; i+1 < len(indices); i++ {
				node := tree.Nodes[indices[i]]
				next := tree.Nodes[indices[i+1]]
				attrs[node.FeatureIdx] += next.Value - node.Value
			}
		}
		n := float64(len(t.Forest.Trees))
		for j := range attrs {
			attrs[j] /= n
		}
	case ml.KindBoost:
		for _, tree := range t.Boost.Trees {
			indices, err := tree.Path(row)
			if err != nil {
				return nil, err
			}
			for i := 0; i+1 < len(indices); i++ {
				node := tree.Nodes[indices[i]]
				next := tree.Nodes[indices[i+1]]
				attrs[node.FeatureIdx] += t.Boost.LearningRate * (next.Value - node.Value)
			}
		}
	case ml.KindMLP:
		grad, err := t.Net.InputGradient(row)
		if err != nil {
			return nil, err
		}
		for j := range attrs {
			if j < len(grad) {
				attrs[j] = grad[j] * (row[j] - bg(t, j))
			}
		}
	default:
		return nil, fmt.Errorf("unknown model type: %q", t.Kind)
	}
	for j := range attrs {
		attrs[j] = ml.Sanitize(attrs[j])
	}
	return attrs, nil
}

// SummaryEntry is one feature's mean absolute attribution.
type SummaryEntry struct {
	Feature      string  `json:"feature"`
	MeanAbsolute float64 `json:"mean_abs_attribution"`
	MeanValue    float64 `json:"mean_value"`
}

// Summary is the global importance view over a row sample.
type Summary struct {
	Model      string         `json:"model"`
	SampleSize int            `json:"sample_size"`
	Entries    []SummaryEntry `json:"entries"`
}

// GlobalSummary averages absolute attributions over up to maxSamples
// raw rows, sorted by importance descending.
func GlobalSummary(t *ml.Trained, rows [][]float64, maxSamples int) (*Summary, error) {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	if len(rows) > maxSamples {
		rows = rows[:maxSamples]
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to summarize")
	}

	sums := make([]float64, len(t.Features))
	valueSums := make([]float64, len(t.Features))
	for _, raw := range rows {
		row := t.Pre.Transform(raw)
		attrs, err := rawAttributions(t, row)
		if err != nil {
			return nil, err
		}
		for j, a := range attrs {
			sums[j] += math.Abs(a)
		}
		for j, v := range raw {
			if j < len(valueSums) && !math.IsNaN(v) {
				valueSums[j] += v
			}
		}
	}

	n := float64(len(rows))
	out := &Summary{
		Model:      string(t.Kind),
		SampleSize: len(rows),
		Entries:    make([]SummaryEntry, len(t.Features)),
	}
	for j, f := range t.Features {
		out.Entries[j] = SummaryEntry{
			Feature:      f,
			MeanAbsolute: ml.Sanitize(sums[j] / n),
			MeanValue:    ml.Sanitize(valueSums[j] / n),
		}
	}
	sort.SliceStable(out.Entries, func(a, b int) bool {
		return out.Entries[a].MeanAbsolute > out.Entries[b].MeanAbsolute
	})
	return out, nil
}
