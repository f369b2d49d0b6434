package trace

import (
	"fmt"

	"github.com/Kerremmarket/credit/ml"
)

// featureAbbrev shortens the long credit column names for chart labels.
var featureAbbrev = map[string]string{
	"RevolvingUtilizationOfUnsecuredLines": "RevolvUtil",
	"age":                                  "Age",
	"NumberOfTime30-59DaysPastDueNotWorse": "PastDue30",
	"DebtRatio":                            "DebtRatio",
	"MonthlyIncome":                        "Income",
	"NumberOfOpenCreditLinesAndLoans":      "OpenLines",
	"NumberOfTimes90DaysLate":              "Late90",
	"NumberRealEstateLoansOrLines":         "REloans",
	"NumberOfTime60-89DaysPastDueNotWorse": "PastDue60",
	"NumberOfDependents":                   "Dependents",
}

func abbrev(name string) string {
	if a, ok := featureAbbrev[name]; ok {
		return a
	}
	if len(name) > 12 {
		return name[:12]
	}
	return name
}

// PathStep is one decision on the way from root to leaf.
type PathStep struct {
	NodeID      int     `json:"node_id"`
	Feature     string  `json:"feature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	SampleValue float64 `json:"sample_value,omitempty"`
	Direction   string  `json:"direction,omitempty"` // "left" or "right"
	Impurity    float64 `json:"impurity"`
	Samples     int     `json:"samples"`
	IsLeaf      bool    `json:"is_leaf"`
	Value       float64 `json:"value"`
}

// FullTree is the compact array form of one tree, matching the layout
// charting libraries expect.
type FullTree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
	Samples       []int     `json:"samples"`
	FeatureNames  []string  `json:"feature_names"`
	FeatureAbbrev []string  `json:"feature_abbrev"`
}

// TreePath is the decision path of a row through the ensemble's first tree.
type TreePath struct {
	Model     string     `json:"model"`
	TreeIndex int        `json:"tree_index"`
	Path      []PathStep `json:"path"`
	LeafValue float64    `json:"leaf_value"`
	// Probability is the sample's score under the whole ensemble, so
	// the path can be read against the final prediction.
	Probability float64   `json:"probability"`
	FullTree    *FullTree `json:"full_tree,omitempty"`
}

// Path traces a row through the first tree of an rf or xgb model.
// For rf the leaf value is a probability; for xgb it is the tree's
// logit increment before shrinkage.
func Path(t *ml.Trained, values map[string]float64, fullTree bool) (*TreePath, error) {
	raw := t.Vector(values)
	row := t.Pre.Transform(raw)

	switch t.Kind {
	case ml.KindForest:
		if t.Forest == nil || len(t.Forest.Trees) == 0 {
			return nil, ml.ErrNotTrained
		}
		return forestPath(t, row, fullTree)
	case ml.KindBoost:
		if t.Boost == nil || len(t.Boost.Trees) == 0 {
			return nil, ml.ErrNotTrained
		}
		return boostPath(t, row, fullTree)
	default:
		return nil, fmt.Errorf("tree path requires an rf or xgb model, got %q", t.Kind)
	}
}

func forestPath(t *ml.Trained, row []float64, fullTree bool) (*TreePath, error) {
	tree := t.Forest.Trees[0]
	indices, err := tree.Path(row)
	if err != nil {
		return nil, err
	}

	out := &TreePath{Model: string(t.Kind), Path: make([]PathStep, 0, len(indices))}
	for i, idx := range indices {
		node := tree.Nodes[idx]
		step := PathStep{
			NodeID:   idx,
			Impurity: node.Impurity,
			Samples:  node.Samples,
			IsLeaf:   node.IsLeaf,
			Value:    node.Value,
		}
		if !node.IsLeaf {
			step.Feature = t.Features[node.FeatureIdx]
			step.Threshold = node.Threshold
			step.SampleValue = row[node.FeatureIdx]
			if indices[i+1] == node.Left {
				step.Direction = "left"
			} else {
				step.Direction = "right"
			}
		}
		out.Path = append(out.Path, step)
	}
	out.LeafValue = tree.Nodes[indices[len(indices)-1]].Value

	proba, err := t.Forest.PredictProba(row)
	if err != nil {
		return nil, err
	}
	out.Probability = proba

	if fullTree {
		ft := &FullTree{FeatureNames: t.Features, FeatureAbbrev: abbrevAll(t.Features)}
		for _, node := range tree.Nodes {
			appendNode(ft, node.Left, node.Right, node.FeatureIdx, node.Threshold, node.Value, node.Samples, node.IsLeaf)
		}
		out.FullTree = ft
	}
	return out, nil
}

func boostPath(t *ml.Trained, row []float64, fullTree bool) (*TreePath, error) {
	tree := t.Boost.Trees[0]
	indices, err := tree.Path(row)
	if err != nil {
		return nil, err
	}

	out := &TreePath{Model: string(t.Kind), Path: make([]PathStep, 0, len(indices))}
	for i, idx := range indices {
		node := tree.Nodes[idx]
		step := PathStep{
			NodeID:   idx,
			Impurity: node.Impurity,
			Samples:  node.Samples,
			IsLeaf:   node.IsLeaf,
			Value:    node.Value,
		}
		if !node.IsLeaf {
			step.Feature = t.Features[node.FeatureIdx]
			step.Threshold = node.Threshold
			step.SampleValue = row[node.FeatureIdx]
			if indices[i+1] == node.Left {
				step.Direction = "left"
			} else {
				step.Direction = "right"
			}
		}
		out.Path = append(out.Path, step)
	}
	out.LeafValue = tree.Nodes[indices[len(indices)-1]].Value

	proba, err := t.Boost.PredictProba(row)
	if err != nil {
		return nil, err
	}
	out.Probability = proba

	if fullTree {
		ft := &FullTree{FeatureNames: t.Features, FeatureAbbrev: abbrevAll(t.Features)}
		for _, node := range tree.Nodes {
			appendNode(ft, node.Left, node.Right, node.FeatureIdx, node.Threshold, node.Value, node.Samples, node.IsLeaf)
		}
		out.FullTree = ft
	}
	return out, nil
}

func appendNode(ft *FullTree, left, right, feature int, threshold, value float64, samples int, leaf bool) {
	if leaf {
		left, right, feature = -1, -1, -2
		threshold = -2
	}
	ft.ChildrenLeft = append(ft.ChildrenLeft, left)
	ft.ChildrenRight = append(ft.ChildrenRight, right)
	ft.Feature = append(ft.Feature, feature)
	ft.Threshold = append(ft.Threshold, threshold)
	ft.Value = append(ft.Value, value)
	ft.Samples = append(ft.Samples, samples)
}

func abbrevAll(features []string) []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = abbrev(f)
	}
	return out
}
