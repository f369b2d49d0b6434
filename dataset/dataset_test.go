package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

const sampleCSV = `,SeriousDlqin2yrs,RevolvingUtilizationOfUnsecuredLines,age,DebtRatio,MonthlyIncome
1,1,0.77,45,0.80,9120
2,0,0.95,40,0.12,2600
3,0,0.65,38,0.085,3042
4,0,0.23,30,0.036,3300
5,1,0.90,49,0.024,
6,0,0.21,74,0.37,3500
7,0,0.30,57,0.60,
8,1,0.75,39,0.20,3500
9,0,0.11,27,0.04,9000
10,0,0.18,51,0.53,2500
`

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sample.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadSample(t *testing.T) (*Manager, *Summary) {
	t.Helper()
	dir := t.TempDir()
	writeSample(t, dir)
	m := NewManager(dir, 1000, zap.NewNop())
	summary, err := m.Load("sample.csv")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return m, summary
}

func TestLoadSummary(t *testing.T) {
	_, summary := loadSample(t)

	if summary.RowCount != 10 {
		t.Errorf("expected 10 rows, got %d", summary.RowCount)
	}
	if summary.NAStats["MonthlyIncome"] != 2 {
		t.Errorf("expected 2 missing incomes, got %d", summary.NAStats["MonthlyIncome"])
	}
	if summary.TargetDistribution["1"] != 3 || summary.TargetDistribution["0"] != 7 {
		t.Errorf("unexpected target distribution: %v", summary.TargetDistribution)
	}

	ageStats, ok := summary.Quantiles["age"]
	if !ok {
		t.Fatal("age stats missing")
	}
	if ageStats.Min != 27 || ageStats.Max != 74 {
		t.Errorf("unexpected age range: %+v", ageStats)
	}

	// Only canonical feature columns may appear in the feature list.
	for _, f := range summary.FeatureList {
		if f == TargetColumn || f == "row_id" {
			t.Errorf("non-feature column in feature list: %q", f)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	m := NewManager(t.TempDir(), 1000, zap.NewNop())
	_, err := m.Load("nope.csv")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got: %v", err)
	}
}

func TestLoadMissingTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(dir, 1000, zap.NewNop())
	if _, err := m.Load("bad.csv"); err == nil {
		t.Fatal("expected error when target column is absent")
	}
}

func TestCurrentAndInvalidate(t *testing.T) {
	m, _ := loadSample(t)
	if _, err := m.Current(); err != nil {
		t.Fatalf("dataset should be loaded: %v", err)
	}
	m.Invalidate()
	if _, err := m.Current(); err == nil {
		t.Fatal("expected ErrNotLoaded after invalidation")
	}
}

func TestApplyFilters(t *testing.T) {
	m, _ := loadSample(t)
	ds, _ := m.Current()

	filtered := ds.ApplyFilters(map[string][]float64{"age": {40, 60}})
	for _, row := range filtered.Rows {
		age := filtered.Value(row, "age")
		if age < 40 || age > 60 {
			t.Errorf("row outside filter range: age=%v", age)
		}
	}

	// NaN cells pass filters so incomplete rows are kept.
	withNaN := ds.ApplyFilters(map[string][]float64{"MonthlyIncome": {3000, 10000}})
	keptNaN := false
	for _, row := range withNaN.Rows {
		if math.IsNaN(withNaN.Value(row, "MonthlyIncome")) {
			keptNaN = true
		}
	}
	if !keptNaN {
		t.Error("rows with missing filter values should be kept")
	}
}

func TestMatrixAndLabels(t *testing.T) {
	m, _ := loadSample(t)
	ds, _ := m.Current()

	x, y := ds.Matrix([]string{"age", "DebtRatio"})
	if len(x) != 10 || len(y) != 10 {
		t.Fatalf("unexpected matrix shape: %d x %d", len(x), len(y))
	}
	if x[0][0] != 45 {
		t.Errorf("first row age should be 45, got %v", x[0][0])
	}
	if y[0] != 1 || y[1] != 0 {
		t.Errorf("labels wrong: %v", y[:2])
	}
}

func TestSplitTrainTestStratified(t *testing.T) {
	m, _ := loadSample(t)
	ds, _ := m.Current()

	trainX, trainY, testX, testY := ds.SplitTrainTest([]string{"age"}, 0.3, 42)
	if len(trainX) != len(trainY) || len(testX) != len(testY) {
		t.Fatal("mismatched split lengths")
	}
	if len(trainX)+len(testX) != 10 {
		t.Errorf("split lost rows: %d + %d", len(trainX), len(testX))
	}
	pos := 0
	for _, label := range testY {
		if label == 1 {
			pos++
		}
	}
	// 3 positives at test_size 0.3 rounds to one test positive.
	if pos != 1 {
		t.Errorf("expected 1 positive in test split, got %d", pos)
	}
}

func TestSampleKeepsSmallDataset(t *testing.T) {
	m, _ := loadSample(t)
	ds, _ := m.Current()
	if got := ds.Sample(100, 42); len(got.Rows) != len(ds.Rows) {
		t.Errorf("sampling under the cap should keep all rows")
	}
	capped := ds.Sample(6, 42)
	if len(capped.Rows) > 6 {
		t.Errorf("cap exceeded: %d rows", len(capped.Rows))
	}
}

func TestExemplars(t *testing.T) {
	m, _ := loadSample(t)
	exemplars, neighbors, err := m.Exemplars(2, []string{"age", "DebtRatio"})
	if err != nil {
		t.Fatalf("exemplars failed: %v", err)
	}
	if len(exemplars) == 0 {
		t.Fatal("expected at least one exemplar")
	}
	ds, _ := m.Current()
	for _, e := range append(exemplars, neighbors...) {
		if e.RowIndex < 0 || e.RowIndex >= len(ds.Rows) {
			t.Errorf("exemplar row index out of range: %d", e.RowIndex)
		}
		if len(e.FeatureValues) == 0 {
			t.Error("exemplar has no feature values")
		}
		if e.Label == nil {
			t.Error("exemplar label missing")
		}
	}
}

func TestExemplarsNeighborsPerCluster(t *testing.T) {
	// Two well-separated age clusters of uneven size: the small one has
	// a single surplus member, the big one has plenty. Each cluster must
	// contribute its own neighbors; a starved small cluster must not
	// eat into the big cluster's quota.
	var b strings.Builder
	b.WriteString(",SeriousDlqin2yrs,age\n")
	rows := []float64{20, 21, 70, 71, 72, 73, 74, 75, 76, 77, 78, 79, 80, 81}
	for i, age := range rows {
		fmt.Fprintf(&b, "%d,0,%g\n", i+1, age)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clusters.csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(dir, 1000, zap.NewNop())
	if _, err := m.Load("clusters.csv"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	exemplars, neighbors, err := m.Exemplars(2, []string{"age"})
	if err != nil {
		t.Fatalf("exemplars failed: %v", err)
	}
	if len(exemplars) != 2 {
		t.Fatalf("expected 2 exemplars, got %d", len(exemplars))
	}
	// Small cluster: 1 neighbor. Big cluster: capped at 3.
	if len(neighbors) != 4 {
		t.Errorf("expected 4 neighbors (1 + 3 per cluster), got %d", len(neighbors))
	}
	small, big := 0, 0
	for _, n := range neighbors {
		if n.FeatureValues["age"] < 50 {
			small++
		} else {
			big++
		}
	}
	if small != 1 || big != 3 {
		t.Errorf("neighbor split wrong: small=%d big=%d", small, big)
	}
}

func TestExemplarsNotLoaded(t *testing.T) {
	m := NewManager(t.TempDir(), 1000, zap.NewNop())
	if _, _, err := m.Exemplars(3, nil); err == nil {
		t.Fatal("expected error when no dataset is loaded")
	}
}
