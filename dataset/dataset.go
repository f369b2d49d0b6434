// Package dataset loads the credit CSV and prepares training matrices.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TargetColumn is the binary delinquency label of the Give Me Some Credit data.
const TargetColumn = "SeriousDlqin2yrs"

// FeatureColumns is the canonical feature order. Responses and training
// matrices always follow this order for the columns that are present.
var FeatureColumns = []string{
	"RevolvingUtilizationOfUnsecuredLines",
	"age",
	"NumberOfTime30-59DaysPastDueNotWorse",
	"DebtRatio",
	"MonthlyIncome",
	"NumberOfOpenCreditLinesAndLoans",
	"NumberOfTimes90DaysLate",
	"NumberRealEstateLoansOrLines",
	"NumberOfTime60-89DaysPastDueNotWorse",
	"NumberOfDependents",
}

var (
	ErrNotLoaded = errors.New("no dataset loaded")
	ErrNotFound  = errors.New("dataset file not found")
)

// Dataset is an in-memory table. Missing cells are NaN.
type Dataset struct {
	Path     string
	Columns  []string
	Features []string
	Rows     [][]float64

	colIdx map[string]int
}

// ColumnStats summarizes one numeric column.
type ColumnStats struct {
	Min    float64 `json:"min"`
	Q25    float64 `json:"q25"`
	Median float64 `json:"median"`
	Q75    float64 `json:"q75"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

// Summary is the payload of a successful load.
type Summary struct {
	FeatureList        []string               `json:"feature_list"`
	RowCount           int                    `json:"row_count"`
	NAStats            map[string]int         `json:"na_stats"`
	Quantiles          map[string]ColumnStats `json:"quantiles"`
	TargetDistribution map[string]int         `json:"target_distribution"`
}

// Manager owns the currently loaded dataset and the filters used by the
// most recent training run.
type Manager struct {
	mu      sync.RWMutex
	ds      *Dataset
	filters map[string][]float64

	dataDir string
	maxRows int
	log     *zap.Logger
}

func NewManager(dataDir string, maxRows int, log *zap.Logger) *Manager {
	if maxRows <= 0 {
		maxRows = 20000
	}
	return &Manager{dataDir: dataDir, maxRows: maxRows, log: log}
}

// Load reads a CSV (path relative to the data dir, a leading "data/" is
// tolerated) and replaces the current dataset.
func (m *Manager) Load(path string) (*Summary, error) {
	rel := strings.TrimPrefix(path, "data/")
	full := filepath.Join(m.dataDir, rel)

	columns, rows, err := readCSV(full)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Path: full, Columns: columns, Rows: rows, colIdx: make(map[string]int, len(columns))}
	for i, c := range columns {
		ds.colIdx[c] = i
	}
	if _, ok := ds.colIdx[TargetColumn]; !ok {
		return nil, fmt.Errorf("target column %q not found in dataset", TargetColumn)
	}
	for _, c := range FeatureColumns {
		if _, ok := ds.colIdx[c]; ok {
			ds.Features = append(ds.Features, c)
		}
	}

	summary := summarize(ds)

	m.mu.Lock()
	m.ds = ds
	m.filters = nil
	m.mu.Unlock()

	m.log.Info("dataset loaded",
		zap.String("path", full),
		zap.Int("rows", summary.RowCount),
		zap.Int("features", len(summary.FeatureList)))
	return summary, nil
}

// Current returns the loaded dataset or ErrNotLoaded.
func (m *Manager) Current() (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ds == nil {
		return nil, ErrNotLoaded
	}
	return m.ds, nil
}

// Invalidate drops the loaded dataset (used when the file changes on disk).
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.ds = nil
	m.filters = nil
	m.mu.Unlock()
}

// SetFilters remembers the filters used for the last training run so that
// later PDP requests without explicit filters see the same population.
func (m *Manager) SetFilters(filters map[string][]float64) {
	m.mu.Lock()
	m.filters = filters
	m.mu.Unlock()
}

func (m *Manager) Filters() map[string][]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filters
}

func (m *Manager) MaxRows() int { return m.maxRows }

// ApplyFilters keeps rows whose value is inside [min,max] for every
// filtered feature. NaN cells pass the filter so incomplete rows are
// kept.
func (d *Dataset) ApplyFilters(filters map[string][]float64) *Dataset {
	if len(filters) == 0 {
		return d
	}
	out := &Dataset{Path: d.Path, Columns: d.Columns, Features: d.Features, colIdx: d.colIdx}
	for _, row := range d.Rows {
		keep := true
		for feature, bounds := range filters {
			idx, ok := d.colIdx[feature]
			if !ok || len(bounds) != 2 {
				continue
			}
			v := row[idx]
			if math.IsNaN(v) {
				continue
			}
			if v < bounds[0] || v > bounds[1] {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Value returns the cell for a named column, NaN when absent.
func (d *Dataset) Value(row []float64, column string) float64 {
	idx, ok := d.colIdx[column]
	if !ok {
		return math.NaN()
	}
	return row[idx]
}

// Label returns the target of a row as 0/1.
func (d *Dataset) Label(row []float64) int {
	v := d.Value(row, TargetColumn)
	if math.IsNaN(v) || v < 0.5 {
		return 0
	}
	return 1
}

// Matrix extracts the feature matrix (in the given order) and labels.
func (d *Dataset) Matrix(features []string) ([][]float64, []int) {
	x := make([][]float64, len(d.Rows))
	y := make([]int, len(d.Rows))
	for i, row := range d.Rows {
		vec := make([]float64, len(features))
		for j, f := range features {
			vec[j] = d.Value(row, f)
		}
		x[i] = vec
		y[i] = d.Label(row)
	}
	return x, y
}

// Sample caps the dataset at maxRows, preserving the class balance.
func (d *Dataset) Sample(maxRows int, seed int64) *Dataset {
	if len(d.Rows) <= maxRows {
		return d
	}
	rnd := rand.New(rand.NewSource(seed))
	byClass := map[int][]int{}
	for i, row := range d.Rows {
		label := d.Label(row)
		byClass[label] = append(byClass[label], i)
	}

	out := &Dataset{Path: d.Path, Columns: d.Columns, Features: d.Features, colIdx: d.colIdx}
	for _, indices := range byClass {
		take := int(float64(maxRows) * float64(len(indices)) / float64(len(d.Rows)))
		if take > len(indices) {
			take = len(indices)
		}
		perm := rnd.Perm(len(indices))
		for _, p := range perm[:take] {
			out.Rows = append(out.Rows, d.Rows[indices[p]])
		}
	}
	return out
}

// SplitTrainTest performs a stratified split of the feature matrix.
func (d *Dataset) SplitTrainTest(features []string, testSize float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testSize <= 0 || testSize >= 1 {
		testSize = 0.2
	}
	x, y := d.Matrix(features)
	rnd := rand.New(rand.NewSource(seed))

	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	labels := make([]int, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	for _, label := range labels {
		indices := byClass[label]
		perm := rnd.Perm(len(indices))
		nTest := int(math.Round(float64(len(indices)) * testSize))
		for i, p := range perm {
			idx := indices[p]
			if i < nTest {
				testX = append(testX, x[idx])
				testY = append(testY, y[idx])
			} else {
				trainX = append(trainX, x[idx])
				trainY = append(trainY, y[idx])
			}
		}
	}
	return trainX, trainY, testX, testY
}

func summarize(d *Dataset) *Summary {
	s := &Summary{
		FeatureList:        d.Features,
		RowCount:           len(d.Rows),
		NAStats:            make(map[string]int, len(d.Columns)),
		Quantiles:          make(map[string]ColumnStats, len(d.Columns)),
		TargetDistribution: make(map[string]int),
	}
	for _, col := range d.Columns {
		idx := d.colIdx[col]
		values := make([]float64, 0, len(d.Rows))
		na := 0
		for _, row := range d.Rows {
			if math.IsNaN(row[idx]) {
				na++
				continue
			}
			values = append(values, row[idx])
		}
		s.NAStats[col] = na
		if len(values) > 0 {
			s.Quantiles[col] = columnStats(values)
		}
	}
	for _, row := range d.Rows {
		s.TargetDistribution[strconv.Itoa(d.Label(row))]++
	}
	return s
}

func columnStats(values []float64) ColumnStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean := 0.0
	for _, v := range sorted {
		mean += v
	}
	mean /= float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	std := 0.0
	if len(sorted) > 1 {
		std = math.Sqrt(variance / float64(len(sorted)-1))
	}

	return ColumnStats{
		Min:    sorted[0],
		Q25:    quantile(sorted, 0.25),
		Median: quantile(sorted, 0.50),
		Q75:    quantile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
		Mean:   mean,
		Std:    std,
	}
}

// quantile interpolates linearly on pre-sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
