package dataset

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// ExemplarRow is a representative dataset row.
type ExemplarRow struct {
	RowIndex      int                `json:"row_index"`
	FeatureValues map[string]float64 `json:"feature_values"`
	Label         *int               `json:"label"`
}

// Exemplars clusters the standardized feature space with k-means and
// returns the row closest to each centroid plus up to three in-cluster
// neighbors per exemplar.
func (m *Manager) Exemplars(k int, features []string) ([]ExemplarRow, []ExemplarRow, error) {
	ds, err := m.Current()
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		k = 10
	}
	if len(features) == 0 {
		features = ds.Features
	}

	x, _ := ds.Matrix(features)
	if len(x) == 0 {
		return nil, nil, errors.New("dataset has no rows")
	}
	if k > len(x) {
		k = len(x)
	}

	scaled := standardize(imputeMedian(x))
	centroids, assignment := kmeans(scaled, k, 42)

	exemplars := make([]ExemplarRow, 0, k)
	neighbors := make([]ExemplarRow, 0, 3*k)
	for c := 0; c < k; c++ {
		members := make([]int, 0)
		for i, a := range assignment {
			if a == c {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}
		sort.Slice(members, func(a, b int) bool {
			return euclidean(scaled[members[a]], centroids[c]) < euclidean(scaled[members[b]], centroids[c])
		})
		exemplars = append(exemplars, ds.exemplarRow(members[0], features))
		// Up to three in-cluster neighbors, counted per cluster.
		for i, idx := range members[1:] {
			if i >= 3 {
				break
			}
			neighbors = append(neighbors, ds.exemplarRow(idx, features))
		}
	}
	return exemplars, neighbors, nil
}

func (d *Dataset) exemplarRow(idx int, features []string) ExemplarRow {
	values := make(map[string]float64, len(features))
	for _, f := range features {
		v := d.Value(d.Rows[idx], f)
		if math.IsNaN(v) {
			v = 0
		}
		values[f] = v
	}
	label := d.Label(d.Rows[idx])
	return ExemplarRow{RowIndex: idx, FeatureValues: values, Label: &label}
}

func imputeMedian(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return x
	}
	cols := len(x[0])
	medians := make([]float64, cols)
	for j := 0; j < cols; j++ {
		values := make([]float64, 0, len(x))
		for i := range x {
			if !math.IsNaN(x[i][j]) {
				values = append(values, x[i][j])
			}
		}
		if len(values) > 0 {
			sort.Float64s(values)
			medians[j] = quantile(values, 0.5)
		}
	}
	out := make([][]float64, len(x))
	for i := range x {
		row := append([]float64(nil), x[i]...)
		for j := range row {
			if math.IsNaN(row[j]) {
				row[j] = medians[j]
			}
		}
		out[i] = row
	}
	return out
}

func standardize(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return x
	}
	cols := len(x[0])
	mean := make([]float64, cols)
	std := make([]float64, cols)
	for j := 0; j < cols; j++ {
		for i := range x {
			mean[j] += x[i][j]
		}
		mean[j] /= float64(len(x))
		for i := range x {
			d := x[i][j] - mean[j]
			std[j] += d * d
		}
		std[j] = math.Sqrt(std[j] / float64(len(x)))
		if std[j] == 0 {
			std[j] = 1
		}
	}
	out := make([][]float64, len(x))
	for i := range x {
		row := make([]float64, cols)
		for j := range row {
			row[j] = (x[i][j] - mean[j]) / std[j]
		}
		out[i] = row
	}
	return out
}

// kmeans runs Lloyd's algorithm with a fixed seed and iteration cap.
func kmeans(x [][]float64, k int, seed int64) (centroids [][]float64, assignment []int) {
	rnd := rand.New(rand.NewSource(seed))
	perm := rnd.Perm(len(x))
	centroids = make([][]float64, k)
	for c := 0; c < k; c++ {
		centroids[c] = append([]float64(nil), x[perm[c]]...)
	}
	assignment = make([]int, len(x))

	for iter := 0; iter < 50; iter++ {
		changed := false
		for i := range x {
			best, bestDist := 0, math.MaxFloat64
			for c := range centroids {
				if d := euclidean(x[i], centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		counts := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, len(x[0]))
		}
		for i := range x {
			c := assignment[i]
			counts[c]++
			for j := range x[i] {
				next[c][j] += x[i][j]
			}
		}
		for c := range next {
			if counts[c] == 0 {
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
			centroids[c] = next[c]
		}
		if !changed {
			break
		}
	}
	return centroids, assignment
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
