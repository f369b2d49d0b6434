package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Trained is a persisted model together with its preprocessing state
// and the evaluation metrics of the run that produced it.
type Trained struct {
	Kind     Kind          `json:"kind"`
	Features []string      `json:"features"`
	Pre      *Preprocessor `json:"preprocessor"`

	Logistic *Logistic `json:"logistic,omitempty"`
	Forest   *Forest   `json:"forest,omitempty"`
	Boost    *Boost    `json:"boost,omitempty"`
	Net      *MLP      `json:"net,omitempty"`

	Metrics Metrics `json:"metrics"`

	// BackgroundMean is the per-feature mean of the transformed train
	// matrix, the base point for attributions and dependence plots.
	BackgroundMean []float64 `json:"background_mean"`
	TrainedAt      time.Time `json:"trained_at"`
}

// Vector builds the raw feature vector for a request payload. Features
// absent from the payload become NaN so the preprocessor imputes them
// with the train median.
func (t *Trained) Vector(values map[string]float64) []float64 {
	row := make([]float64, len(t.Features))
	for j, f := range t.Features {
		if v, ok := values[f]; ok {
			row[j] = v
		} else {
			row[j] = math.NaN()
		}
	}
	return row
}

// PredictProba transforms a raw row and scores it with the wrapped model.
func (t *Trained) PredictProba(raw []float64) (float64, error) {
	row := t.Pre.Transform(raw)
	switch t.Kind {
	case KindLogistic:
		if t.Logistic == nil {
			return 0, ErrNotTrained
		}
		return t.Logistic.PredictProba(row), nil
	case KindForest:
		if t.Forest == nil {
			return 0, ErrNotTrained
		}
		return t.Forest.PredictProba(row)
	case KindBoost:
		if t.Boost == nil {
			return 0, ErrNotTrained
		}
		return t.Boost.PredictProba(row)
	case KindMLP:
		if t.Net == nil {
			return 0, ErrNotTrained
		}
		return t.Net.PredictProba(row)
	}
	return 0, fmt.Errorf("unknown model type: %q", t.Kind)
}

// Registry trains, persists and serves models, one slot per kind.
type Registry struct {
	dir string
	log *zap.Logger

	mu     sync.RWMutex
	models map[Kind]*Trained

	// trainMu serializes training runs so two concurrent retrains of
	// the same kind cannot interleave their saved artifacts.
	trainMu sync.Mutex
}

func NewRegistry(dir string, log *zap.Logger) *Registry {
	return &Registry{dir: dir, log: log, models: make(map[Kind]*Trained)}
}

// Get returns the trained model for a kind, or ErrNotTrained.
func (r *Registry) Get(kind Kind) (*Trained, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.models[kind]; ok {
		return t, nil
	}
	return nil, ErrNotTrained
}

// Kinds lists the kinds that currently have a trained model.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.models))
	for _, k := range []Kind{KindLogistic, KindForest, KindBoost, KindMLP} {
		if _, ok := r.models[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Train fits a model of the requested kind on pre-split matrices,
// evaluates it on the test split and persists the artifact.
func (r *Registry) Train(kind Kind, opts TrainOptions, trainX [][]float64, trainY []int, testX [][]float64, testY []int) (*Trained, error) {
	r.trainMu.Lock()
	defer r.trainMu.Unlock()

	if len(opts.Features) == 0 {
		return nil, fmt.Errorf("no features configured")
	}

	pre := FitPreprocessor(trainX, opts.Scale)
	tx := pre.TransformAll(trainX)
	vx := pre.TransformAll(testX)

	t := &Trained{Kind: kind, Features: opts.Features, Pre: pre, TrainedAt: time.Now().UTC()}
	start := time.Now()

	var err error
	switch kind {
	case KindLogistic:
		t.Logistic = &Logistic{}
		err = t.Logistic.Train(tx, trainY, opts.Epochs, opts.Seed)
	case KindForest:
		t.Forest = &Forest{}
		err = t.Forest.Train(tx, trainY, opts.NEstimators, 10, opts.Seed, opts.Progress)
	case KindBoost:
		t.Boost = &Boost{}
		err = t.Boost.Train(tx, trainY, opts.NEstimators, 4, opts.Seed, opts.Progress)
	case KindMLP:
		t.Net = &MLP{}
		err = t.Net.Train(tx, trainY, opts.HiddenLayers, opts.Epochs, opts.Seed, opts.Progress)
	default:
		err = fmt.Errorf("unknown model type: %q", kind)
	}
	if err != nil {
		return nil, err
	}

	t.BackgroundMean = columnMeans(tx)
	t.Metrics, err = r.evaluate(t, vx, testY)
	if err != nil {
		return nil, err
	}
	t.Metrics.TrainingTime = time.Since(start).Seconds()

	if err := r.save(t); err != nil {
		r.log.Warn("model save failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	r.mu.Lock()
	r.models[kind] = t
	r.mu.Unlock()

	r.log.Info("model trained",
		zap.String("kind", string(kind)),
		zap.Float64("auc", t.Metrics.AUC),
		zap.Float64("accuracy", t.Metrics.Accuracy),
		zap.Float64("seconds", t.Metrics.TrainingTime))
	return t, nil
}

func (r *Registry) evaluate(t *Trained, testX [][]float64, testY []int) (Metrics, error) {
	probs := make([]float64, len(testX))
	for i, row := range testX {
		p, err := r.scoreTransformed(t, row)
		if err != nil {
			return Metrics{}, err
		}
		probs[i] = p
	}

	m := Metrics{
		AUC:             Sanitize(AUC(testY, probs)),
		Accuracy:        Sanitize(Accuracy(testY, probs)),
		AvgProbaTest:    Sanitize(meanFloat(probs)),
		ConfusionMatrix: ConfusionMatrix(testY, probs),
	}

	importance := t.importance()
	if importance != nil {
		m.FeatureImportance = make(map[string]float64, len(t.Features))
		for j, f := range t.Features {
			if j < len(importance) {
				m.FeatureImportance[f] = Sanitize(importance[j])
			}
		}
	}
	return m, nil
}

// scoreTransformed scores an already-preprocessed row.
func (r *Registry) scoreTransformed(t *Trained, row []float64) (float64, error) {
	switch t.Kind {
	case KindLogistic:
		return t.Logistic.PredictProba(row), nil
	case KindForest:
		return t.Forest.PredictProba(row)
	case KindBoost:
		return t.Boost.PredictProba(row)
	case KindMLP:
		return t.Net.PredictProba(row)
	}
	return 0, fmt.Errorf("unknown model type: %q", t.Kind)
}

func (t *Trained) importance() []float64 {
	dim := len(t.Features)
	switch t.Kind {
	case KindLogistic:
		if t.Logistic == nil {
			return nil
		}
		out := make([]float64, dim)
		total := 0.0
		for j, w := range t.Logistic.Weights {
			if j < dim {
				out[j] = math.Abs(w)
				total += out[j]
			}
		}
		if total > 0 {
			for j := range out {
				out[j] /= total
			}
		}
		return out
	case KindForest:
		if t.Forest == nil {
			return nil
		}
		return t.Forest.FeatureImportance(dim)
	case KindBoost:
		if t.Boost == nil {
			return nil
		}
		return t.Boost.FeatureImportance(dim)
	}
	// First-layer weight magnitude is only a rough proxy for the MLP,
	// so no importance map is reported for it.
	return nil
}

func (r *Registry) save(t *Trained) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(r.path(t.Kind), data, 0o644)
}

// LoadAll restores previously saved models from the model directory.
// Missing or unreadable artifacts are skipped.
func (r *Registry) LoadAll() {
	for _, kind := range []Kind{KindLogistic, KindForest, KindBoost, KindMLP} {
		data, err := os.ReadFile(r.path(kind))
		if err != nil {
			continue
		}
		var t Trained
		if err := json.Unmarshal(data, &t); err != nil {
			r.log.Warn("model artifact unreadable", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.models[kind] = &t
		r.mu.Unlock()
		r.log.Info("model restored", zap.String("kind", string(kind)), zap.Time("trained_at", t.TrainedAt))
	}
}

func (r *Registry) path(kind Kind) string {
	return filepath.Join(r.dir, string(kind)+".json")
}

func columnMeans(x [][]float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	means := make([]float64, len(x[0]))
	for _, row := range x {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(x))
	}
	return means
}
