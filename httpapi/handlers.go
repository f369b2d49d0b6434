// Package httpapi serves the observatory REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kerremmarket/credit/cache"
	"github.com/Kerremmarket/credit/dataset"
	"github.com/Kerremmarket/credit/db"
	"github.com/Kerremmarket/credit/explain"
	"github.com/Kerremmarket/credit/ml"
	"github.com/Kerremmarket/credit/monitoring"
	"github.com/Kerremmarket/credit/trace"
)

// API bundles the handlers' dependencies.
type API struct {
	Data   *dataset.Manager
	Models *ml.Registry
	Cache  *cache.Cache
	Hub    *monitoring.Hub
	Log    *zap.Logger

	MaxExplainSamples int
	PDPGridSize       int
	MLPEpochs         int
	MLPHidden         []int
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/data/load", a.handleDataLoad)
	mux.HandleFunc("POST /api/data/exemplars", a.handleExemplars)
	mux.HandleFunc("POST /api/train", a.handleTrain)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("POST /api/trace/forward", a.handleTraceForward)
	mux.HandleFunc("POST /api/trace/treepath", a.handleTraceTreePath)
	mux.HandleFunc("POST /api/trace/ensemble", a.handleTraceEnsemble)
	mux.HandleFunc("POST /api/explain/shap-summary", a.handleShapSummary)
	mux.HandleFunc("POST /api/explain/shap-local", a.handleShapLocal)
	mux.HandleFunc("POST /api/explain/pdp", a.handlePDP)
	mux.HandleFunc("GET /api/model/architecture", a.handleArchitecture)
	mux.HandleFunc("GET /api/models", a.handleModels)
	mux.HandleFunc("GET /api/ws/training", a.Hub.HandleWebSocket)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleDataLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	summary, err := a.Data.Load(req.Path)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleExemplars(w http.ResponseWriter, r *http.Request) {
	var req exemplarsRequest
	if !decode(w, r, &req) {
		return
	}
	exemplars, neighbors, err := a.Data.Exemplars(req.K, req.Features)
	if err != nil {
		if errors.Is(err, dataset.ErrNotLoaded) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exemplars": exemplars,
		"neighbors": neighbors,
	})
}

func (a *API) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := ml.ParseKind(req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.FeatureConfig) == 0 {
		writeError(w, http.StatusBadRequest, "feature_config must not be empty")
		return
	}

	ds, err := a.Data.Current()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	available := make(map[string]bool, len(ds.Features))
	for _, f := range ds.Features {
		available[f] = true
	}
	for _, f := range req.FeatureConfig {
		if !available[f] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown feature: %q", f))
			return
		}
	}

	seed := req.RandomState
	if seed == 0 {
		seed = 42
	}
	filtered := ds.ApplyFilters(req.Filters)
	if len(filtered.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "no rows left after applying filters")
		return
	}
	sampled := filtered.Sample(a.Data.MaxRows(), seed)
	trainX, trainY, testX, testY := sampled.SplitTrainTest(req.FeatureConfig, req.TestSize, seed)

	scale := true
	if req.ScaleNumeric != nil {
		scale = *req.ScaleNumeric
	}
	epochs := req.Epochs
	if kind == ml.KindMLP && epochs <= 0 {
		epochs = a.MLPEpochs
	}
	hidden := req.HiddenLayers
	if len(hidden) == 0 {
		hidden = a.MLPHidden
	}

	a.Hub.Publish(monitoring.TrainingEvent{Type: monitoring.TrainingStarted, Model: req.Model})
	opts := ml.TrainOptions{
		Features:     req.FeatureConfig,
		Scale:        scale,
		NEstimators:  req.NEstimators,
		HiddenLayers: hidden,
		Epochs:       epochs,
		Seed:         seed,
		Progress: func(step, total int, loss float64) {
			a.Hub.Publish(monitoring.TrainingEvent{
				Type:  monitoring.TrainingProgress,
				Model: req.Model,
				Step:  step,
				Total: total,
				Loss:  loss,
			})
		},
	}

	trained, err := a.Models.Train(kind, opts, trainX, trainY, testX, testY)
	if err != nil {
		a.Hub.Publish(monitoring.TrainingEvent{Type: monitoring.TrainingFailed, Model: req.Model, Error: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.Hub.Publish(monitoring.TrainingEvent{Type: monitoring.TrainingFinished, Model: req.Model, Metrics: trained.Metrics})

	a.Data.SetFilters(req.Filters)
	a.Cache.InvalidatePrefix("explain_" + req.Model)

	if err := db.SaveTrainingRun(db.TrainingRun{
		Model:     req.Model,
		AUC:       trained.Metrics.AUC,
		Accuracy:  trained.Metrics.Accuracy,
		TrainRows: len(trainX),
		TestRows:  len(testX),
		Duration:  trained.Metrics.TrainingTime,
		TrainedAt: time.Now().UTC(),
	}); err != nil {
		a.Log.Warn("training run not recorded", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, trainResponse{
		Model:     req.Model,
		Features:  trained.Features,
		TrainRows: len(trainX),
		TestRows:  len(testX),
		Metrics:   trained.Metrics,
	})
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows must not be empty")
		return
	}

	resp := predictResponse{
		Model:         req.Model,
		Probabilities: make([]float64, len(req.Rows)),
		LogOdds:       make([]float64, len(req.Rows)),
	}
	for i, values := range req.Rows {
		p, err := trained.PredictProba(trained.Vector(values))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Probabilities[i] = ml.Sanitize(p)
		resp.LogOdds[i] = ml.Sanitize(ml.LogOdds(p))
	}

	if err := db.SavePredictions(req.Model, resp.Probabilities, resp.LogOdds); err != nil {
		a.Log.Warn("predictions not logged", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTraceForward(w http.ResponseWriter, r *http.Request) {
	var req rowRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}
	result, err := trace.Forward(trained, req.Row)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleTraceTreePath(w http.ResponseWriter, r *http.Request) {
	var req treePathRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}
	result, err := trace.Path(trained, req.Row, req.FullTree)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleTraceEnsemble(w http.ResponseWriter, r *http.Request) {
	var req ensembleRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}
	result, err := trace.Ensemble(trained, req.Row)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleShapSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}

	maxSamples := req.MaxSamples
	if maxSamples <= 0 || maxSamples > a.MaxExplainSamples {
		maxSamples = a.MaxExplainSamples
	}
	key := cache.Key("explain_"+req.Model+"_summary", map[string]any{
		"max_samples": maxSamples,
		"trained_at":  trained.TrainedAt.UnixNano(),
	})
	if data, ok := a.Cache.Get(key); ok {
		writeRaw(w, data)
		return
	}

	rows, err := a.explainRows(trained, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := explain.GlobalSummary(trained, rows, maxSamples)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.cacheAndWrite(w, key, "explain_"+req.Model, summary)
}

func (a *API) handleShapLocal(w http.ResponseWriter, r *http.Request) {
	var req rowRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}
	local, err := explain.LocalAttribution(trained, req.Row)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, local)
}

func (a *API) handlePDP(w http.ResponseWriter, r *http.Request) {
	var req pdpRequest
	if !decode(w, r, &req) {
		return
	}
	trained, ok := a.model(w, req.Model)
	if !ok {
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "features must not be empty")
		return
	}
	gridSize := req.GridSize
	if gridSize <= 1 {
		gridSize = a.PDPGridSize
	}

	key := cache.Key("explain_"+req.Model+"_pdp", map[string]any{
		"features":   req.Features,
		"grid_size":  gridSize,
		"filters":    req.Filters,
		"trained_at": trained.TrainedAt.UnixNano(),
	})
	if data, ok := a.Cache.Get(key); ok {
		writeRaw(w, data)
		return
	}

	rows, err := a.explainRows(trained, req.Filters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pdp, err := explain.PartialDependence(trained, rows, req.Features, gridSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.cacheAndWrite(w, key, "explain_"+req.Model, pdp)
}

func (a *API) handleArchitecture(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		model = string(ml.KindMLP)
	}
	trained, ok := a.model(w, model)
	if !ok {
		return
	}

	arch := map[string]any{"model": model, "features": trained.Features}
	switch trained.Kind {
	case ml.KindMLP:
		layers := make([]map[string]any, len(trained.Net.Layers))
		params := 0
		for i, layer := range trained.Net.Layers {
			in, out := len(layer.W), len(layer.B)
			layers[i] = map[string]any{
				"index":      i,
				"shape":      []int{in, out},
				"activation": layer.Activation,
				"params":     in*out + out,
			}
			params += in*out + out
		}
		arch["layers"] = layers
		arch["total_params"] = params
	case ml.KindLogistic:
		arch["weights"] = len(trained.Logistic.Weights)
		arch["total_params"] = len(trained.Logistic.Weights) + 1
	case ml.KindForest:
		nodes := 0
		for _, tree := range trained.Forest.Trees {
			nodes += len(tree.Nodes)
		}
		arch["n_trees"] = len(trained.Forest.Trees)
		arch["max_depth"] = trained.Forest.MaxDepth
		arch["total_nodes"] = nodes
	case ml.KindBoost:
		nodes := 0
		for _, tree := range trained.Boost.Trees {
			nodes += len(tree.Nodes)
		}
		arch["n_trees"] = len(trained.Boost.Trees)
		arch["max_depth"] = trained.Boost.MaxDepth
		arch["learning_rate"] = trained.Boost.LearningRate
		arch["base_score"] = trained.Boost.BaseScore
		arch["total_nodes"] = nodes
	}
	writeJSON(w, http.StatusOK, arch)
}

func (a *API) handleModels(w http.ResponseWriter, r *http.Request) {
	runs, err := db.ListTrainingRuns(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []db.TrainingRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trained": a.Models.Kinds(),
		"runs":    runs,
	})
}

// model resolves a kind string to a trained model, writing the error
// response itself when it cannot.
func (a *API) model(w http.ResponseWriter, name string) (*ml.Trained, bool) {
	kind, err := ml.ParseKind(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	trained, err := a.Models.Get(kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("model %q is not trained", name))
		return nil, false
	}
	return trained, true
}

// explainRows returns raw feature rows for attribution work, using the
// request filters when given and the last training filters otherwise.
func (a *API) explainRows(trained *ml.Trained, filters map[string][]float64) ([][]float64, error) {
	ds, err := a.Data.Current()
	if err != nil {
		return nil, err
	}
	if filters == nil {
		filters = a.Data.Filters()
	}
	filtered := ds.ApplyFilters(filters)
	if len(filtered.Rows) == 0 {
		return nil, errors.New("no rows left after applying filters")
	}
	x, _ := filtered.Matrix(trained.Features)
	if len(x) > a.MaxExplainSamples {
		x = x[:a.MaxExplainSamples]
	}
	return x, nil
}

func (a *API) cacheAndWrite(w http.ResponseWriter, key, prefix string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.Cache.Put(key, prefix, data)
	writeRaw(w, data)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
