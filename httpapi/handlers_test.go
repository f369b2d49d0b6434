package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Kerremmarket/credit/cache"
	"github.com/Kerremmarket/credit/dataset"
	"github.com/Kerremmarket/credit/db"
	"github.com/Kerremmarket/credit/ml"
	"github.com/Kerremmarket/credit/monitoring"
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
11,1,0.81,44,0.31,4100
12,0,0.05,62,0.22,5200
13,0,0.44,35,0.18,2800
14,1,0.88,41,0.55,3900
15,0,0.09,58,0.07,6100
16,0,0.33,47,0.29,3300
17,1,0.71,36,0.42,2950
18,0,0.15,69,0.11,4800
19,0,0.27,52,0.33,3700
20,1,0.93,43,0.61,3100
`

func TestMain(m *testing.M) {
	dbPath := "./test.db"
	db.InitDB(dbPath)

	code := m.Run()

	db.Close()
	os.Remove(dbPath)
	os.Exit(code)
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	log := zap.NewNop()

	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "sample.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := cache.New(t.TempDir(), time.Hour, 8, log)
	if err != nil {
		t.Fatal(err)
	}

	hub := monitoring.NewHub(log)
	go hub.Start()
	t.Cleanup(hub.Stop)

	return &API{
		Data:              dataset.NewManager(dataDir, 1000, log),
		Models:            ml.NewRegistry(t.TempDir(), log),
		Cache:             store,
		Hub:               hub,
		Log:               log,
		MaxExplainSamples: 100,
		PDPGridSize:       10,
		MLPEpochs:         5,
		MLPHidden:         []int{4},
	}
}

func serve(t *testing.T, api *API, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	api.Register(mux)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func loadAndTrain(t *testing.T, api *API, model string) {
	t.Helper()
	rr := serve(t, api, "POST", "/api/data/load", loadRequest{Path: "sample.csv"})
	if rr.Code != http.StatusOK {
		t.Fatalf("load failed: %d %s", rr.Code, rr.Body.String())
	}
	rr = serve(t, api, "POST", "/api/train", trainRequest{
		Model:         model,
		FeatureConfig: []string{"RevolvingUtilizationOfUnsecuredLines", "age"},
		TestSize:      0.2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("train failed: %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	api := newTestAPI(t)
	rr := serve(t, api, "GET", "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("unexpected status: %d", rr.Code)
	}
}

func TestDataLoadMissingFile(t *testing.T) {
	api := newTestAPI(t)
	rr := serve(t, api, "POST", "/api/data/load", loadRequest{Path: "nope.csv"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing CSV, got %d", rr.Code)
	}
}

func TestDataLoadSummary(t *testing.T) {
	api := newTestAPI(t)
	rr := serve(t, api, "POST", "/api/data/load", loadRequest{Path: "sample.csv"})
	if rr.Code != http.StatusOK {
		t.Fatalf("load failed: %d %s", rr.Code, rr.Body.String())
	}
	var summary dataset.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid summary payload: %v", err)
	}
	if summary.RowCount != 20 {
		t.Errorf("expected 20 rows, got %d", summary.RowCount)
	}
}

func TestTrainValidation(t *testing.T) {
	api := newTestAPI(t)

	rr := serve(t, api, "POST", "/api/train", trainRequest{Model: "svm", FeatureConfig: []string{"age"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown model should be 400, got %d", rr.Code)
	}

	rr = serve(t, api, "POST", "/api/train", trainRequest{Model: "logistic"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty feature_config should be 400, got %d", rr.Code)
	}

	// No dataset loaded yet.
	rr = serve(t, api, "POST", "/api/train", trainRequest{Model: "logistic", FeatureConfig: []string{"age"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("training without a dataset should be 400, got %d", rr.Code)
	}
}

func TestTrainAndPredict(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "logistic")

	rr := serve(t, api, "POST", "/api/predict", predictRequest{
		Model: "logistic",
		Rows: []map[string]float64{
			{"RevolvingUtilizationOfUnsecuredLines": 0.9, "age": 40},
			{"RevolvingUtilizationOfUnsecuredLines": 0.1, "age": 60},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("predict failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Probabilities) != 2 || len(resp.LogOdds) != 2 {
		t.Fatalf("expected 2 predictions, got %+v", resp)
	}
	for _, p := range resp.Probabilities {
		if p < 0 || p > 1 {
			t.Errorf("probability out of range: %v", p)
		}
	}
}

func TestPredictUntrained(t *testing.T) {
	api := newTestAPI(t)
	rr := serve(t, api, "POST", "/api/predict", predictRequest{
		Model: "rf",
		Rows:  []map[string]float64{{"age": 40}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("untrained model should be 400, got %d", rr.Code)
	}
}

func TestTraceForwardLogistic(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "logistic")

	rr := serve(t, api, "POST", "/api/trace/forward", rowRequest{
		Model: "logistic",
		Row:   map[string]float64{"RevolvingUtilizationOfUnsecuredLines": 0.8, "age": 45},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("trace failed: %d %s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if _, ok := payload["contributions"]; !ok {
		t.Error("forward trace missing contributions")
	}
}

func TestTraceTreePathRequiresTreeModel(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "logistic")

	rr := serve(t, api, "POST", "/api/trace/treepath", treePathRequest{
		Model: "logistic",
		Row:   map[string]float64{"age": 45},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("treepath on logistic should be 400, got %d", rr.Code)
	}
}

func TestTreePathAndEnsemble(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "rf")

	rr := serve(t, api, "POST", "/api/trace/treepath", treePathRequest{
		Model:    "rf",
		Row:      map[string]float64{"RevolvingUtilizationOfUnsecuredLines": 0.8, "age": 45},
		FullTree: true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("treepath failed: %d %s", rr.Code, rr.Body.String())
	}
	var path map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &path); err != nil {
		t.Fatal(err)
	}
	if _, ok := path["full_tree"]; !ok {
		t.Error("full tree requested but missing")
	}

	rr = serve(t, api, "POST", "/api/trace/ensemble", ensembleRequest{Model: "rf"})
	if rr.Code != http.StatusOK {
		t.Fatalf("ensemble failed: %d %s", rr.Code, rr.Body.String())
	}
}

func TestExplainEndpoints(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "logistic")

	rr := serve(t, api, "POST", "/api/explain/shap-local", rowRequest{
		Model: "logistic",
		Row:   map[string]float64{"RevolvingUtilizationOfUnsecuredLines": 0.8, "age": 45},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("shap-local failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, api, "POST", "/api/explain/shap-summary", summaryRequest{Model: "logistic"})
	if rr.Code != http.StatusOK {
		t.Fatalf("shap-summary failed: %d %s", rr.Code, rr.Body.String())
	}
	first := rr.Body.String()

	// Second call should serve the cached payload byte for byte.
	rr = serve(t, api, "POST", "/api/explain/shap-summary", summaryRequest{Model: "logistic"})
	if rr.Body.String() != first {
		t.Error("cached summary differs from first response")
	}

	rr = serve(t, api, "POST", "/api/explain/pdp", pdpRequest{
		Model:    "logistic",
		Features: []string{"age"},
		GridSize: 5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("pdp failed: %d %s", rr.Code, rr.Body.String())
	}
}

func TestArchitecture(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "mlp")

	rr := serve(t, api, "GET", "/api/model/architecture?model=mlp", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("architecture failed: %d %s", rr.Code, rr.Body.String())
	}
	var arch map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &arch); err != nil {
		t.Fatal(err)
	}
	if _, ok := arch["layers"]; !ok {
		t.Error("mlp architecture missing layers")
	}
}

func TestModelsList(t *testing.T) {
	api := newTestAPI(t)
	loadAndTrain(t, api, "logistic")

	rr := serve(t, api, "GET", "/api/models", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("models list failed: %d %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Trained []string         `json:"trained"`
		Runs    []db.TrainingRun `json:"runs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Trained) == 0 {
		t.Error("trained kinds missing")
	}
	if len(payload.Runs) == 0 {
		t.Error("training run not recorded")
	}
}
