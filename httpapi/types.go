package httpapi

// Request bodies mirror the JSON the charting frontend sends.

type loadRequest struct {
	Path string `json:"path"`
}

type exemplarsRequest struct {
	K        int      `json:"k"`
	Features []string `json:"features,omitempty"`
}

type trainRequest struct {
	Model         string               `json:"model"`
	FeatureConfig []string             `json:"feature_config"`
	Filters       map[string][]float64 `json:"filters,omitempty"`
	TestSize      float64              `json:"test_size,omitempty"`
	RandomState   int64                `json:"random_state,omitempty"`
	ScaleNumeric  *bool                `json:"scale_numeric,omitempty"`
	NEstimators   int                  `json:"n_estimators,omitempty"`
	HiddenLayers  []int                `json:"hidden_layers,omitempty"`
	Epochs        int                  `json:"epochs,omitempty"`
}

type trainResponse struct {
	Model     string   `json:"model"`
	Features  []string `json:"features"`
	TrainRows int      `json:"train_rows"`
	TestRows  int      `json:"test_rows"`
	Metrics   any      `json:"metrics"`
}

type predictRequest struct {
	Model string               `json:"model"`
	Rows  []map[string]float64 `json:"rows"`
}

type predictResponse struct {
	Model         string    `json:"model"`
	Probabilities []float64 `json:"probabilities"`
	LogOdds       []float64 `json:"log_odds"`
}

type rowRequest struct {
	Model string             `json:"model"`
	Row   map[string]float64 `json:"row"`
}

type treePathRequest struct {
	Model    string             `json:"model"`
	Row      map[string]float64 `json:"row"`
	FullTree bool               `json:"full_tree,omitempty"`
}

type ensembleRequest struct {
	Model string             `json:"model"`
	Row   map[string]float64 `json:"row,omitempty"`
}

type summaryRequest struct {
	Model      string `json:"model"`
	MaxSamples int    `json:"max_samples,omitempty"`
}

type pdpRequest struct {
	Model    string               `json:"model"`
	Features []string             `json:"features"`
	GridSize int                  `json:"grid_size,omitempty"`
	Filters  map[string][]float64 `json:"filters,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
