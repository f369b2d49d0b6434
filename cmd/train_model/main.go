// Offline trainer: fits one model from a credit CSV without the server.
package main

import (
	"flag"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/Kerremmarket/credit/dataset"
	"github.com/Kerremmarket/credit/ml"
)

func main() {
	csvPath := flag.String("csv", "cs-training.csv", "credit CSV inside the data dir")
	dataDir := flag.String("data_dir", "./data", "data directory")
	modelDir := flag.String("model_dir", "./models", "model output directory")
	modelName := flag.String("model", "logistic", "model kind: logistic, rf, xgb, mlp")
	nEstimators := flag.Int("n_estimators", 100, "trees for rf/xgb")
	epochs := flag.Int("epochs", 10, "epochs for logistic/mlp")
	testSize := flag.Float64("test_size", 0.2, "test split fraction")
	maxRows := flag.Int("max_rows", 20000, "row cap before training")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	kind, err := ml.ParseKind(*modelName)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer logger.Sync()

	data := dataset.NewManager(*dataDir, *maxRows, logger)
	summary, err := data.Load(*csvPath)
	if err != nil {
		logger.Fatal("dataset load failed", zap.Error(err))
	}
	logger.Info("dataset loaded", zap.Int("rows", summary.RowCount))

	ds, err := data.Current()
	if err != nil {
		logger.Fatal("dataset unavailable", zap.Error(err))
	}
	sampled := ds.Sample(*maxRows, *seed)
	trainX, trainY, testX, testY := sampled.SplitTrainTest(ds.Features, *testSize, *seed)

	registry := ml.NewRegistry(*modelDir, logger)
	trained, err := registry.Train(kind, ml.TrainOptions{
		Features:    ds.Features,
		Scale:       true,
		NEstimators: *nEstimators,
		Epochs:      *epochs,
		Seed:        *seed,
	}, trainX, trainY, testX, testY)
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}

	fmt.Printf("model=%s auc=%.4f accuracy=%.4f saved to %s\n",
		*modelName, trained.Metrics.AUC, trained.Metrics.Accuracy, *modelDir)
}
