// Package db persists training history and prediction logs in SQLite.
package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var database *sql.DB

// InitDB opens the SQLite database and creates the schema.
func InitDB(path string) error {
	var err error
	database, err = sql.Open("sqlite3", path)
	if err != nil {
		return err
	}

	query := `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model VARCHAR(20) NOT NULL,
        auc REAL,
        accuracy REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        duration_seconds REAL,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS prediction_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model VARCHAR(20) NOT NULL,
        probability REAL,
        log_odds REAL,
        predicted_at DATETIME NOT NULL
    );
    `
	_, err = database.Exec(query)
	return err
}

// Close releases the database handle.
func Close() error {
	if database == nil {
		return nil
	}
	return database.Close()
}

// TrainingRun is one row of the training history.
type TrainingRun struct {
	ID        int64     `json:"id"`
	Model     string    `json:"model"`
	AUC       float64   `json:"auc"`
	Accuracy  float64   `json:"accuracy"`
	TrainRows int       `json:"train_rows"`
	TestRows  int       `json:"test_rows"`
	Duration  float64   `json:"duration_seconds"`
	TrainedAt time.Time `json:"trained_at"`
}

// SaveTrainingRun records a completed training run.
func SaveTrainingRun(run TrainingRun) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	_, err := database.Exec(`
        INSERT INTO training_runs (model, auc, accuracy, train_rows, test_rows, duration_seconds, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Model, run.AUC, run.Accuracy, run.TrainRows, run.TestRows, run.Duration, run.TrainedAt)
	return err
}

// ListTrainingRuns returns the most recent runs, newest first.
func ListTrainingRuns(limit int) ([]TrainingRun, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(`
        SELECT id, model, auc, accuracy, train_rows, test_rows, duration_seconds, trained_at
        FROM training_runs
        ORDER BY trained_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		var r TrainingRun
		var auc, accuracy, duration sql.NullFloat64
		err := rows.Scan(&r.ID, &r.Model, &auc, &accuracy, &r.TrainRows, &r.TestRows, &duration, &r.TrainedAt)
		if err != nil {
			return nil, err
		}
		if auc.Valid {
			r.AUC = auc.Float64
		}
		if accuracy.Valid {
			r.Accuracy = accuracy.Float64
		}
		if duration.Valid {
			r.Duration = duration.Float64
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SavePredictions logs a batch of served predictions.
func SavePredictions(model string, probas, logOdds []float64) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	tx, err := database.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range probas {
		lo := 0.0
		if i < len(logOdds) {
			lo = logOdds[i]
		}
		_, err = tx.Exec(`
            INSERT INTO prediction_log (model, probability, log_odds, predicted_at)
            VALUES (?, ?, ?, ?)`,
			model, probas[i], lo, now)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
