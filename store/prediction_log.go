package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
)

// PredictionLog appends every served prediction to a local sqlite file
// for offline monitoring. Writes are batched by a background goroutine;
// the hot path only enqueues and never blocks — when the queue is full
// the entry is dropped.
type PredictionLog struct {
	db   *sql.DB
	ch   chan logEntry
	done chan struct{}
}

type logEntry struct {
	at         time.Time
	prediction models.Prediction
}

const (
	logQueueSize     = 256
	logBatchSize     = 64
	logFlushEvery    = 2 * time.Second
	predictionLogDDL = `
	CREATE TABLE IF NOT EXISTS prediction_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		model_version TEXT NOT NULL,
		predicted_duration_minutes REAL NOT NULL,
		confidence_score REAL NOT NULL,
		distance_km REAL NOT NULL,
		passenger_count INTEGER NOT NULL,
		vendor_id INTEGER NOT NULL,
		hour_of_day INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL,
		month INTEGER NOT NULL,
		is_weekend INTEGER NOT NULL,
		is_rush_hour INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prediction_logs_time ON prediction_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_prediction_logs_model ON prediction_logs(model_version, created_at DESC);
	`
)

func NewPredictionLog(path string) (*PredictionLog, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating prediction log directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening prediction log: %w", err)
	}
	// Single writer, sqlite's comfort zone.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(predictionLogDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating prediction log schema: %w", err)
	}

	l := &PredictionLog{
		db:   db,
		ch:   make(chan logEntry, logQueueSize),
		done: make(chan struct{}),
	}
	go l.writeLoop()
	return l, nil
}

// Record enqueues a prediction for logging. Best effort by design.
func (l *PredictionLog) Record(p models.Prediction) {
	select {
	case l.ch <- logEntry{at: time.Now().UTC(), prediction: p}:
	default:
		slog.Debug("prediction log queue full, dropping entry")
	}
}

func (l *PredictionLog) writeLoop() {
	defer close(l.done)

	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	batch := make([]logEntry, 0, logBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.insertBatch(batch); err != nil {
			slog.Warn("prediction log flush failed", logger.Err(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *PredictionLog) insertBatch(batch []logEntry) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO prediction_logs (
			created_at, model_version, predicted_duration_minutes, confidence_score,
			distance_km, passenger_count, vendor_id, hour_of_day, day_of_week,
			month, is_weekend, is_rush_hour
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		fv := e.prediction.FeaturesUsed
		_, err := stmt.Exec(
			e.at, e.prediction.ModelVersion,
			e.prediction.PredictedDurationMinutes, e.prediction.ConfidenceScore,
			fv.DistanceKM, fv.PassengerCount, fv.VendorID, fv.HourOfDay,
			fv.DayOfWeek, fv.Month, fv.IsWeekend, fv.IsRushHour,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close drains pending entries and closes the database.
func (l *PredictionLog) Close() error {
	close(l.ch)
	<-l.done
	return l.db.Close()
}
