// Package training implements the bootstrap training path: fit an
// ordinary least squares model on historical trips (or synthetic ones
// when no database is reachable) and publish it as a registry artifact.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/features"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/predictor"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/registry"
)

// Sample is one historical trip prepared for training.
type Sample struct {
	PickupLatitude   float64
	PickupLongitude  float64
	DropoffLatitude  float64
	DropoffLongitude float64
	PassengerCount   int
	VendorID         int
	PickupDatetime   time.Time
	DurationSeconds  float64
}

// Source yields training samples. Implementations: postgres trip
// extraction and the synthetic generator.
type Source interface {
	Samples(ctx context.Context, limit int) ([]Sample, error)
	Name() string
}

type Trainer struct {
	root         string
	experimentID string
	modelName    string
	source       Source
}

func NewTrainer(root, experimentID, modelName string, source Source) *Trainer {
	return &Trainer{root: root, experimentID: experimentID, modelName: modelName, source: source}
}

type Result struct {
	RunID       string
	RMSE        float64
	TrainSize   int
	ArtifactDir string
}

// Run trains one model and writes its artifact. The artifact is loaded
// back through the predictor codec before Run reports success; a run
// that produced an unloadable blob is deleted and fails, so a
// "successful" bootstrap always leaves the scanner something to serve.
func (t *Trainer) Run(ctx context.Context, sampleSize int) (*Result, error) {
	samples, err := t.source.Samples(ctx, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("extracting training data: %w", err)
	}
	if len(samples) < 50 {
		return nil, fmt.Errorf("not enough training data: %d samples", len(samples))
	}
	slog.Info("training data ready", "source", t.source.Name(), "samples", len(samples))

	X := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		fv := features.FromTrip(
			s.PickupLatitude, s.PickupLongitude,
			s.DropoffLatitude, s.DropoffLongitude,
			s.PickupDatetime, s.PassengerCount, s.VendorID,
		)
		row, _ := fv.Slice(models.FeatureOrder)
		X[i] = row
		y[i] = s.DurationSeconds / 60 // target in minutes
	}

	// Time-ordered split: first 80% train, last 20% holdout.
	cut := len(samples) * 8 / 10
	model, err := fitOLS(X[:cut], y[:cut])
	if err != nil {
		return nil, fmt.Errorf("fitting model: %w", err)
	}

	rmse, err := holdoutRMSE(model, X[cut:], y[cut:])
	if err != nil {
		return nil, fmt.Errorf("evaluating model: %w", err)
	}
	slog.Info("model trained", "rmse_minutes", rmse, "train_size", cut)

	runID := uuid.NewString()
	artifactDir := filepath.Join(t.root, t.experimentID, runID, "artifacts", t.modelName)
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	blobPath := filepath.Join(artifactDir, "predictor.json")
	if err := predictor.Save(blobPath, model); err != nil {
		return nil, t.failRun(runID, fmt.Errorf("writing predictor blob: %w", err))
	}
	meta := registry.Metadata{
		RMSE:         rmse,
		TrainedAt:    time.Now().UTC(),
		FeatureOrder: models.FeatureOrder,
		Unit:         registry.UnitMinutes,
		ModelType:    "LinearRegression",
		TrainSize:    cut,
	}
	if err := registry.WriteMetadata(filepath.Join(artifactDir, "metadata.json"), meta); err != nil {
		return nil, t.failRun(runID, fmt.Errorf("writing metadata: %w", err))
	}

	// Load-back verification: an artifact the scanner cannot serve is
	// worse than no artifact at all.
	if _, err := predictor.Load(blobPath); err != nil {
		return nil, t.failRun(runID, fmt.Errorf("artifact verification failed: %w", err))
	}

	slog.Info("artifact published", "run_id", runID, "dir", artifactDir)
	return &Result{RunID: runID, RMSE: rmse, TrainSize: cut, ArtifactDir: artifactDir}, nil
}

// failRun removes the half-written run directory so the scanner never
// sees it.
func (t *Trainer) failRun(runID string, cause error) error {
	runDir := filepath.Join(t.root, t.experimentID, runID)
	if err := os.RemoveAll(runDir); err != nil {
		slog.Warn("cannot clean up failed run", "run_id", runID, "dir", runDir)
	}
	return cause
}

// fitOLS solves least squares with an intercept column via QR.
func fitOLS(X [][]float64, y []float64) (*predictor.Linear, error) {
	n := len(X)
	d := len(X[0])

	A := mat.NewDense(n, d+1, nil)
	for i, row := range X {
		A.Set(i, 0, 1)
		for j, v := range row {
			A.Set(i, j+1, v)
		}
	}
	b := mat.NewDense(n, 1, y)

	var qr mat.QR
	qr.Factorize(A)

	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, b); err != nil {
		return nil, fmt.Errorf("solving least squares: %w", err)
	}

	weights := make([]float64, d)
	for j := 0; j < d; j++ {
		weights[j] = beta.At(j+1, 0)
	}
	return &predictor.Linear{Weights: weights, Intercept: beta.At(0, 0)}, nil
}

func holdoutRMSE(model *predictor.Linear, X [][]float64, y []float64) (float64, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("empty holdout set")
	}
	var sse float64
	for i, row := range X {
		pred, err := model.Predict(row)
		if err != nil {
			return 0, err
		}
		diff := pred - y[i]
		sse += diff * diff
	}
	rmse := math.Sqrt(sse / float64(len(X)))
	if math.IsNaN(rmse) || math.IsInf(rmse, 0) {
		return 0, fmt.Errorf("rmse is not finite")
	}
	return rmse, nil
}
