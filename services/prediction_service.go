package services

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/features"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/registry"
)

// ErrNotInitialized means no model has been loaded yet; the HTTP layer
// maps it to 503.
var ErrNotInitialized = errors.New("prediction service not initialized")

// PredictorFault wraps an error raised by the underlying predictor. It
// never evicts the loaded model; faults are reported per request.
type PredictorFault struct {
	cause error
}

func (e *PredictorFault) Error() string { return fmt.Sprintf("predictor fault: %v", e.cause) }
func (e *PredictorFault) Unwrap() error { return e.cause }

const maxDurationMinutes = 600.0

// PredictionService owns the loaded model slot. Reads are lock-free;
// Reload swaps the pointer atomically, so a predict call that started
// before a swap finishes against the old model and the old model is
// collected once its last reader drops it.
type PredictionService struct {
	scanner *registry.Scanner
	builder *features.Builder
	current atomic.Pointer[registry.LoadedModel]
}

func NewPredictionService(scanner *registry.Scanner, builder *features.Builder) *PredictionService {
	return &PredictionService{scanner: scanner, builder: builder}
}

// Reload re-runs the registry scan and swaps in the best model. When no
// candidate loads, the previously loaded model (if any) stays in place.
func (s *PredictionService) Reload() (*registry.LoadedModel, error) {
	m, err := s.scanner.SelectBest()
	if err != nil {
		return nil, err
	}
	if m.Unit == "" {
		slog.Warn("model metadata does not declare a duration unit, the >60 heuristic will apply",
			"run_id", m.RunID)
	}
	s.current.Store(m)
	slog.Info("model loaded",
		"run_id", m.RunID, "model_type", m.ModelType, "rmse", m.RMSE)
	return m, nil
}

// Current returns the loaded model for introspection endpoints.
func (s *PredictionService) Current() (*registry.LoadedModel, error) {
	m := s.current.Load()
	if m == nil {
		return nil, ErrNotInitialized
	}
	return m, nil
}

// Predict is the hot path: build features, apply the cached predictor,
// normalize units, attach the confidence heuristic.
func (s *PredictionService) Predict(req models.PredictionRequest) (models.Prediction, error) {
	m := s.current.Load()
	if m == nil {
		return models.Prediction{}, ErrNotInitialized
	}

	fv, err := s.builder.Build(req)
	if err != nil {
		return models.Prediction{}, err
	}

	order := m.FeatureOrder
	if len(order) == 0 {
		order = models.FeatureOrder
	}
	vals, ok := fv.Slice(order)
	if !ok {
		return models.Prediction{}, &PredictorFault{
			cause: fmt.Errorf("model %s requires unknown features %v", m.RunID, order),
		}
	}

	raw, err := m.Predictor.Predict(vals)
	if err != nil {
		return models.Prediction{}, &PredictorFault{cause: err}
	}

	minutes := normalizeMinutes(raw, m.Unit)
	minutes = math.Min(math.Max(minutes, 0), maxDurationMinutes)

	return models.Prediction{
		PredictedDurationMinutes: round(minutes, 2),
		ConfidenceScore:          confidence(fv),
		ModelVersion:             m.Version(),
		PredictionTimestamp:      time.Now().UTC(),
		FeaturesUsed:             fv,
	}, nil
}

// normalizeMinutes converts a raw model output to minutes. The metadata
// unit is authoritative; without one, the training pipelines were never
// consistent, so a value above 60 is taken to be seconds.
func normalizeMinutes(raw float64, unit string) float64 {
	switch unit {
	case registry.UnitSeconds:
		return raw / 60
	case registry.UnitMinutes:
		return raw
	default:
		if raw > 60 {
			return raw / 60
		}
		return raw
	}
}

// confidence is a fixed heuristic, not a calibrated probability. The
// exact output is pinned by regression tests; change it and the clients
// comparing scores across releases break.
func confidence(fv models.FeatureVector) float64 {
	score := 0.85
	if fv.DistanceKM > 50 {
		score *= 0.9
	}
	if fv.IsRushHour == 1 {
		score *= 0.95
	}
	return round(score, 3)
}

func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
