package services

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/config"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/features"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/predictor"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/registry"
)

var nycBox = config.BoundingBox{LatMin: 40.5, LonMin: -74.3, LatMax: 40.9, LonMax: -73.7}

func writeModel(t *testing.T, root, runID string, intercept, rmse float64, unit string) {
	t.Helper()
	dir := filepath.Join(root, "1", runID, "artifacts", "models")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := &predictor.Linear{Weights: make([]float64, len(models.FeatureOrder)), Intercept: intercept}
	if err := predictor.Save(filepath.Join(dir, "predictor.json"), m); err != nil {
		t.Fatal(err)
	}
	err := registry.WriteMetadata(filepath.Join(dir, "metadata.json"), registry.Metadata{
		RMSE:         rmse,
		TrainedAt:    time.Now().UTC(),
		FeatureOrder: models.FeatureOrder,
		Unit:         unit,
		ModelType:    "LinearRegression",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func newService(t *testing.T, root string) *PredictionService {
	t.Helper()
	scanner := registry.NewScanner(root, "1", "models")
	builder := features.NewBuilder(nycBox, time.UTC)
	return NewPredictionService(scanner, builder)
}

func shortTrip() models.PredictionRequest {
	return models.PredictionRequest{
		PickupLatitude: 40.7580, PickupLongitude: -73.9855,
		DropoffLatitude: 40.7614, DropoffLongitude: -73.9776,
		PassengerCount: 1, VendorID: 1,
		PickupDatetime: "2024-03-14T17:30:00",
	}
}

func TestPredictNotInitialized(t *testing.T) {
	svc := newService(t, t.TempDir())
	if _, err := svc.Predict(shortTrip()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Predict() error = %v, want ErrNotInitialized", err)
	}
	if _, err := svc.Current(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Current() error = %v, want ErrNotInitialized", err)
	}
}

func TestReloadEmptyRegistryKeepsExistingModel(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "run-aaaaaaaa", 10, 6.5, registry.UnitMinutes)

	svc := newService(t, root)
	if _, err := svc.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	// Wipe the registry; reload must fail but the old model stays.
	if err := os.RemoveAll(filepath.Join(root, "1")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reload(); !errors.Is(err, registry.ErrNoModelAvailable) {
		t.Errorf("Reload() error = %v, want ErrNoModelAvailable", err)
	}
	if _, err := svc.Current(); err != nil {
		t.Errorf("Current() error = %v, want loaded model to survive failed reload", err)
	}
	if _, err := svc.Predict(shortTrip()); err != nil {
		t.Errorf("Predict() error = %v, want success on surviving model", err)
	}
}

func TestPredictConfidence(t *testing.T) {
	tests := []struct {
		name string
		req  models.PredictionRequest
		want float64
	}{
		{"rush hour short trip", shortTrip(), 0.808}, // 0.85 × 0.95
		{
			"weekend midday", models.PredictionRequest{
				PickupLatitude: 40.7580, PickupLongitude: -73.9855,
				DropoffLatitude: 40.6413, DropoffLongitude: -73.7781,
				PassengerCount: 2, VendorID: 2,
				PickupDatetime: "2024-03-16T13:00:00",
			}, 0.850,
		},
		{
			// Corner to corner of the box is ≈67 km.
			"long trip off peak", models.PredictionRequest{
				PickupLatitude: 40.5, PickupLongitude: -74.3,
				DropoffLatitude: 40.9, DropoffLongitude: -73.7,
				PassengerCount: 1, VendorID: 1,
				PickupDatetime: "2024-03-14T13:00:00",
			}, 0.765, // 0.85 × 0.9
		},
		{
			"long trip rush hour", models.PredictionRequest{
				PickupLatitude: 40.5, PickupLongitude: -74.3,
				DropoffLatitude: 40.9, DropoffLongitude: -73.7,
				PassengerCount: 1, VendorID: 1,
				PickupDatetime: "2024-03-14T08:00:00",
			}, 0.727, // 0.85 × 0.9 × 0.95
		},
	}

	root := t.TempDir()
	writeModel(t, root, "run-aaaaaaaa", 12, 6.5, registry.UnitMinutes)
	svc := newService(t, root)
	if _, err := svc.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := svc.Predict(tt.req)
			if err != nil {
				t.Fatalf("Predict() error: %v", err)
			}
			if p.ConfidenceScore != tt.want {
				t.Errorf("ConfidenceScore = %v, want %v", p.ConfidenceScore, tt.want)
			}
		})
	}
}

func TestPredictUnitNormalization(t *testing.T) {
	tests := []struct {
		name      string
		intercept float64
		unit      string
		want      float64
	}{
		{"declared seconds", 300, registry.UnitSeconds, 5},
		{"declared minutes", 45, registry.UnitMinutes, 45},
		{"no unit, large value treated as seconds", 300, "", 5},
		{"no unit, small value treated as minutes", 45, "", 45},
		{"negative clamped to zero", -10, registry.UnitMinutes, 0},
		{"huge value clamped to 600", 1e6, registry.UnitMinutes, 600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeModel(t, root, "run-aaaaaaaa", tt.intercept, 6.5, tt.unit)
			svc := newService(t, root)
			if _, err := svc.Reload(); err != nil {
				t.Fatalf("Reload() error: %v", err)
			}
			p, err := svc.Predict(shortTrip())
			if err != nil {
				t.Fatalf("Predict() error: %v", err)
			}
			if math.Abs(p.PredictedDurationMinutes-tt.want) > 1e-9 {
				t.Errorf("PredictedDurationMinutes = %v, want %v", p.PredictedDurationMinutes, tt.want)
			}
			if p.PredictedDurationMinutes < 0 || p.PredictedDurationMinutes > 600 {
				t.Errorf("duration out of [0,600]: %v", p.PredictedDurationMinutes)
			}
		})
	}
}

func TestPredictValidationErrorPassthrough(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "run-aaaaaaaa", 12, 6.5, registry.UnitMinutes)
	svc := newService(t, root)
	if _, err := svc.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	req := shortTrip()
	req.PickupLatitude = 34.0522
	req.PickupLongitude = -118.2437

	_, err := svc.Predict(req)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Predict() error = %v, want ValidationError", err)
	}
	if verr.Kind != models.OutsideBoundingBox {
		t.Errorf("Kind = %v, want OutsideBoundingBox", verr.Kind)
	}
}

func TestConcurrentPredictDuringReload(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "aaaaaaaa-old", 12, 6.5, registry.UnitMinutes)

	svc := newService(t, root)
	if _, err := svc.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	oldVersion := "aaaaaaaa"
	newVersion := "bbbbbbbb"

	const n = 100
	versions := make(chan string, n)
	var wg sync.WaitGroup

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, err := svc.Predict(shortTrip())
			if err != nil {
				t.Errorf("Predict() error: %v", err)
				return
			}
			versions <- p.ModelVersion
		}()
	}

	close(start)
	// Better model shows up mid-flight.
	writeModel(t, root, "bbbbbbbb-new", 12, 4.2, registry.UnitMinutes)
	if _, err := svc.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	wg.Wait()
	close(versions)

	count := 0
	for v := range versions {
		count++
		if v != oldVersion && v != newVersion {
			t.Errorf("unexpected model version %q", v)
		}
	}
	if count != n {
		t.Errorf("got %d responses, want %d", count, n)
	}

	cur, err := svc.Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if cur.Version() != newVersion {
		t.Errorf("Current() version = %q, want %q after reload", cur.Version(), newVersion)
	}
}
