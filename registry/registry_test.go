package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/predictor"
)

const (
	testExperiment = "1"
	testModelName  = "models"
)

func writeArtifact(t *testing.T, root, runID string, meta Metadata, corrupt bool) {
	t.Helper()
	dir := filepath.Join(root, testExperiment, runID, "artifacts", testModelName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	blobPath := filepath.Join(dir, "predictor.json")
	if corrupt {
		if err := os.WriteFile(blobPath, []byte(`{"type":"linear","weights":[0.5,`), 0o644); err != nil {
			t.Fatal(err)
		}
	} else {
		m := &predictor.Linear{
			Weights:   []float64{2, 1, 0.5, 0.1, 0.1, 0.1, 1, 2},
			Intercept: 5,
		}
		if err := predictor.Save(blobPath, m); err != nil {
			t.Fatal(err)
		}
	}

	if err := WriteMetadata(filepath.Join(dir, "metadata.json"), meta); err != nil {
		t.Fatal(err)
	}
}

func baseMeta(rmse float64, trainedAt time.Time) Metadata {
	return Metadata{
		RMSE:         rmse,
		TrainedAt:    trainedAt,
		FeatureOrder: []string{"distance_km", "passenger_count", "vendor_id", "hour_of_day", "day_of_week", "month", "is_weekend", "is_rush_hour"},
		Unit:         UnitMinutes,
		ModelType:    "LinearRegression",
	}
}

func TestScanRanksByRMSE(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)

	writeArtifact(t, root, "run-b", baseMeta(6.85, now), false)
	writeArtifact(t, root, "run-a", baseMeta(6.62, now), false)
	writeArtifact(t, root, "run-c", baseMeta(5.10, now), true) // corrupt blob, still a valid candidate

	s := NewScanner(root, testExperiment, testModelName)
	got := s.Scan()

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.RunID
	}
	want := []string{"run-c", "run-a", "run-b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Scan() order = %v, want %v", ids, want)
	}
}

func TestScanTieBreaksByTimestampThenRunID(t *testing.T) {
	root := t.TempDir()
	older := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	writeArtifact(t, root, "run-old", baseMeta(6.0, older), false)
	writeArtifact(t, root, "run-new", baseMeta(6.0, newer), false)
	writeArtifact(t, root, "run-zz", baseMeta(6.0, newer), false)

	s := NewScanner(root, testExperiment, testModelName)
	got := s.Scan()

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.RunID
	}
	// Same rmse: newer first; same timestamp: lexicographic run id.
	want := []string{"run-new", "run-zz", "run-old"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Scan() order = %v, want %v", ids, want)
	}
}

func TestScanIdempotent(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeArtifact(t, root, "run-a", baseMeta(6.62, now), false)
	writeArtifact(t, root, "run-b", baseMeta(6.85, now), false)

	s := NewScanner(root, testExperiment, testModelName)
	first := s.Scan()
	second := s.Scan()
	if !reflect.DeepEqual(first, second) {
		t.Error("Scan() is not idempotent over an unchanged tree")
	}
}

func TestScanSkipsIncompleteRuns(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()

	writeArtifact(t, root, "run-a", baseMeta(6.62, now), false)

	// Run directory with no artifacts at all (training in flight).
	if err := os.MkdirAll(filepath.Join(root, testExperiment, "run-empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Blob present but metadata missing.
	dir := filepath.Join(root, testExperiment, "run-nometa", "artifacts", testModelName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := predictor.Save(filepath.Join(dir, "predictor.json"), &predictor.Linear{Weights: []float64{1}}); err != nil {
		t.Fatal(err)
	}
	// Stray file at the run level.
	if err := os.WriteFile(filepath.Join(root, testExperiment, "meta.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(root, testExperiment, testModelName)
	got := s.Scan()
	if len(got) != 1 || got[0].RunID != "run-a" {
		t.Errorf("Scan() = %v, want only run-a", got)
	}
}

func TestScanMissingRMSEInvalid(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testExperiment, "run-x", "artifacts", testModelName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := predictor.Save(filepath.Join(dir, "predictor.json"), &predictor.Linear{Weights: []float64{1}}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(`{"trained_at":"2024-03-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(root, testExperiment, testModelName)
	if got := s.Scan(); len(got) != 0 {
		t.Errorf("Scan() = %v, want empty for metadata without rmse", got)
	}
}

func TestScanEmptyRegistry(t *testing.T) {
	s := NewScanner(t.TempDir(), testExperiment, testModelName)
	if got := s.Scan(); len(got) != 0 {
		t.Errorf("Scan() = %v, want empty", got)
	}
	if _, err := s.SelectBest(); !errors.Is(err, ErrNoModelAvailable) {
		t.Errorf("SelectBest() error = %v, want ErrNoModelAvailable", err)
	}
}

func TestSelectBestDemotesCorruptCandidate(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()

	// C has the best rmse but a truncated blob; A beats B among the
	// candidates that actually deserialize.
	writeArtifact(t, root, "run-aaaaaaaa-1111", baseMeta(6.62, now), false)
	writeArtifact(t, root, "run-bbbbbbbb-2222", baseMeta(6.85, now), false)
	writeArtifact(t, root, "run-cccccccc-3333", baseMeta(5.10, now), true)

	s := NewScanner(root, testExperiment, testModelName)
	m, err := s.SelectBest()
	if err != nil {
		t.Fatalf("SelectBest() error: %v", err)
	}
	if m.RunID != "run-aaaaaaaa-1111" {
		t.Errorf("SelectBest() run = %s, want run-aaaaaaaa-1111", m.RunID)
	}
	if m.Version() != "run-aaaa" {
		t.Errorf("Version() = %q, want %q", m.Version(), "run-aaaa")
	}
	if m.RMSE != 6.62 {
		t.Errorf("RMSE = %v, want 6.62", m.RMSE)
	}
	if m.Predictor == nil {
		t.Error("Predictor must be non-nil")
	}
}

func TestSelectBestAllCorrupt(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()
	writeArtifact(t, root, "run-a", baseMeta(6.62, now), true)
	writeArtifact(t, root, "run-b", baseMeta(6.85, now), true)

	s := NewScanner(root, testExperiment, testModelName)
	if _, err := s.SelectBest(); !errors.Is(err, ErrNoModelAvailable) {
		t.Errorf("SelectBest() error = %v, want ErrNoModelAvailable", err)
	}
}

func TestReadMetadataUnknownUnitIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, []byte(`{"rmse": 6.1, "unit": "fortnights"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	meta, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata() error: %v", err)
	}
	if meta.Unit != "" {
		t.Errorf("Unit = %q, want empty for unknown unit", meta.Unit)
	}
}
