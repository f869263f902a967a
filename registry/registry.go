// Package registry discovers trained model artifacts on disk. The
// filesystem tree is the source of truth: whatever a tracking database
// may claim, a run exists iff its artifact directory holds a readable
// predictor blob and metadata descriptor.
//
// Layout: <root>/<experiment_id>/<run_id>/artifacts/<model_name>/
// containing predictor.json or predictor.gob plus metadata.json.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/predictor"
)

var ErrNoModelAvailable = errors.New("no model available in registry")

const (
	UnitSeconds = "seconds"
	UnitMinutes = "minutes"
)

// Metadata is the descriptor written next to every predictor blob.
type Metadata struct {
	RMSE         float64   `json:"rmse"`
	TrainedAt    time.Time `json:"trained_at"`
	FeatureOrder []string  `json:"feature_order"`
	Unit         string    `json:"unit,omitempty"`
	ModelType    string    `json:"model_type,omitempty"`
	TrainSize    int       `json:"train_size,omitempty"`
}

// Candidate is one run found during a scan.
type Candidate struct {
	RunID         string
	ArtifactDir   string
	PredictorPath string
	Meta          Metadata
}

// LoadedModel is a deserialized predictor plus the artifact facts the
// serving layer reports. Never mutated after construction.
type LoadedModel struct {
	Predictor    predictor.Predictor
	RunID        string
	RMSE         float64
	ModelType    string
	Unit         string
	FeatureOrder []string
	TrainedAt    time.Time
	LoadedAt     time.Time
}

// Version is the short run id prefix exposed as model_version.
func (m *LoadedModel) Version() string {
	if len(m.RunID) <= 8 {
		return m.RunID
	}
	return m.RunID[:8]
}

type Scanner struct {
	root         string
	experimentID string
	modelName    string
}

func NewScanner(root, experimentID, modelName string) *Scanner {
	return &Scanner{root: root, experimentID: experimentID, modelName: modelName}
}

func (s *Scanner) Root() string { return s.root }

// Scan enumerates run directories one level below the experiment and
// returns the valid candidates ranked best-first: rmse ascending, then
// newer training timestamp, then run id. Incomplete or unreadable runs
// are skipped silently; half-written runs are normal while training is
// in flight.
func (s *Scanner) Scan() []Candidate {
	expDir := filepath.Join(s.root, s.experimentID)

	entries, err := os.ReadDir(expDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cannot read experiment directory", "dir", expDir, logger.Err(err))
		}
		return nil
	}

	candidates := lo.FilterMap(entries, func(e os.DirEntry, _ int) (Candidate, bool) {
		if !e.IsDir() {
			return Candidate{}, false
		}
		return s.probe(filepath.Join(expDir, e.Name()), e.Name())
	})

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Meta.RMSE != b.Meta.RMSE {
			return a.Meta.RMSE < b.Meta.RMSE
		}
		if !a.Meta.TrainedAt.Equal(b.Meta.TrainedAt) {
			return a.Meta.TrainedAt.After(b.Meta.TrainedAt)
		}
		return a.RunID < b.RunID
	})

	return candidates
}

// probe checks a single run directory for a complete artifact.
func (s *Scanner) probe(runDir, runID string) (Candidate, bool) {
	artifactDir := filepath.Join(runDir, "artifacts", s.modelName)

	var predictorPath string
	for _, ext := range predictor.Extensions {
		p := filepath.Join(artifactDir, "predictor"+ext)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			predictorPath = p
			break
		}
	}
	if predictorPath == "" {
		return Candidate{}, false
	}

	meta, err := readMetadata(filepath.Join(artifactDir, "metadata.json"))
	if err != nil {
		slog.Debug("skipping run with bad metadata", "run_id", runID, logger.Err(err))
		return Candidate{}, false
	}

	return Candidate{
		RunID:         runID,
		ArtifactDir:   artifactDir,
		PredictorPath: predictorPath,
		Meta:          meta,
	}, true
}

// SelectBest deserializes the top-ranked candidate. A blob that fails to
// load demotes its candidate and the next one is tried; only when no
// candidate loads does this return ErrNoModelAvailable.
func (s *Scanner) SelectBest() (*LoadedModel, error) {
	for _, c := range s.Scan() {
		p, err := predictor.Load(c.PredictorPath)
		if err != nil {
			slog.Warn("candidate failed to deserialize, trying next",
				"run_id", c.RunID, logger.Err(err))
			continue
		}
		return &LoadedModel{
			Predictor:    p,
			RunID:        c.RunID,
			RMSE:         c.Meta.RMSE,
			ModelType:    c.Meta.ModelType,
			Unit:         c.Meta.Unit,
			FeatureOrder: c.Meta.FeatureOrder,
			TrainedAt:    c.Meta.TrainedAt,
			LoadedAt:     time.Now().UTC(),
		}, nil
	}
	return nil, ErrNoModelAvailable
}

// metadataLayouts accepted for trained_at; training writes RFC3339 but
// hand-edited descriptors tend to drop the offset.
var metadataLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("reading metadata: %w", err)
	}

	var raw struct {
		RMSE         *float64 `json:"rmse"`
		TrainedAt    string   `json:"trained_at"`
		FeatureOrder []string `json:"feature_order"`
		Unit         string   `json:"unit"`
		ModelType    string   `json:"model_type"`
		TrainSize    int      `json:"train_size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("decoding metadata: %w", err)
	}

	if raw.RMSE == nil {
		return Metadata{}, fmt.Errorf("metadata is missing rmse")
	}
	if math.IsNaN(*raw.RMSE) || math.IsInf(*raw.RMSE, 0) {
		return Metadata{}, fmt.Errorf("metadata rmse is not finite")
	}

	var trainedAt time.Time
	if raw.TrainedAt != "" {
		for _, layout := range metadataLayouts {
			if t, err := time.Parse(layout, raw.TrainedAt); err == nil {
				trainedAt = t
				break
			}
		}
	}

	switch raw.Unit {
	case "", UnitSeconds, UnitMinutes:
	default:
		slog.Warn("metadata declares unknown unit, ignoring it", "unit", raw.Unit, "path", path)
		raw.Unit = ""
	}

	return Metadata{
		RMSE:         *raw.RMSE,
		TrainedAt:    trainedAt,
		FeatureOrder: raw.FeatureOrder,
		Unit:         raw.Unit,
		ModelType:    raw.ModelType,
		TrainSize:    raw.TrainSize,
	}, nil
}

// WriteMetadata serializes a descriptor; used by the training pipeline.
func WriteMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
