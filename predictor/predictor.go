// Package predictor defines the contract between the registry and the
// serving layer: a trained model is an opaque value that maps a feature
// vector to a duration. Serialization formats are recognized by file
// extension; each format has its own codec.
package predictor

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
)

type Predictor interface {
	Predict(features []float64) (float64, error)
}

// Linear is an ordinary least squares model: intercept + weights·x.
type Linear struct {
	Weights   []float64
	Intercept float64
}

func (m *Linear) Predict(features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("feature count mismatch: model has %d weights, got %d features", len(m.Weights), len(features))
	}
	y := m.Intercept + floats.Dot(m.Weights, features)
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("model produced non-finite value")
	}
	return y, nil
}

// Extensions the loader understands, in probe order.
var Extensions = []string{".json", ".gob"}

// linearBlob is the on-disk shape shared by both codecs.
type linearBlob struct {
	Type      string    `json:"type"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

const typeLinear = "linear"

// Load deserializes a predictor blob, dispatching on the file extension.
func Load(path string) (Predictor, error) {
	switch filepath.Ext(path) {
	case ".json":
		return loadJSON(path)
	case ".gob":
		return loadGob(path)
	default:
		return nil, fmt.Errorf("unsupported predictor format %q", filepath.Ext(path))
	}
}

func loadJSON(path string) (Predictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading predictor blob: %w", err)
	}
	var blob linearBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decoding predictor blob: %w", err)
	}
	return fromBlob(blob)
}

func loadGob(path string) (Predictor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading predictor blob: %w", err)
	}
	defer f.Close()

	var blob linearBlob
	if err := gob.NewDecoder(f).Decode(&blob); err != nil {
		return nil, fmt.Errorf("decoding predictor blob: %w", err)
	}
	return fromBlob(blob)
}

func fromBlob(blob linearBlob) (Predictor, error) {
	if blob.Type != typeLinear {
		return nil, fmt.Errorf("unknown model type %q", blob.Type)
	}
	if len(blob.Weights) == 0 {
		return nil, fmt.Errorf("model has no weights")
	}
	for _, w := range blob.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("model weight is not finite")
		}
	}
	return &Linear{Weights: blob.Weights, Intercept: blob.Intercept}, nil
}

// Save writes a linear model in the format implied by the path's
// extension. Used by the training pipeline.
func Save(path string, m *Linear) error {
	blob := linearBlob{Type: typeLinear, Weights: m.Weights, Intercept: m.Intercept}

	switch filepath.Ext(path) {
	case ".json":
		data, err := json.MarshalIndent(blob, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding predictor blob: %w", err)
		}
		return os.WriteFile(path, data, 0o644)
	case ".gob":
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("writing predictor blob: %w", err)
		}
		defer f.Close()
		return gob.NewEncoder(f).Encode(blob)
	default:
		return fmt.Errorf("unsupported predictor format %q", filepath.Ext(path))
	}
}
