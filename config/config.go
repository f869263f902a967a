package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Registry   RegistryConfig
	Prediction PredictionConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Supervisor SupervisorConfig
	CORS       CORSConfig
	Training   TrainingConfig
	LogLevel   string
}

type ServerConfig struct {
	Port          int
	HealthTimeout time.Duration
	ShutdownGrace time.Duration
	PredictionLog string // sqlite file, empty disables prediction logging
}

type RegistryConfig struct {
	Root         string // may be relative; resolved against the project root
	ExperimentID string
	ModelName    string
}

// ResolveRoot anchors a relative registry root at the project root so the
// layout stays stable no matter where the process was launched from.
func (r RegistryConfig) ResolveRoot(projectRoot string) string {
	if strings.HasPrefix(r.Root, "/") {
		return r.Root
	}
	return projectRoot + "/" + strings.TrimPrefix(r.Root, "./")
}

type BoundingBox struct {
	LatMin, LonMin, LatMax, LonMax float64
}

func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

type PredictionConfig struct {
	Timeout     time.Duration
	BoundingBox BoundingBox
	TimeZone    *time.Location
}

type DatabaseConfig struct {
	URL string // postgres DSN, empty disables the trip store
}

func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

type RedisConfig struct {
	URL string // empty disables caching and the prediction channel
}

func (r RedisConfig) Enabled() bool { return r.URL != "" }

type SupervisorConfig struct {
	DashboardPort       int
	TrackingUIPort      int
	DashboardCmd        string
	TrackingUICmd       string
	DisableSubprocesses bool
}

type CORSConfig struct {
	AllowedOrigins string
}

type TrainingConfig struct {
	SampleSize int
}

func LoadConfig() (*Config, error) {
	apiPort, err := getIntEnv("API_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}
	dashboardPort, err := getIntEnv("DASHBOARD_PORT", 8506)
	if err != nil {
		return nil, fmt.Errorf("invalid DASHBOARD_PORT: %w", err)
	}
	trackingPort, err := getIntEnv("TRACKING_UI_PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("invalid TRACKING_UI_PORT: %w", err)
	}
	predictionTimeoutMS, err := getIntEnv("PREDICTION_TIMEOUT_MS", 2000)
	if err != nil {
		return nil, fmt.Errorf("invalid PREDICTION_TIMEOUT_MS: %w", err)
	}
	healthTimeoutMS, err := getIntEnv("HEALTH_TIMEOUT_MS", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_TIMEOUT_MS: %w", err)
	}
	shutdownGraceMS, err := getIntEnv("SHUTDOWN_GRACE_MS", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_GRACE_MS: %w", err)
	}
	sampleSize, err := getIntEnv("TRAIN_SAMPLE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAIN_SAMPLE_SIZE: %w", err)
	}

	bbox, err := parseBoundingBox(getEnv("BOUNDING_BOX", "40.5,-74.3,40.9,-73.7"))
	if err != nil {
		return nil, fmt.Errorf("invalid BOUNDING_BOX: %w", err)
	}

	tzName := getEnv("TIME_ZONE", "Local")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", tzName, err)
	}

	disableSubprocesses, err := getBoolEnv("DISABLE_SUBPROCESSES", false)
	if err != nil {
		return nil, fmt.Errorf("invalid DISABLE_SUBPROCESSES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          apiPort,
			HealthTimeout: time.Duration(healthTimeoutMS) * time.Millisecond,
			ShutdownGrace: time.Duration(shutdownGraceMS) * time.Millisecond,
			PredictionLog: getEnv("PREDICTION_LOG_PATH", "./data/predictions.db"),
		},
		Registry: RegistryConfig{
			Root:         getEnv("MODEL_REGISTRY_ROOT", "./data/mlruns"),
			ExperimentID: getEnv("EXPERIMENT_ID", "1"),
			ModelName:    getEnv("MODEL_NAME", "models"),
		},
		Prediction: PredictionConfig{
			Timeout:     time.Duration(predictionTimeoutMS) * time.Millisecond,
			BoundingBox: bbox,
			TimeZone:    loc,
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Supervisor: SupervisorConfig{
			DashboardPort:       dashboardPort,
			TrackingUIPort:      trackingPort,
			DashboardCmd:        getEnv("DASHBOARD_CMD", ""),
			TrackingUICmd:       getEnv("TRACKING_UI_CMD", ""),
			DisableSubprocesses: disableSubprocesses,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Training: TrainingConfig{
			SampleSize: sampleSize,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("API_PORT out of range: %d", cfg.Server.Port)
	}
	if cfg.Prediction.Timeout <= 0 {
		return nil, fmt.Errorf("PREDICTION_TIMEOUT_MS must be positive")
	}
	if cfg.Training.SampleSize <= 0 {
		return nil, fmt.Errorf("TRAIN_SAMPLE_SIZE must be positive")
	}

	return cfg, nil
}

// parseBoundingBox accepts "latMin,lonMin,latMax,lonMax".
func parseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("want 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, fmt.Errorf("value %d is not finite", i+1)
		}
		vals[i] = v
	}
	b := BoundingBox{LatMin: vals[0], LonMin: vals[1], LatMax: vals[2], LonMax: vals[3]}
	if b.LatMin >= b.LatMax || b.LonMin >= b.LonMax {
		return BoundingBox{}, fmt.Errorf("min bounds must be strictly below max bounds")
	}
	return b, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}
