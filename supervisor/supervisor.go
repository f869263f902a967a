// Package supervisor is the process entry point behind the serve
// command: it loads (or bootstraps) a model, starts the HTTP server,
// and keeps the auxiliary dashboard and tracking UI processes alive.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/config"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/features"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/metrics"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/registry"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/server"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/services"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/store"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/training"
)

// ErrConfiguration marks startup failures caused by the environment,
// not the code: bad variables, unreachable registry root. The CLI maps
// it to a distinct exit code.
var ErrConfiguration = errors.New("configuration error")

type Supervisor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Run executes the startup sequence and blocks until ctx is cancelled.
// The HTTP socket is not opened until a model is loaded: a process that
// accepts predict traffic can always answer it.
func (s *Supervisor) Run(ctx context.Context) error {
	root, err := projectRoot()
	if err != nil {
		return fmt.Errorf("%w: resolving project root: %v", ErrConfiguration, err)
	}
	registryRoot := s.cfg.Registry.ResolveRoot(root)
	if err := os.MkdirAll(registryRoot, 0o755); err != nil {
		return fmt.Errorf("%w: registry root %s unreachable: %v", ErrConfiguration, registryRoot, err)
	}

	scanner := registry.NewScanner(registryRoot, s.cfg.Registry.ExperimentID, s.cfg.Registry.ModelName)
	builder := features.NewBuilder(s.cfg.Prediction.BoundingBox, s.cfg.Prediction.TimeZone)
	predictions := services.NewPredictionService(scanner, builder)

	m, err := predictions.Reload()
	if errors.Is(err, registry.ErrNoModelAvailable) {
		slog.Info("registry is empty, bootstrapping a model", "root", registryRoot)
		if err := s.bootstrap(ctx, registryRoot); err != nil {
			return fmt.Errorf("bootstrap training: %w", err)
		}
		m, err = predictions.Reload()
	}
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	metrics.ModelRMSE.Set(m.RMSE)

	cache, err := services.NewCacheService(s.cfg.Redis.URL)
	if err != nil {
		slog.Warn("redis unavailable, caching and pub/sub disabled", logger.Err(err))
		cache, _ = services.NewCacheService("")
	}
	defer cache.Close()

	var trips *store.TripStore
	if s.cfg.Database.Enabled() {
		trips, err = store.NewTripStore(s.cfg.Database.URL)
		if err != nil {
			slog.Warn("trip database unavailable, stats endpoint degraded", logger.Err(err))
			trips = nil
		} else {
			defer trips.Close()
		}
	}

	var predLog *store.PredictionLog
	if s.cfg.Server.PredictionLog != "" {
		predLog, err = store.NewPredictionLog(resolvePath(root, s.cfg.Server.PredictionLog))
		if err != nil {
			slog.Warn("prediction log unavailable", logger.Err(err))
			predLog = nil
		}
	}

	var wg sync.WaitGroup
	for _, child := range s.children() {
		wg.Add(1)
		go func(c *Child) {
			defer wg.Done()
			c.Run(ctx)
		}(child)
	}

	srv := server.New(s.cfg, server.Deps{
		Predictions: predictions,
		Cache:       cache,
		Trips:       trips,
		Log:         predLog,
	})

	var result *multierror.Error
	if err := srv.Run(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	wg.Wait()
	if predLog != nil {
		if err := predLog.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing prediction log: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// bootstrap trains a first model so an empty install can serve. It
// prefers real historical trips and falls back to the synthetic
// generator when no database is reachable.
func (s *Supervisor) bootstrap(ctx context.Context, registryRoot string) error {
	var source training.Source
	if s.cfg.Database.Enabled() {
		pg, err := training.NewPostgresSource(ctx, s.cfg.Database.URL)
		if err != nil {
			slog.Warn("trip database unreachable, training on synthetic trips", logger.Err(err))
		} else {
			defer pg.Close()
			source = pg
		}
	}
	if source == nil {
		source = training.NewSyntheticSource()
	}

	trainer := training.NewTrainer(registryRoot, s.cfg.Registry.ExperimentID, s.cfg.Registry.ModelName, source)
	res, err := trainer.Run(ctx, s.cfg.Training.SampleSize)
	if err != nil {
		return err
	}
	slog.Info("bootstrap model trained",
		"run_id", res.RunID, "rmse", res.RMSE, "train_size", res.TrainSize)
	return nil
}

func (s *Supervisor) children() []*Child {
	if s.cfg.Supervisor.DisableSubprocesses {
		return nil
	}
	var children []*Child
	if cmd := s.cfg.Supervisor.DashboardCmd; cmd != "" {
		children = append(children, NewChild("dashboard", cmd,
			[]string{fmt.Sprintf("PORT=%d", s.cfg.Supervisor.DashboardPort)}))
	}
	if cmd := s.cfg.Supervisor.TrackingUICmd; cmd != "" {
		children = append(children, NewChild("tracking-ui", cmd,
			[]string{fmt.Sprintf("PORT=%d", s.cfg.Supervisor.TrackingUIPort)}))
	}
	return children
}

// projectRoot is the executable's directory, so relative data paths
// stay stable no matter the caller's working directory. go-run builds
// land in a temp dir; fall back to the working directory there.
func projectRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "bin" {
		dir = filepath.Dir(dir)
	}
	if strings.HasPrefix(dir, os.TempDir()) {
		return os.Getwd()
	}
	return dir, nil
}

func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
