package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/config"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/registry"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/supervisor"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/training"
)

const (
	exitOK      = 0
	exitError   = 1
	exitConfig  = 2
	exitNoModel = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	logger.Setup(os.Stderr, logger.ParseLevel(cfg.LogLevel))

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, cfg)
	case "train":
		return train(ctx, cfg)
	case "scan":
		return scan(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, train or scan)\n", cmd)
		return exitError
	}
}

func serve(ctx context.Context, cfg *config.Config) int {
	err := supervisor.New(cfg).Run(ctx)
	switch {
	case err == nil:
		slog.Info("shutdown complete")
		return exitOK
	case errors.Is(err, supervisor.ErrConfiguration):
		slog.Error("startup failed", logger.Err(err))
		return exitConfig
	case errors.Is(err, registry.ErrNoModelAvailable):
		slog.Error("no model could be loaded", logger.Err(err))
		return exitNoModel
	default:
		slog.Error("server failed", logger.Err(err))
		return exitError
	}
}

func train(ctx context.Context, cfg *config.Config) int {
	root, err := os.Getwd()
	if err != nil {
		slog.Error("cannot resolve working directory", logger.Err(err))
		return exitError
	}
	registryRoot := cfg.Registry.ResolveRoot(root)

	var source training.Source
	if cfg.Database.Enabled() {
		pg, err := training.NewPostgresSource(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("trip database unreachable", logger.Err(err))
			return exitError
		}
		defer pg.Close()
		source = pg
	} else {
		source = training.NewSyntheticSource()
	}

	trainer := training.NewTrainer(registryRoot, cfg.Registry.ExperimentID, cfg.Registry.ModelName, source)
	res, err := trainer.Run(ctx, cfg.Training.SampleSize)
	if err != nil {
		slog.Error("training failed", logger.Err(err))
		return exitError
	}
	fmt.Printf("trained run %s rmse=%.3f train_size=%d\n", res.RunID, res.RMSE, res.TrainSize)
	return exitOK
}

// scan prints the registry's candidates best-first and reports through
// the exit code whether anything is servable.
func scan(cfg *config.Config) int {
	root, err := os.Getwd()
	if err != nil {
		slog.Error("cannot resolve working directory", logger.Err(err))
		return exitError
	}
	scanner := registry.NewScanner(cfg.Registry.ResolveRoot(root), cfg.Registry.ExperimentID, cfg.Registry.ModelName)

	for _, c := range scanner.Scan() {
		fmt.Printf("%s  rmse=%.3f  trained_at=%s  %s\n",
			c.RunID, c.Meta.RMSE, c.Meta.TrainedAt.Format(time.RFC3339), c.PredictorPath)
	}

	best, err := scanner.SelectBest()
	if err != nil {
		if errors.Is(err, registry.ErrNoModelAvailable) {
			fmt.Fprintln(os.Stderr, "no servable model in the registry")
			return exitNoModel
		}
		slog.Error("selecting best model failed", logger.Err(err))
		return exitError
	}
	fmt.Printf("best: %s (version %s)\n", best.RunID, best.Version())
	return exitOK
}
