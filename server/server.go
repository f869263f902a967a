// Package server assembles the gin engine and runs the HTTP listener
// with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/config"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/handlers"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/middleware"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/services"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/store"
)

type Server struct {
	cfg  *config.Config
	http *http.Server
}

// Deps carries everything the routes need. TripStore and PredictionLog
// are optional; a nil value disables the corresponding endpoint or
// side channel.
type Deps struct {
	Predictions *services.PredictionService
	Cache       *services.CacheService
	Trips       *store.TripStore
	Log         *store.PredictionLog
}

func New(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SetupCORS(cfg.CORS))

	predict := handlers.NewPredictHandler(deps.Predictions, deps.Cache, deps.Log, cfg.Prediction.Timeout)
	health := handlers.NewHealthHandler(deps.Predictions)
	model := handlers.NewModelHandler(deps.Predictions)
	stats := handlers.NewStatsHandler(deps.Trips, deps.Cache)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "taxi-duration-predictor",
			"docs":    "/api/v1/health",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthDeadline := middleware.Deadline(cfg.Server.HealthTimeout)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/predict", predict.Predict)
		v1.GET("/health", healthDeadline, health.Health)
		v1.GET("/health/model", healthDeadline, health.ModelInfo)
		v1.GET("/model-info", healthDeadline, health.ModelInfo)
		v1.POST("/model/reload", model.Reload)
		v1.GET("/stats/database", stats.DatabaseStats)
	}

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("http server draining", "grace", s.cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
