// Package handlers contains the gin endpoint handlers. Each handler
// struct owns the services it needs and is constructed once at startup.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/metrics"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/models"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/registry"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/services"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/store"
)

// PredictionService is the slice of services.PredictionService the
// handlers depend on.
type PredictionService interface {
	Predict(req models.PredictionRequest) (models.Prediction, error)
	Current() (*registry.LoadedModel, error)
	Reload() (*registry.LoadedModel, error)
}

// PredictionLogger is the slice of store.PredictionLog the handler
// needs; nil disables logging.
type PredictionLogger interface {
	Record(p models.Prediction)
}

type PredictHandler struct {
	svc     PredictionService
	cache   *services.CacheService
	log     PredictionLogger
	timeout time.Duration
}

func NewPredictHandler(svc PredictionService, cache *services.CacheService, log *store.PredictionLog, timeout time.Duration) *PredictHandler {
	h := &PredictHandler{svc: svc, cache: cache, timeout: timeout}
	if log != nil {
		h.log = log
	}
	return h
}

type predictOutcome struct {
	pred models.Prediction
	err  error
}

func (h *PredictHandler) Predict(c *gin.Context) {
	start := time.Now()

	var req models.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.PredictionsFailed.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error_kind": "InvalidRequestBody",
			"message":    "request body must be a JSON prediction request",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// The predictor is CPU-bound and cannot be interrupted mid-call, so
	// the deadline is enforced around it: the request returns 504 and the
	// stray computation finishes on its own.
	done := make(chan predictOutcome, 1)
	go func() {
		pred, err := h.svc.Predict(req)
		done <- predictOutcome{pred: pred, err: err}
	}()

	select {
	case <-ctx.Done():
		metrics.PredictionsFailed.WithLabelValues("timeout").Inc()
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "prediction timed out"})
		return
	case out := <-done:
		if out.err != nil {
			h.fail(c, out.err)
			return
		}
		metrics.PredictionsServed.Inc()
		metrics.PredictionDuration.Observe(time.Since(start).Seconds())

		if h.log != nil {
			h.log.Record(out.pred)
		}
		if h.cache.Available() {
			go func(p models.Prediction) {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := h.cache.Publish(ctx, services.PredictionsChannel, p); err != nil {
					slog.Warn("cannot publish prediction", logger.Err(err))
				}
			}(out.pred)
		}

		c.JSON(http.StatusOK, out.pred)
	}
}

func (h *PredictHandler) fail(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var fault *services.PredictorFault

	switch {
	case errors.As(err, &validationErr):
		metrics.PredictionsFailed.WithLabelValues("validation").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error_kind": string(validationErr.Kind),
			"message":    validationErr.Message,
		})
	case errors.Is(err, services.ErrNotInitialized):
		metrics.PredictionsFailed.WithLabelValues("no_model").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_model"})
	case errors.As(err, &fault):
		metrics.PredictionsFailed.WithLabelValues("predictor_fault").Inc()
		slog.Error("predictor fault", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
	default:
		metrics.PredictionsFailed.WithLabelValues("internal").Inc()
		slog.Error("unexpected prediction error", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
	}
}
