package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/metrics"
)

type ModelHandler struct {
	svc PredictionService
}

func NewModelHandler(svc PredictionService) *ModelHandler {
	return &ModelHandler{svc: svc}
}

// Reload re-scans the registry and swaps in the best model. A failed
// scan leaves the previously loaded model serving and returns 503.
func (h *ModelHandler) Reload(c *gin.Context) {
	m, err := h.svc.Reload()
	if err != nil {
		slog.Warn("model reload failed", logger.Err(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_model"})
		return
	}
	metrics.ModelReloads.Inc()
	metrics.ModelRMSE.Set(m.RMSE)

	c.JSON(http.StatusOK, gin.H{
		"model_version": m.Version(),
		"rmse":          m.RMSE,
		"loaded_at":     m.LoadedAt,
	})
}
