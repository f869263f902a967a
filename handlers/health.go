package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	svc   PredictionService
	start time.Time
}

func NewHealthHandler(svc PredictionService) *HealthHandler {
	return &HealthHandler{svc: svc, start: time.Now()}
}

// Health reports degraded (never an error status) while no model is
// loaded, so orchestrators keep routing to the process and the reload
// endpoint stays reachable.
func (h *HealthHandler) Health(c *gin.Context) {
	_, err := h.svc.Current()
	loaded := err == nil

	status := "healthy"
	if !loaded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"model_loaded":   loaded,
		"uptime_seconds": time.Since(h.start).Seconds(),
	})
}

// ModelInfo serves both /health/model and its /model-info alias.
func (h *HealthHandler) ModelInfo(c *gin.Context) {
	m, err := h.svc.Current()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_model"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model_version": m.Version(),
		"model_type":    m.ModelType,
		"rmse":          m.RMSE,
		"loaded_at":     m.LoadedAt,
		"feature_order": m.FeatureOrder,
	})
}
