package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/services"
	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/store"
)

const statsCacheKey = "stats:database"

type StatsHandler struct {
	trips *store.TripStore
	cache *services.CacheService
}

// NewStatsHandler accepts a nil TripStore; the endpoint then reports
// that no database is configured instead of failing requests.
func NewStatsHandler(trips *store.TripStore, cache *services.CacheService) *StatsHandler {
	return &StatsHandler{trips: trips, cache: cache}
}

func (h *StatsHandler) DatabaseStats(c *gin.Context) {
	if h.trips == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no database configured"})
		return
	}

	var cached store.TripStats
	if err := h.cache.Get(c.Request.Context(), statsCacheKey, &cached); err == nil && cached.TotalTrips > 0 {
		c.JSON(http.StatusOK, cached)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.trips.Stats(ctx)
	if err != nil {
		slog.Error("trip stats query failed", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	go h.cache.Set(context.Background(), statsCacheKey, stats, 30*time.Second)

	c.JSON(http.StatusOK, stats)
}
