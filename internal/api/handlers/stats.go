package handlers

import (
	"net/http"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/aggregator"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// StatsHandler exposes aggregate service metrics
type StatsHandler struct {
	agg       *aggregator.Aggregator
	startedAt time.Time
	logger    *logger.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(agg *aggregator.Aggregator, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		agg:       agg,
		startedAt: time.Now(),
		logger:    log,
	}
}

// Get returns aggregator and cache statistics.
// GET /api/v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats := h.agg.Stats()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"stats":          stats,
	})
}
