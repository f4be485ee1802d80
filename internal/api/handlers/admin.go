package handlers

import (
	"net/http"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/history"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// AdminHandler handles operational endpoints
type AdminHandler struct {
	cache  *segcache.Cache
	repo   *history.Repository // nil when the database is disabled
	logger *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(cache *segcache.Cache, repo *history.Repository, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		cache:  cache,
		repo:   repo,
		logger: log,
	}
}

// Cleanup sweeps expired entries out of the cache and, when the
// database is enabled, out of the snapshot table.
// POST /api/v1/admin/cleanup
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.Cleanup()

	resp := map[string]interface{}{
		"removed_from_cache": removed,
	}

	if h.repo != nil {
		dbRemoved, err := h.repo.DeleteExpiredSnapshots(r.Context(), time.Now())
		if err != nil {
			h.logger.WithError(err).Error("Failed to delete expired snapshot rows")
			respondError(w, http.StatusInternalServerError, "Database cleanup failed")
			return
		}
		resp["removed_from_db"] = dbRemoved
	}

	h.logger.WithField("removed", removed).Info("Manual cache cleanup")
	respondJSON(w, http.StatusOK, resp)
}

// CacheClear drops every cached segment. Aggregation buffers are kept;
// the next submission repopulates the segment's entry.
// POST /api/v1/admin/cache-clear
func (h *AdminHandler) CacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := h.cache.Len()
	h.cache.Clear()

	h.logger.WithField("cleared", cleared).Warn("Cache cleared by admin request")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": cleared,
	})
}
