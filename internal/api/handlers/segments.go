package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jaylee/roadpulse/backend/internal/aggregator"
	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// SegmentHandler handles segment query endpoints
type SegmentHandler struct {
	cache  *segcache.Cache
	agg    *aggregator.Aggregator
	logger *logger.Logger
}

// NewSegmentHandler creates a new segment handler
func NewSegmentHandler(cache *segcache.Cache, agg *aggregator.Aggregator, log *logger.Logger) *SegmentHandler {
	return &SegmentHandler{
		cache:  cache,
		agg:    agg,
		logger: log,
	}
}

// SegmentResponse is a snapshot plus its derived color.
type SegmentResponse struct {
	contracts.SegmentSnapshot
	Color contracts.Color `json:"color"`
}

func toSegmentResponse(snap contracts.SegmentSnapshot) SegmentResponse {
	return SegmentResponse{SegmentSnapshot: snap, Color: snap.Color()}
}

// Get returns the cached snapshot for one segment.
// GET /api/v1/segments/{segment_id}
func (h *SegmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	segmentID := mux.Vars(r)["segment_id"]

	snap, found := h.cache.Get(segmentID)
	if !found {
		respondError(w, http.StatusNotFound, "Segment not found")
		return
	}

	respondJSON(w, http.StatusOK, toSegmentResponse(snap))
}

// List returns cached segments, filterable by validity and finalization.
// GET /api/v1/segments?valid_only=true&finalized_only=false
func (h *SegmentHandler) List(w http.ResponseWriter, r *http.Request) {
	validOnly := true
	if v := r.URL.Query().Get("valid_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid valid_only parameter")
			return
		}
		validOnly = parsed
	}

	finalizedOnly := false
	if v := r.URL.Query().Get("finalized_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid finalized_only parameter")
			return
		}
		finalizedOnly = parsed
	}

	snaps := h.cache.List(validOnly, finalizedOnly)
	segments := make([]SegmentResponse, 0, len(snaps))
	for _, snap := range snaps {
		segments = append(segments, toSegmentResponse(snap))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(segments),
		"segments": segments,
	})
}

// History returns the most recent buffered predictions for a segment.
// GET /api/v1/segments/{segment_id}/history?limit=10
func (h *SegmentHandler) History(w http.ResponseWriter, r *http.Request) {
	segmentID := mux.Vars(r)["segment_id"]

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	predictions, err := h.agg.RecentPredictions(segmentID, limit)
	if err != nil {
		if errors.Is(err, contracts.ErrSegmentNotFound) {
			respondError(w, http.StatusNotFound, "Segment not found")
			return
		}
		h.logger.WithError(err).WithField("segment_id", segmentID).Error("Failed to load segment history")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"segment_id":  segmentID,
		"count":       len(predictions),
		"predictions": predictions,
	})
}
