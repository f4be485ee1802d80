package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/internal/route"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// RouteHandler handles route evaluation endpoints
type RouteHandler struct {
	evaluator *route.Evaluator
	logger    *logger.Logger
}

// NewRouteHandler creates a new route handler
func NewRouteHandler(evaluator *route.Evaluator, log *logger.Logger) *RouteHandler {
	return &RouteHandler{
		evaluator: evaluator,
		logger:    log,
	}
}

// Evaluate scores a candidate route against cached comfort data.
// POST /api/v1/routes/evaluate
func (h *RouteHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req contracts.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Segments) == 0 {
		respondError(w, http.StatusBadRequest, "Route must contain at least one segment")
		return
	}

	result, err := h.evaluator.Evaluate(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}
