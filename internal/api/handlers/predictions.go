package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/aggregator"
	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// PredictionHandler handles prediction ingest endpoints
type PredictionHandler struct {
	agg      *aggregator.Aggregator
	maxBatch int
	logger   *logger.Logger
}

// NewPredictionHandler creates a new prediction handler
func NewPredictionHandler(agg *aggregator.Aggregator, maxBatch int, log *logger.Logger) *PredictionHandler {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &PredictionHandler{
		agg:      agg,
		maxBatch: maxBatch,
		logger:   log,
	}
}

// PredictionRequest is a single submitted prediction. Timestamp is
// optional; the server clock is used when absent.
type PredictionRequest struct {
	SegmentID       string     `json:"segment_id"`
	VehicleID       string     `json:"vehicle_id"`
	ComfortScore    float64    `json:"comfort_score"`
	Confidence      float64    `json:"confidence"`
	PotholeDetected bool       `json:"pothole_detected"`
	Speed           float64    `json:"speed,omitempty"`
	Heading         float64    `json:"heading,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
}

// IngestRequest accepts either a single prediction or a batch.
type IngestRequest struct {
	Predictions []PredictionRequest `json:"predictions"`
}

// IngestResult reports the outcome for one submitted prediction.
type IngestResult struct {
	SegmentID       string  `json:"segment_id"`
	Accepted        bool    `json:"accepted"`
	Error           string  `json:"error,omitempty"`
	AggregatedScore float64 `json:"aggregated_score,omitempty"`
	SampleCount     int     `json:"sample_count,omitempty"`
	IsFinalized     bool    `json:"is_finalized,omitempty"`
}

// IngestResponse summarizes a batch submission.
type IngestResponse struct {
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Results  []IngestResult `json:"results"`
}

func (p PredictionRequest) toPrediction(now time.Time) contracts.Prediction {
	ts := now
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	return contracts.Prediction{
		SegmentID:       p.SegmentID,
		VehicleID:       p.VehicleID,
		ComfortScore:    p.ComfortScore,
		Confidence:      p.Confidence,
		PotholeDetected: p.PotholeDetected,
		Speed:           p.Speed,
		Heading:         p.Heading,
		Timestamp:       ts,
	}
}

// Ingest accepts one prediction or a batch. Each item succeeds or fails
// independently; a rejected item never blocks the rest of the batch.
// POST /api/v1/predictions
func (h *PredictionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body := json.NewDecoder(r.Body)

	// Try batch form first, then fall back to a bare prediction object
	var raw json.RawMessage
	if err := body.Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var batch IngestRequest
	var items []PredictionRequest
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch.Predictions) > 0 {
		items = batch.Predictions
	} else {
		var single PredictionRequest
		if err := json.Unmarshal(raw, &single); err != nil || single.SegmentID == "" {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		items = []PredictionRequest{single}
	}

	if len(items) > h.maxBatch {
		respondError(w, http.StatusRequestEntityTooLarge, "Batch too large")
		return
	}

	now := time.Now()
	resp := IngestResponse{Results: make([]IngestResult, 0, len(items))}

	for _, item := range items {
		result := IngestResult{SegmentID: item.SegmentID}

		snap, err := h.agg.Submit(item.toPrediction(now))
		if err != nil {
			result.Error = err.Error()
			resp.Rejected++
			if !errors.Is(err, contracts.ErrInvalidPrediction) {
				h.logger.WithError(err).WithField("segment_id", item.SegmentID).Error("Prediction ingest failed")
			}
		} else {
			result.Accepted = true
			result.AggregatedScore = snap.ComfortScore
			result.SampleCount = snap.SampleCount
			result.IsFinalized = snap.IsFinalized
			resp.Accepted++
		}

		resp.Results = append(resp.Results, result)
	}

	status := http.StatusOK
	if resp.Accepted == 0 && resp.Rejected > 0 {
		status = http.StatusUnprocessableEntity
	}

	respondJSON(w, status, resp)
}
