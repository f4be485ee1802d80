package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced at the API boundary.
var (
	// ErrInvalidPrediction marks a caller error: a prediction whose
	// comfort score or confidence falls outside [0, 1]. The prediction
	// is rejected before any state is touched.
	ErrInvalidPrediction = errors.New("invalid prediction")

	// ErrSegmentNotFound marks a query for a segment that was never
	// submitted or whose cache entry has expired.
	ErrSegmentNotFound = errors.New("segment not found")
)

// Prediction is a single per-vehicle road comfort prediction, keyed by
// the map-matched segment it was produced on. It is immutable once
// submitted; validation happens exactly once at the boundary.
type Prediction struct {
	SegmentID       string    `json:"segment_id"`
	VehicleID       string    `json:"vehicle_id"`
	ComfortScore    float64   `json:"comfort_score"`    // [0, 1]
	Confidence      float64   `json:"confidence"`       // [0, 1], aggregation weight
	PotholeDetected bool      `json:"pothole_detected"` // reported alongside, never merged into the score
	Speed           float64   `json:"speed,omitempty"`  // m/s, context only
	Heading         float64   `json:"heading,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Validate checks the prediction's domain constraints.
// A nil return guarantees the prediction is safe to aggregate.
func (p *Prediction) Validate() error {
	if p.SegmentID == "" {
		return fmt.Errorf("%w: segment_id is required", ErrInvalidPrediction)
	}

	if p.ComfortScore < 0 || p.ComfortScore > 1 {
		return fmt.Errorf("%w: comfort_score %g outside [0, 1]", ErrInvalidPrediction, p.ComfortScore)
	}

	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %g outside [0, 1]", ErrInvalidPrediction, p.Confidence)
	}

	return nil
}
