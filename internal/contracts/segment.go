package contracts

import "time"

// Color is the map rendering color derived from a comfort score.
// It is computed at read time and never stored.
type Color string

const (
	ColorGreen  Color = "green"  // score > 0.70
	ColorYellow Color = "yellow" // 0.40 <= score <= 0.70
	ColorRed    Color = "red"    // score < 0.40
)

// ColorForScore maps an aggregated comfort score to its rendering color.
func ColorForScore(score float64) Color {
	switch {
	case score > 0.70:
		return ColorGreen
	case score >= 0.40:
		return ColorYellow
	default:
		return ColorRed
	}
}

// SegmentSnapshot is the read-side view of a segment's aggregation state.
// The aggregator publishes one to the cache on every accepted submission;
// readers only ever see these, never the buffer itself.
type SegmentSnapshot struct {
	SegmentID     string    `json:"segment_id"`
	ComfortScore  float64   `json:"comfort_score"`
	AvgConfidence float64   `json:"confidence"`
	SampleCount   int       `json:"sample_count"`
	PotholeCount  int       `json:"pothole_count"`
	IsFinalized   bool      `json:"is_finalized"`
	LastUpdated   time.Time `json:"last_updated"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Color returns the rendering color for the snapshot's score.
func (s *SegmentSnapshot) Color() Color {
	return ColorForScore(s.ComfortScore)
}

// Valid reports whether the snapshot is still within its TTL.
// Expiry is strict: a snapshot is invalid only once now is past ExpiresAt.
// Get, List, and the background sweep all share this predicate.
func (s *SegmentSnapshot) Valid(now time.Time) bool {
	return !now.After(s.ExpiresAt)
}
