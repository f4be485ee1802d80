package aggregator

import (
	"time"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
)

// SegmentBuffer holds the most recent predictions for one road segment.
// It is a bounded FIFO: once at capacity, a new sample always displaces
// the oldest one, regardless of relative confidence. Insertion order is
// the buffer order, even under identical timestamps.
//
// The buffer is not safe for concurrent use; the aggregator serializes
// access per segment.
type SegmentBuffer struct {
	segmentID string
	capacity  int
	samples   []contracts.Prediction

	aggregatedScore float64
	finalized       bool
	lastUpdated     time.Time
}

// NewSegmentBuffer creates an empty buffer for a segment.
func NewSegmentBuffer(segmentID string, capacity int) *SegmentBuffer {
	return &SegmentBuffer{
		segmentID: segmentID,
		capacity:  capacity,
		samples:   make([]contracts.Prediction, 0, capacity),
	}
}

// Add appends a prediction, evicting the oldest sample if the buffer is
// full, and recomputes the aggregated score over the samples present.
func (b *SegmentBuffer) Add(p contracts.Prediction) {
	b.samples = append(b.samples, p)
	if len(b.samples) > b.capacity {
		// Strict FIFO eviction, confidence-blind. Shift in place so the
		// backing array stays at capacity.
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:b.capacity]
	}

	b.lastUpdated = time.Now()
	if p.Timestamp.After(b.lastUpdated) {
		// Producers may timestamp slightly ahead; keep the max
		b.lastUpdated = p.Timestamp
	}

	// Finalization is monotonic: once the buffer has filled, later
	// evict-and-append cycles keep the count pinned at capacity.
	if len(b.samples) == b.capacity {
		b.finalized = true
	}

	b.recompute()
}

// recompute updates the aggregated score as the confidence-weighted mean
// of the current samples. When every confidence is zero the weighted
// form would divide by zero, so it falls back to the unweighted mean.
func (b *SegmentBuffer) recompute() {
	if len(b.samples) == 0 {
		b.aggregatedScore = 0
		return
	}

	var weightedSum, weightSum float64
	for _, s := range b.samples {
		weightedSum += s.ComfortScore * s.Confidence
		weightSum += s.Confidence
	}

	if weightSum == 0 {
		// Degenerate weights: unweighted arithmetic mean
		var sum float64
		for _, s := range b.samples {
			sum += s.ComfortScore
		}
		b.aggregatedScore = sum / float64(len(b.samples))
		return
	}

	b.aggregatedScore = weightedSum / weightSum
}

// SampleCount returns the number of samples currently buffered.
func (b *SegmentBuffer) SampleCount() int {
	return len(b.samples)
}

// Score returns the current aggregated comfort score.
func (b *SegmentBuffer) Score() float64 {
	return b.aggregatedScore
}

// IsFinalized reports whether the buffer has ever reached capacity.
func (b *SegmentBuffer) IsFinalized() bool {
	return b.finalized
}

// Samples returns a copy of the buffered predictions, oldest first.
func (b *SegmentBuffer) Samples() []contracts.Prediction {
	out := make([]contracts.Prediction, len(b.samples))
	copy(out, b.samples)
	return out
}

// Recent returns up to limit of the most recent predictions, newest first.
func (b *SegmentBuffer) Recent(limit int) []contracts.Prediction {
	n := len(b.samples)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]contracts.Prediction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, b.samples[i])
	}
	return out
}

// AverageConfidence returns the mean confidence of the buffered samples.
func (b *SegmentBuffer) AverageConfidence() float64 {
	if len(b.samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range b.samples {
		sum += s.Confidence
	}
	return sum / float64(len(b.samples))
}

// PotholeCount returns how many buffered samples flagged a pothole.
// The flag is reported alongside the score, never folded into it.
func (b *SegmentBuffer) PotholeCount() int {
	count := 0
	for _, s := range b.samples {
		if s.PotholeDetected {
			count++
		}
	}
	return count
}

// Snapshot builds the read-side view of the buffer. ExpiresAt is left
// zero; the cache stamps it on Put.
func (b *SegmentBuffer) Snapshot() contracts.SegmentSnapshot {
	return contracts.SegmentSnapshot{
		SegmentID:     b.segmentID,
		ComfortScore:  b.aggregatedScore,
		AvgConfidence: b.AverageConfidence(),
		SampleCount:   len(b.samples),
		PotholeCount:  b.PotholeCount(),
		IsFinalized:   b.finalized,
		LastUpdated:   b.lastUpdated,
	}
}
