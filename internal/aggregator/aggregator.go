package aggregator

import (
	"fmt"
	"sync"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// PublishHook is called after a snapshot has been published to the
// cache, with the prediction that produced it. Hooks must not block:
// the live feed and the history writer both hand off to their own
// goroutines.
type PublishHook func(contracts.Prediction, contracts.SegmentSnapshot)

// Aggregator owns one bounded buffer per road segment and turns the
// noisy per-vehicle prediction stream into stable per-segment comfort
// estimates. It is the sole writer to the segment cache.
//
// Submissions to the same segment are serialized by a per-segment lock;
// submissions to different segments never block each other. The outer
// map lock is only held for lookups and lazy creation, never across a
// buffer update.
type Aggregator struct {
	mu       sync.RWMutex
	segments map[string]*segmentState

	bufferSize int
	cache      *segcache.Cache
	logger     *logger.Logger
	hooks      []PublishHook
}

type segmentState struct {
	mu     sync.Mutex
	buffer *SegmentBuffer
}

// New creates an aggregator publishing into the given cache.
func New(bufferSize int, cache *segcache.Cache, log *logger.Logger) *Aggregator {
	return &Aggregator{
		segments:   make(map[string]*segmentState),
		bufferSize: bufferSize,
		cache:      cache,
		logger:     log,
	}
}

// OnPublish registers a hook invoked after every successful publish.
// Must be called during wiring, before submissions start.
func (a *Aggregator) OnPublish(hook PublishHook) {
	a.hooks = append(a.hooks, hook)
}

// Submit validates and ingests one prediction, returning the snapshot
// that was published to the cache. Invalid predictions are rejected
// atomically: no segment state is created or mutated.
func (a *Aggregator) Submit(p contracts.Prediction) (contracts.SegmentSnapshot, error) {
	if err := p.Validate(); err != nil {
		return contracts.SegmentSnapshot{}, err
	}

	state := a.segment(p.SegmentID)

	// Per-segment critical section: buffer update and cache publish
	// happen under the same lock, so the published entry always
	// reflects exactly the buffer contents of this submission.
	state.mu.Lock()
	wasFinalized := state.buffer.IsFinalized()
	state.buffer.Add(p)
	snap := a.cache.Put(state.buffer.Snapshot())
	state.mu.Unlock()

	if snap.IsFinalized && !wasFinalized {
		a.logger.WithFields(map[string]interface{}{
			"segment_id":   snap.SegmentID,
			"sample_count": snap.SampleCount,
			"score":        snap.ComfortScore,
		}).Info("Segment finalized")
	}

	for _, hook := range a.hooks {
		hook(p, snap)
	}

	return snap, nil
}

// segment returns the state for a segment, creating it lazily.
// Segment IDs are not validated for existence; first submission wins.
func (a *Aggregator) segment(segmentID string) *segmentState {
	a.mu.RLock()
	state, ok := a.segments[segmentID]
	a.mu.RUnlock()
	if ok {
		return state
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check: another submitter may have created it
	if state, ok := a.segments[segmentID]; ok {
		return state
	}

	state = &segmentState{buffer: NewSegmentBuffer(segmentID, a.bufferSize)}
	a.segments[segmentID] = state

	return state
}

// RecentPredictions returns up to limit of the most recent buffered
// predictions for a segment, newest first.
func (a *Aggregator) RecentPredictions(segmentID string, limit int) ([]contracts.Prediction, error) {
	a.mu.RLock()
	state, ok := a.segments[segmentID]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrSegmentNotFound, segmentID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	return state.buffer.Recent(limit), nil
}

// SegmentCount returns the number of segments tracked in memory.
func (a *Aggregator) SegmentCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.segments)
}

// Stats summarizes the aggregation state: buffers tracked in memory
// combined with the validity view of the cache.
func (a *Aggregator) Stats() Stats {
	cacheStats := a.cache.Stats()

	stats := Stats{
		TotalSegments:     a.SegmentCount(),
		ValidSegments:     cacheStats.ValidCount,
		FinalizedSegments: cacheStats.FinalizedCount,
	}

	valid := a.cache.List(true, false)
	if len(valid) == 0 {
		return stats
	}

	var sampleSum, comfortSum float64
	for _, snap := range valid {
		sampleSum += float64(snap.SampleCount)
		comfortSum += snap.ComfortScore
	}

	stats.AvgSamplesPerSegment = sampleSum / float64(len(valid))
	stats.AvgComfortScore = comfortSum / float64(len(valid))
	stats.FinalizationRate = float64(cacheStats.FinalizedCount) / float64(len(valid))

	return stats
}

// Stats summarizes aggregation service state.
type Stats struct {
	TotalSegments        int     `json:"total_segments"`
	ValidSegments        int     `json:"valid_segments"`
	FinalizedSegments    int     `json:"finalized_segments"`
	AvgSamplesPerSegment float64 `json:"avg_samples_per_segment"`
	AvgComfortScore      float64 `json:"avg_comfort_score"`
	FinalizationRate     float64 `json:"finalization_rate"`
}
