package aggregator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{
		Env:       "development",
		LogLevel:  "error",
		LogFormat: "json",
	})
}

func newTestAggregator(t *testing.T) (*Aggregator, *segcache.Cache) {
	t.Helper()
	log := testLogger()
	cache := segcache.New(30*24*time.Hour, log)
	return New(10, cache, log), cache
}

func submission(segment, vehicle string, score, confidence float64) contracts.Prediction {
	return contracts.Prediction{
		SegmentID:    segment,
		VehicleID:    vehicle,
		ComfortScore: score,
		Confidence:   confidence,
		Timestamp:    time.Now(),
	}
}

func TestAggregator_SubmitPublishesToCache(t *testing.T) {
	agg, cache := newTestAggregator(t)

	snap, err := agg.Submit(submission("seg_001", "veh_1", 0.8, 0.9))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if snap.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", snap.SampleCount)
	}
	if snap.IsFinalized {
		t.Error("single sample should not be finalized")
	}
	if snap.ExpiresAt.IsZero() {
		t.Error("published snapshot should carry an expiry")
	}

	cached, found := cache.Get("seg_001")
	if !found {
		t.Fatal("snapshot should be in the cache")
	}
	if cached.ComfortScore != snap.ComfortScore {
		t.Errorf("cache score = %v, want %v", cached.ComfortScore, snap.ComfortScore)
	}
}

func TestAggregator_InvalidPredictionRejectedAtomically(t *testing.T) {
	agg, cache := newTestAggregator(t)

	_, err := agg.Submit(submission("seg_001", "veh_1", 1.2, 0.9))
	if !errors.Is(err, contracts.ErrInvalidPrediction) {
		t.Fatalf("Submit() error = %v, want ErrInvalidPrediction", err)
	}

	// No state may be created by a rejected submission
	if agg.SegmentCount() != 0 {
		t.Error("rejected submission must not create segment state")
	}
	if _, found := cache.Get("seg_001"); found {
		t.Error("rejected submission must not publish to the cache")
	}

	// Existing state must be untouched by a later invalid submission
	if _, err := agg.Submit(submission("seg_001", "veh_1", 0.6, 0.5)); err != nil {
		t.Fatalf("valid Submit() error = %v", err)
	}
	_, err = agg.Submit(submission("seg_001", "veh_2", 0.6, -0.5))
	if !errors.Is(err, contracts.ErrInvalidPrediction) {
		t.Fatalf("Submit() error = %v, want ErrInvalidPrediction", err)
	}

	cached, _ := cache.Get("seg_001")
	if cached.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1 (invalid submission must not mutate)", cached.SampleCount)
	}
}

func TestAggregator_EndToEndScenario(t *testing.T) {
	agg, _ := newTestAggregator(t)

	scores := []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.1, 0.1, 0.1, 0.1}

	var snap contracts.SegmentSnapshot
	var err error
	for i, score := range scores {
		snap, err = agg.Submit(submission("seg_X", fmt.Sprintf("veh_%d", i), score, 1.0))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if math.Abs(snap.ComfortScore-0.5) > 1e-9 {
		t.Errorf("aggregated score = %v, want 0.5", snap.ComfortScore)
	}
	if !snap.IsFinalized {
		t.Error("segment should be finalized after 10 submissions")
	}
	if got := snap.Color(); got != contracts.ColorYellow {
		t.Errorf("Color() = %v, want yellow", got)
	}
}

func TestAggregator_FinalizationAtTenth(t *testing.T) {
	agg, _ := newTestAggregator(t)

	for i := 0; i < 15; i++ {
		snap, err := agg.Submit(submission("seg_001", fmt.Sprintf("veh_%d", i), 0.5, 1.0))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		wantFinalized := i >= 9
		if snap.IsFinalized != wantFinalized {
			t.Errorf("submission %d: IsFinalized = %v, want %v", i+1, snap.IsFinalized, wantFinalized)
		}
	}
}

func TestAggregator_RecentPredictions(t *testing.T) {
	agg, _ := newTestAggregator(t)

	for i := 0; i < 5; i++ {
		if _, err := agg.Submit(submission("seg_001", fmt.Sprintf("veh_%d", i), 0.5, 1.0)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	recent, err := agg.RecentPredictions("seg_001", 3)
	if err != nil {
		t.Fatalf("RecentPredictions() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d predictions, want 3", len(recent))
	}
	if recent[0].VehicleID != "veh_4" {
		t.Errorf("most recent prediction = %s, want veh_4", recent[0].VehicleID)
	}

	_, err = agg.RecentPredictions("seg_unknown", 3)
	if !errors.Is(err, contracts.ErrSegmentNotFound) {
		t.Errorf("error = %v, want ErrSegmentNotFound", err)
	}
}

func TestAggregator_PublishHook(t *testing.T) {
	agg, _ := newTestAggregator(t)

	var mu sync.Mutex
	var published []contracts.SegmentSnapshot
	var sources []string
	agg.OnPublish(func(p contracts.Prediction, snap contracts.SegmentSnapshot) {
		mu.Lock()
		published = append(published, snap)
		sources = append(sources, p.VehicleID)
		mu.Unlock()
	})

	if _, err := agg.Submit(submission("seg_001", "veh_1", 0.8, 0.9)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := agg.Submit(submission("seg_001", "veh_2", 1.3, 0.9)); err == nil {
		t.Fatal("expected rejection")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 {
		t.Fatalf("hook fired %d times, want 1 (rejections must not publish)", len(published))
	}
	if published[0].SegmentID != "seg_001" {
		t.Errorf("published segment = %s, want seg_001", published[0].SegmentID)
	}
	if sources[0] != "veh_1" {
		t.Errorf("published source = %s, want veh_1", sources[0])
	}
}

func TestAggregator_ConcurrentSameSegment(t *testing.T) {
	agg, cache := newTestAggregator(t)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := agg.Submit(submission("seg_hot", fmt.Sprintf("veh_%d_%d", w, i), 0.6, 1.0))
				if err != nil {
					t.Errorf("Submit() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// All submissions were serialized; the buffer holds exactly N samples
	snap, found := cache.Get("seg_hot")
	if !found {
		t.Fatal("segment should be cached")
	}
	if snap.SampleCount != 10 {
		t.Errorf("SampleCount = %d, want 10", snap.SampleCount)
	}
	if !snap.IsFinalized {
		t.Error("segment should be finalized")
	}
	if math.Abs(snap.ComfortScore-0.6) > 1e-9 {
		t.Errorf("score = %v, want 0.6", snap.ComfortScore)
	}
}

func TestAggregator_SegmentIsolation(t *testing.T) {
	agg, cache := newTestAggregator(t)

	const segments = 16
	const perSegment = 100

	var wg sync.WaitGroup
	for s := 0; s < segments; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("seg_%03d", s)
			for i := 0; i < perSegment; i++ {
				_, err := agg.Submit(submission(id, fmt.Sprintf("veh_%d", i), float64(s)/segments, 1.0))
				if err != nil {
					t.Errorf("Submit() error = %v", err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	if agg.SegmentCount() != segments {
		t.Fatalf("SegmentCount = %d, want %d", agg.SegmentCount(), segments)
	}

	// Each segment's score reflects only its own stream
	for s := 0; s < segments; s++ {
		snap, found := cache.Get(fmt.Sprintf("seg_%03d", s))
		if !found {
			t.Fatalf("segment %d missing from cache", s)
		}
		want := float64(s) / segments
		if math.Abs(snap.ComfortScore-want) > 1e-9 {
			t.Errorf("segment %d score = %v, want %v", s, snap.ComfortScore, want)
		}
	}
}

func TestAggregator_Stats(t *testing.T) {
	agg, _ := newTestAggregator(t)

	// One finalized segment, one partial
	for i := 0; i < 10; i++ {
		if _, err := agg.Submit(submission("seg_full", fmt.Sprintf("veh_%d", i), 0.8, 1.0)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := agg.Submit(submission("seg_partial", fmt.Sprintf("veh_%d", i), 0.4, 1.0)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	stats := agg.Stats()
	if stats.TotalSegments != 2 {
		t.Errorf("TotalSegments = %d, want 2", stats.TotalSegments)
	}
	if stats.ValidSegments != 2 {
		t.Errorf("ValidSegments = %d, want 2", stats.ValidSegments)
	}
	if stats.FinalizedSegments != 1 {
		t.Errorf("FinalizedSegments = %d, want 1", stats.FinalizedSegments)
	}
	if math.Abs(stats.AvgSamplesPerSegment-7) > 1e-9 {
		t.Errorf("AvgSamplesPerSegment = %v, want 7", stats.AvgSamplesPerSegment)
	}
	if math.Abs(stats.AvgComfortScore-0.6) > 1e-9 {
		t.Errorf("AvgComfortScore = %v, want 0.6", stats.AvgComfortScore)
	}
	if math.Abs(stats.FinalizationRate-0.5) > 1e-9 {
		t.Errorf("FinalizationRate = %v, want 0.5", stats.FinalizationRate)
	}
}
