package segcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
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

// fakeClock lets tests move the cache's notion of now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, clock *fakeClock) *Cache {
	c := New(ttl, testLogger())
	if clock != nil {
		c.now = clock.Now
	}
	return c
}

func snap(id string, score float64, finalized bool) contracts.SegmentSnapshot {
	return contracts.SegmentSnapshot{
		SegmentID:    id,
		ComfortScore: score,
		SampleCount:  5,
		IsFinalized:  finalized,
	}
}

func TestCache_PutGet(t *testing.T) {
	c := newTestCache(30*24*time.Hour, nil)

	stored := c.Put(snap("seg_001", 0.8, false))
	if stored.ExpiresAt.IsZero() {
		t.Fatal("Put should set ExpiresAt")
	}

	got, found := c.Get("seg_001")
	if !found {
		t.Fatal("expected segment to be found")
	}
	if got.ComfortScore != 0.8 {
		t.Errorf("ComfortScore = %v, want 0.8", got.ComfortScore)
	}

	if _, found := c.Get("seg_missing"); found {
		t.Error("expected missing segment to be not found")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	ttl := 30 * 24 * time.Hour
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestCache(ttl, clock)

	c.Put(snap("seg_001", 0.8, true))

	// Retrievable one day before expiry
	clock.Advance(29 * 24 * time.Hour)
	if _, found := c.Get("seg_001"); !found {
		t.Error("entry should be retrievable at T+29d")
	}

	// Gone one day after expiry
	clock.Advance(2 * 24 * time.Hour)
	if _, found := c.Get("seg_001"); found {
		t.Error("entry should be expired at T+31d")
	}

	// Lazy expiration removed the entry
	if c.Len() != 0 {
		t.Errorf("lazy expiration should remove the entry, Len = %d", c.Len())
	}
}

func TestCache_PutRefreshesTTL(t *testing.T) {
	ttl := 30 * 24 * time.Hour
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestCache(ttl, clock)

	c.Put(snap("seg_001", 0.8, false))

	// Rewrite at T+20d: expiry moves to T+50d
	clock.Advance(20 * 24 * time.Hour)
	c.Put(snap("seg_001", 0.7, false))

	clock.Advance(25 * 24 * time.Hour) // T+45d, past the original expiry
	if _, found := c.Get("seg_001"); !found {
		t.Error("refreshed entry should still be valid at T+45d")
	}
}

func TestCache_RestoreKeepsOriginalExpiry(t *testing.T) {
	ttl := 30 * 24 * time.Hour
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	c := newTestCache(ttl, clock)

	restored := c.Restore([]contracts.SegmentSnapshot{
		{SegmentID: "seg_live", ComfortScore: 0.7, ExpiresAt: start.Add(5 * 24 * time.Hour)},
		{SegmentID: "seg_dead", ComfortScore: 0.2, ExpiresAt: start.Add(-time.Hour)},
	})
	if restored != 1 {
		t.Fatalf("Restore() = %d, want 1", restored)
	}

	if _, found := c.Get("seg_dead"); found {
		t.Error("expired snapshot must not be restored")
	}

	// The restored entry keeps its stored expiry, not now+ttl
	clock.Advance(6 * 24 * time.Hour)
	if _, found := c.Get("seg_live"); found {
		t.Error("restored entry should expire at its persisted ExpiresAt")
	}
}

func TestCache_Cleanup(t *testing.T) {
	ttl := 30 * 24 * time.Hour
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestCache(ttl, clock)

	c.Put(snap("seg_old", 0.3, false))

	clock.Advance(15 * 24 * time.Hour)
	c.Put(snap("seg_new", 0.9, false))

	clock.Advance(16 * 24 * time.Hour) // seg_old is 31d old, seg_new 16d

	removed := c.Cleanup()
	if removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}

	if _, found := c.Get("seg_old"); found {
		t.Error("seg_old should be removed")
	}
	if _, found := c.Get("seg_new"); !found {
		t.Error("seg_new should survive cleanup")
	}
}

func TestCache_List(t *testing.T) {
	ttl := 30 * 24 * time.Hour
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestCache(ttl, clock)

	c.Put(snap("seg_expired", 0.5, true))
	clock.Advance(31 * 24 * time.Hour)
	c.Put(snap("seg_final", 0.8, true))
	c.Put(snap("seg_partial", 0.6, false))

	tests := []struct {
		name          string
		validOnly     bool
		finalizedOnly bool
		want          int
	}{
		{"all entries", false, false, 3},
		{"valid only", true, false, 2},
		{"finalized only", false, true, 2},
		{"valid and finalized", true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.List(tt.validOnly, tt.finalizedOnly)
			if len(got) != tt.want {
				t.Errorf("List(%v, %v) returned %d entries, want %d",
					tt.validOnly, tt.finalizedOnly, len(got), tt.want)
			}
		})
	}
}

func TestCache_Stats(t *testing.T) {
	ttl := 30 * 24 * time.Hour
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestCache(ttl, clock)

	c.Put(snap("seg_expired", 0.5, true))
	clock.Advance(31 * 24 * time.Hour)
	c.Put(snap("seg_final", 0.8, true))
	c.Put(snap("seg_partial", 0.6, false))

	stats := c.Stats()
	if stats.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", stats.TotalCount)
	}
	if stats.ValidCount != 2 {
		t.Errorf("ValidCount = %d, want 2", stats.ValidCount)
	}
	if stats.ExpiredCount != 1 {
		t.Errorf("ExpiredCount = %d, want 1", stats.ExpiredCount)
	}
	if stats.FinalizedCount != 1 {
		t.Errorf("FinalizedCount = %d, want 1", stats.FinalizedCount)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("seg_%03d", n)
			for j := 0; j < 200; j++ {
				c.Put(snap(id, float64(j%100)/100, j >= 10))
				c.Get(id)
				c.List(true, false)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			c.Cleanup()
			c.Stats()
		}
	}()

	wg.Wait()

	if c.Len() != 8 {
		t.Errorf("Len = %d, want 8", c.Len())
	}
}
