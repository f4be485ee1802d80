package segcache

import (
	"sync"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// Cache is the in-memory TTL store of segment snapshots. It is the only
// thing external readers ever see; the aggregator is its only writer.
//
// Entries are stored by value, so every Put is a single atomic
// replacement and readers can never observe a torn entry. The cache has
// its own lock, independent of the aggregator's per-segment locks.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]contracts.SegmentSnapshot
	ttl     time.Duration
	logger  *logger.Logger

	now func() time.Time // overridable in tests
}

// New creates a new segment cache with the given TTL.
func New(ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		entries: make(map[string]contracts.SegmentSnapshot),
		ttl:     ttl,
		logger:  log,
		now:     time.Now,
	}
}

// TTL returns the configured snapshot validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put stores a snapshot, unconditionally overwriting any previous entry
// for the segment. Expiry is always measured from the write: every Put
// refreshes the TTL. The stored snapshot (with ExpiresAt set) is returned.
func (c *Cache) Put(snap contracts.SegmentSnapshot) contracts.SegmentSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap.ExpiresAt = c.now().Add(c.ttl)
	c.entries[snap.SegmentID] = snap

	return snap
}

// Restore inserts snapshots loaded from persistent storage, keeping
// their original expiry instead of stamping a fresh one. Expired
// snapshots are skipped. Used at startup, before ingestion begins.
func (c *Cache) Restore(snaps []contracts.SegmentSnapshot) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	restored := 0
	for _, snap := range snaps {
		if !snap.Valid(now) {
			continue
		}
		c.entries[snap.SegmentID] = snap
		restored++
	}

	if restored > 0 {
		c.logger.WithField("restored", restored).Info("Restored segment snapshots")
	}

	return restored
}

// Get retrieves a snapshot. Expired entries are indistinguishable from
// absent ones: found=false for both. An expired entry encountered here
// is deleted lazily, using the same predicate as the background sweep.
func (c *Cache) Get(segmentID string) (contracts.SegmentSnapshot, bool) {
	c.mu.RLock()
	entry, ok := c.entries[segmentID]
	c.mu.RUnlock()

	if !ok {
		return contracts.SegmentSnapshot{}, false
	}

	if !entry.Valid(c.now()) {
		// Lazy expiration. Re-check under the write lock: a concurrent
		// Put may have refreshed the entry in the meantime.
		c.mu.Lock()
		if cur, ok := c.entries[segmentID]; ok && !cur.Valid(c.now()) {
			delete(c.entries, segmentID)
		}
		c.mu.Unlock()

		return contracts.SegmentSnapshot{}, false
	}

	return entry, true
}

// List returns snapshots, optionally filtered to valid (non-expired)
// and/or finalized entries. validOnly uses the same expiration predicate
// as Get.
func (c *Cache) List(validOnly, finalizedOnly bool) []contracts.SegmentSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make([]contracts.SegmentSnapshot, 0, len(c.entries))
	for _, entry := range c.entries {
		if validOnly && !entry.Valid(now) {
			continue
		}
		if finalizedOnly && !entry.IsFinalized {
			continue
		}
		result = append(result, entry)
	}

	return result
}

// Cleanup removes all expired entries and returns how many were removed.
// The scheduler runs it on a fixed interval so that segments which stop
// receiving traffic do not grow memory without bound.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0

	for segmentID, entry := range c.entries {
		if !entry.Valid(now) {
			delete(c.entries, segmentID)
			count++
		}
	}

	if count > 0 {
		c.logger.WithField("removed", count).Info("Cleaned expired segment snapshots")
	}

	return count
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]contracts.SegmentSnapshot)
	c.logger.Info("Cleared segment cache")
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		TotalCount: len(c.entries),
	}

	now := c.now()
	for _, entry := range c.entries {
		if !entry.Valid(now) {
			stats.ExpiredCount++
			continue
		}
		stats.ValidCount++
		if entry.IsFinalized {
			stats.FinalizedCount++
		}
	}

	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalCount     int `json:"total_count"`
	ValidCount     int `json:"valid_count"`
	ExpiredCount   int `json:"expired_count"`
	FinalizedCount int `json:"finalized_count"`
}
