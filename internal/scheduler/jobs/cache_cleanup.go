package jobs

import (
	"context"

	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// CacheCleanupJob sweeps expired segment snapshots out of the cache.
// Lazy expiry on Get already hides stale entries from readers; the
// sweep reclaims the memory.
type CacheCleanupJob struct {
	cache    *segcache.Cache
	schedule string
	logger   *logger.Logger
}

// NewCacheCleanupJob creates a new cache cleanup job
func NewCacheCleanupJob(cache *segcache.Cache, schedule string, log *logger.Logger) *CacheCleanupJob {
	if schedule == "" {
		schedule = "0 0 * * * *" // hourly
	}
	return &CacheCleanupJob{
		cache:    cache,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Schedule returns the cron schedule
func (j *CacheCleanupJob) Schedule() string {
	return j.schedule
}

// Run executes the cache sweep
func (j *CacheCleanupJob) Run(ctx context.Context) error {
	removed := j.cache.Cleanup()

	if removed > 0 {
		j.logger.WithField("removed", removed).Info("Expired segments swept from cache")
	}

	return nil
}
