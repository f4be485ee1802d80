package jobs

import (
	"context"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/history"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// SnapshotPersistJob flushes the full set of valid snapshots to the
// database and prunes expired rows. The async writer already persists
// snapshots incrementally; this job is the daily reconciliation pass.
type SnapshotPersistJob struct {
	cache  *segcache.Cache
	repo   *history.Repository
	logger *logger.Logger
}

// NewSnapshotPersistJob creates a new snapshot persistence job
func NewSnapshotPersistJob(cache *segcache.Cache, repo *history.Repository, log *logger.Logger) *SnapshotPersistJob {
	return &SnapshotPersistJob{
		cache:  cache,
		repo:   repo,
		logger: log,
	}
}

// Name returns the job name
func (j *SnapshotPersistJob) Name() string {
	return "snapshot_persist"
}

// Schedule returns the cron schedule (daily at 03:00)
func (j *SnapshotPersistJob) Schedule() string {
	return "0 0 3 * * *"
}

// Run flushes valid snapshots and deletes expired rows
func (j *SnapshotPersistJob) Run(ctx context.Context) error {
	snaps := j.cache.List(true, false)
	if err := j.repo.UpsertSnapshots(ctx, snaps); err != nil {
		return err
	}

	pruned, err := j.repo.DeleteExpiredSnapshots(ctx, time.Now())
	if err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"persisted": len(snaps),
		"pruned":    pruned,
	}).Info("Snapshot persistence completed")

	return nil
}
