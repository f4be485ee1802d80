package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
)

// Repository persists the prediction audit log and segment snapshots.
// The in-memory core never reads from it on the hot path; it exists so
// aggregation state survives a restart and predictions stay auditable.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new history repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the history tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vehicle_predictions (
			id BIGSERIAL PRIMARY KEY,
			segment_id TEXT NOT NULL,
			vehicle_id TEXT NOT NULL,
			comfort_score DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			pothole_detected BOOLEAN NOT NULL DEFAULT FALSE,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			submitted_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vehicle_predictions_segment
			ON vehicle_predictions (segment_id, submitted_at);

		CREATE TABLE IF NOT EXISTS segment_snapshots (
			segment_id TEXT PRIMARY KEY,
			comfort_score DOUBLE PRECISION NOT NULL,
			avg_confidence DOUBLE PRECISION NOT NULL,
			sample_count INTEGER NOT NULL,
			pothole_count INTEGER NOT NULL,
			is_finalized BOOLEAN NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_segment_snapshots_expires
			ON segment_snapshots (expires_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure history schema: %w", err)
	}

	return nil
}

// InsertPredictions appends accepted predictions to the audit log.
func (r *Repository) InsertPredictions(ctx context.Context, preds []contracts.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range preds {
		batch.Queue(`
			INSERT INTO vehicle_predictions
				(segment_id, vehicle_id, comfort_score, confidence, pothole_detected, speed, heading, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.SegmentID, p.VehicleID, p.ComfortScore, p.Confidence, p.PotholeDetected, p.Speed, p.Heading, p.Timestamp)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range preds {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert predictions: %w", err)
		}
	}

	return nil
}

// UpsertSnapshot writes the latest snapshot for a segment.
func (r *Repository) UpsertSnapshot(ctx context.Context, snap contracts.SegmentSnapshot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO segment_snapshots
			(segment_id, comfort_score, avg_confidence, sample_count, pothole_count, is_finalized, last_updated, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (segment_id) DO UPDATE SET
			comfort_score = EXCLUDED.comfort_score,
			avg_confidence = EXCLUDED.avg_confidence,
			sample_count = EXCLUDED.sample_count,
			pothole_count = EXCLUDED.pothole_count,
			is_finalized = EXCLUDED.is_finalized,
			last_updated = EXCLUDED.last_updated,
			expires_at = EXCLUDED.expires_at
	`, snap.SegmentID, snap.ComfortScore, snap.AvgConfidence, snap.SampleCount,
		snap.PotholeCount, snap.IsFinalized, snap.LastUpdated, snap.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for %s: %w", snap.SegmentID, err)
	}

	return nil
}

// UpsertSnapshots writes a batch of snapshots.
func (r *Repository) UpsertSnapshots(ctx context.Context, snaps []contracts.SegmentSnapshot) error {
	for _, snap := range snaps {
		if err := r.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// LoadValidSnapshots returns all snapshots that have not expired,
// used to warm the in-memory cache at startup.
func (r *Repository) LoadValidSnapshots(ctx context.Context, now time.Time) ([]contracts.SegmentSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT segment_id, comfort_score, avg_confidence, sample_count, pothole_count,
		       is_finalized, last_updated, expires_at
		FROM segment_snapshots
		WHERE expires_at >= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []contracts.SegmentSnapshot
	for rows.Next() {
		var s contracts.SegmentSnapshot
		if err := rows.Scan(&s.SegmentID, &s.ComfortScore, &s.AvgConfidence, &s.SampleCount,
			&s.PotholeCount, &s.IsFinalized, &s.LastUpdated, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}

	return snaps, rows.Err()
}

// DeleteExpiredSnapshots removes snapshot rows past their expiry.
func (r *Repository) DeleteExpiredSnapshots(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM segment_snapshots WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired snapshots: %w", err)
	}

	return tag.RowsAffected(), nil
}
