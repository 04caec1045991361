package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
)

// StatsRepository appends immutable statistics snapshots.
type StatsRepository struct {
	store *Store
}

// Append inserts a new snapshot. Snapshots are never updated.
func (r *StatsRepository) Append(ctx context.Context, snap *entity.StatsSnapshot) error {
	query := r.store.qb.Insert("stats_snapshots").
		Columns("storage_used_bytes", "total_files", "total_jobs",
			"completed_jobs", "failed_jobs", "active_jobs",
			"total_tracks", "total_duration_sec",
			"youtube_tracks", "soundcloud_tracks", "recorded_at").
		Values(snap.StorageUsedBytes, snap.TotalFiles, snap.TotalJobs,
			snap.CompletedJobs, snap.FailedJobs, snap.ActiveJobs,
			snap.TotalTracks, snap.TotalDurationSec,
			snap.YouTubeTracks, snap.SoundCloudTracks, snap.RecordedAt)

	if _, err := r.store.exec(ctx, "stats_append", query); err != nil {
		return fmt.Errorf("failed to append stats snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or nil when none exist yet.
func (r *StatsRepository) Latest(ctx context.Context) (*entity.StatsSnapshot, error) {
	var snap entity.StatsSnapshot
	err := r.store.db.GetContext(ctx, &snap,
		`SELECT * FROM stats_snapshots ORDER BY recorded_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest stats snapshot: %w", err)
	}
	return &snap, nil
}
