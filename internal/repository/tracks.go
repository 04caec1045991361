package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
)

// TrackRepository persists produced artifacts. Tracks are immutable after
// creation except for metadata enrichment flags.
type TrackRepository struct {
	store *Store
}

// Create inserts a track record for a produced file. The insert is fenced on
// the owning job still executing under the given attempt, so a worker
// abandoned at the hard time limit cannot attach artifacts to a settled job.
// The boolean result reports whether the row was inserted.
func (r *TrackRepository) Create(ctx context.Context, track *entity.Track, attemptID string) (bool, error) {
	res, err := r.store.db.ExecContext(ctx, `
		INSERT INTO tracks (id, job_id, platform, source_url, source_id,
			file_path, file_size, duration, format, bitrate,
			sample_rate, title, artist, album,
			is_normalized, is_enhanced, file_hash,
			created_at, processed_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		WHERE EXISTS (
			SELECT 1 FROM jobs
			WHERE id = $2 AND attempt_id = $20
			  AND status IN ('downloading', 'processing')
		)`,
		track.ID, track.JobID, track.Platform, track.SourceURL, track.SourceID,
		track.FilePath, track.FileSize, track.Duration, track.Format, track.Bitrate,
		track.SampleRate, track.Title, track.Artist, track.Album,
		track.IsNormalized, track.IsEnhanced, track.FileHash,
		track.CreatedAt, track.ProcessedAt, attemptID)
	if err != nil {
		r.store.metrics.RecordError("db_track_create", "exec")
		return false, fmt.Errorf("failed to create track: %w", err)
	}

	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// GetByID loads a single track.
func (r *TrackRepository) GetByID(ctx context.Context, id string) (*entity.Track, error) {
	var track entity.Track
	err := r.store.db.GetContext(ctx, &track, `SELECT * FROM tracks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load track %s: %w", id, err)
	}
	return &track, nil
}

// ListByJob returns all tracks produced by a job.
func (r *TrackRepository) ListByJob(ctx context.Context, jobID string) ([]*entity.Track, error) {
	var tracks []*entity.Track
	err := r.store.db.SelectContext(ctx, &tracks,
		`SELECT * FROM tracks WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks for job %s: %w", jobID, err)
	}
	return tracks, nil
}

// List returns a page of tracks newest first, optionally filtered by platform.
func (r *TrackRepository) List(ctx context.Context, platform *entity.SourcePlatform, limit, offset int) ([]*entity.Track, int, error) {
	where := squirrel.And{}
	if platform != nil {
		where = append(where, squirrel.Eq{"platform": *platform})
	}

	countSQL, countArgs, err := r.store.qb.Select("COUNT(*)").From("tracks").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := r.store.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count tracks: %w", err)
	}

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	listSQL, listArgs, err := r.store.qb.Select("*").From("tracks").Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	var tracks []*entity.Track
	if err := r.store.db.SelectContext(ctx, &tracks, listSQL, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, total, nil
}

// SetProcessingFlags records later metadata enrichment on an existing track.
func (r *TrackRepository) SetProcessingFlags(ctx context.Context, id string, normalized, enhanced bool) error {
	query := r.store.qb.Update("tracks").
		Set("is_normalized", normalized).
		Set("is_enhanced", enhanced).
		Where(squirrel.Eq{"id": id})

	if _, err := r.store.exec(ctx, "track_set_flags", query); err != nil {
		return fmt.Errorf("failed to update track %s flags: %w", id, err)
	}
	return nil
}

// FindByHash returns tracks sharing a content hash, for duplicate detection.
func (r *TrackRepository) FindByHash(ctx context.Context, hash string) ([]*entity.Track, error) {
	var tracks []*entity.Track
	err := r.store.db.SelectContext(ctx, &tracks,
		`SELECT * FROM tracks WHERE file_hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to find tracks by hash: %w", err)
	}
	return tracks, nil
}

// Rollup aggregates track statistics for the maintenance snapshot.
func (r *TrackRepository) Rollup(ctx context.Context) (total int, totalDuration float64, byPlatform map[entity.SourcePlatform]int, err error) {
	byPlatform = make(map[entity.SourcePlatform]int)

	rows, err := r.store.db.QueryContext(ctx,
		`SELECT platform, COUNT(*), COALESCE(SUM(duration), 0) FROM tracks GROUP BY platform`)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to roll up tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var platform entity.SourcePlatform
		var count int
		var duration float64
		if err := rows.Scan(&platform, &count, &duration); err != nil {
			return 0, 0, nil, err
		}
		byPlatform[platform] = count
		total += count
		totalDuration += duration
	}
	return total, totalDuration, byPlatform, rows.Err()
}
