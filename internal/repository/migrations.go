package repository

import "context"

// Schema is created on startup; every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		platform         TEXT NOT NULL,
		selection_mode   TEXT NOT NULL,
		url              TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'pending',
		total_items      INTEGER NOT NULL DEFAULT 0,
		completed_items  INTEGER NOT NULL DEFAULT 0,
		failed_items     INTEGER NOT NULL DEFAULT 0,
		progress_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		title            TEXT,
		artist           TEXT,
		thumbnail_url    TEXT,
		output_dir       TEXT,
		error_message    TEXT,
		retry_count      INTEGER NOT NULL DEFAULT 0,
		attempt_id       TEXT NOT NULL,
		task_handle      TEXT,
		owner_key        TEXT NOT NULL DEFAULT '',
		processing       JSONB NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at       TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_key, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS tracks (
		id            TEXT PRIMARY KEY,
		job_id        TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		platform      TEXT NOT NULL,
		source_url    TEXT NOT NULL,
		source_id     TEXT,
		file_path     TEXT NOT NULL,
		file_size     BIGINT NOT NULL DEFAULT 0,
		duration      DOUBLE PRECISION NOT NULL DEFAULT 0,
		format        TEXT NOT NULL DEFAULT 'mp3',
		bitrate       INTEGER NOT NULL DEFAULT 0,
		sample_rate   INTEGER NOT NULL DEFAULT 0,
		title         TEXT,
		artist        TEXT,
		album         TEXT,
		is_normalized BOOLEAN NOT NULL DEFAULT FALSE,
		is_enhanced   BOOLEAN NOT NULL DEFAULT FALSE,
		file_hash     TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_job ON tracks (job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_hash ON tracks (file_hash)`,

	`CREATE TABLE IF NOT EXISTS stats_snapshots (
		id                 BIGSERIAL PRIMARY KEY,
		storage_used_bytes BIGINT NOT NULL DEFAULT 0,
		total_files        INTEGER NOT NULL DEFAULT 0,
		total_jobs         INTEGER NOT NULL DEFAULT 0,
		completed_jobs     INTEGER NOT NULL DEFAULT 0,
		failed_jobs        INTEGER NOT NULL DEFAULT 0,
		active_jobs        INTEGER NOT NULL DEFAULT 0,
		total_tracks       INTEGER NOT NULL DEFAULT 0,
		total_duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
		youtube_tracks     INTEGER NOT NULL DEFAULT 0,
		soundcloud_tracks  INTEGER NOT NULL DEFAULT 0,
		recorded_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
