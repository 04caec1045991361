package entity

import "time"

// StatsSnapshot is an immutable point-in-time rollup appended by the
// maintenance scheduler. Never mutated after creation; queried by most recent.
type StatsSnapshot struct {
	ID int64 `db:"id" json:"id"`

	StorageUsedBytes int64 `db:"storage_used_bytes" json:"storage_used_bytes"`
	TotalFiles       int   `db:"total_files" json:"total_files"`

	TotalJobs     int `db:"total_jobs" json:"total_jobs"`
	CompletedJobs int `db:"completed_jobs" json:"completed_jobs"`
	FailedJobs    int `db:"failed_jobs" json:"failed_jobs"`
	ActiveJobs    int `db:"active_jobs" json:"active_jobs"`

	TotalTracks      int     `db:"total_tracks" json:"total_tracks"`
	TotalDurationSec float64 `db:"total_duration_sec" json:"total_duration_sec"`

	YouTubeTracks    int `db:"youtube_tracks" json:"youtube_tracks"`
	SoundCloudTracks int `db:"soundcloud_tracks" json:"soundcloud_tracks"`

	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}
