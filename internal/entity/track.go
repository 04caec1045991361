package entity

import (
	"time"

	"github.com/google/uuid"
)

// Track is one successfully produced output file. It references its parent
// job and is immutable after creation except for later metadata enrichment.
type Track struct {
	ID    string `db:"id" json:"id"`
	JobID string `db:"job_id" json:"job_id"`

	Platform  SourcePlatform `db:"platform" json:"platform"`
	SourceURL string         `db:"source_url" json:"source_url"`
	SourceID  *string        `db:"source_id" json:"source_id,omitempty"`

	FilePath string  `db:"file_path" json:"file_path"`
	FileSize int64   `db:"file_size" json:"file_size"`
	Duration float64 `db:"duration" json:"duration"`

	Format     string `db:"format" json:"format"`
	Bitrate    int    `db:"bitrate" json:"bitrate"`
	SampleRate int    `db:"sample_rate" json:"sample_rate"`

	Title  *string `db:"title" json:"title,omitempty"`
	Artist *string `db:"artist" json:"artist,omitempty"`
	Album  *string `db:"album" json:"album,omitempty"`

	IsNormalized bool `db:"is_normalized" json:"is_normalized"`
	IsEnhanced   bool `db:"is_enhanced" json:"is_enhanced"`

	// FileHash is used for duplicate detection across jobs.
	FileHash *string `db:"file_hash" json:"file_hash,omitempty"`

	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// NewTrack creates a track record for a produced file.
func NewTrack(jobID string, platform SourcePlatform, sourceURL, filePath string) *Track {
	now := time.Now().UTC()
	return &Track{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Platform:    platform,
		SourceURL:   sourceURL,
		FilePath:    filePath,
		CreatedAt:   now,
		ProcessedAt: now,
	}
}
