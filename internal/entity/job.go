package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourcePlatform identifies where content is fetched from.
type SourcePlatform string

const (
	PlatformYouTube    SourcePlatform = "youtube"
	PlatformSoundCloud SourcePlatform = "soundcloud"
)

// SelectionMode controls how many items a job pulls from its URL.
type SelectionMode string

const (
	SelectionSingle     SelectionMode = "single"
	SelectionCollection SelectionMode = "playlist"
	SelectionFeed       SelectionMode = "channel"
)

// ParsePlatform validates a raw platform string.
func ParsePlatform(raw string) (SourcePlatform, bool) {
	switch SourcePlatform(raw) {
	case PlatformYouTube, PlatformSoundCloud:
		return SourcePlatform(raw), true
	}
	return "", false
}

// ParseSelectionMode validates a raw selection mode string.
func ParseSelectionMode(raw string) (SelectionMode, bool) {
	switch SelectionMode(raw) {
	case SelectionSingle, SelectionCollection, SelectionFeed:
		return SelectionMode(raw), true
	}
	return "", false
}

// ProcessingSnapshot freezes the processing configuration in effect when the
// job was created, so later config changes never alter an in-flight job.
type ProcessingSnapshot struct {
	AudioFormat    string `json:"audio_format"`
	AudioBitrate   int    `json:"audio_bitrate"`
	SampleRate     int    `json:"sample_rate"`
	NormalizeAudio bool   `json:"normalize_audio"`
	EmbedMetadata  bool   `json:"embed_metadata"`
}

// Value serializes the snapshot for storage in a jsonb column.
func (p ProcessingSnapshot) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan deserializes the snapshot from a jsonb column.
func (p *ProcessingSnapshot) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported type %T for processing snapshot", src)
	}
}

// Job tracks one fetch-and-process request end to end.
type Job struct {
	ID            string         `db:"id" json:"id"`
	Platform      SourcePlatform `db:"platform" json:"platform"`
	SelectionMode SelectionMode  `db:"selection_mode" json:"selection_mode"`
	URL           string         `db:"url" json:"url"`
	Status        JobStatus      `db:"status" json:"status"`

	TotalItems      int     `db:"total_items" json:"total_items"`
	CompletedItems  int     `db:"completed_items" json:"completed_items"`
	FailedItems     int     `db:"failed_items" json:"failed_items"`
	ProgressPercent float64 `db:"progress_percent" json:"progress_percent"`

	Title        *string `db:"title" json:"title,omitempty"`
	Artist       *string `db:"artist" json:"artist,omitempty"`
	ThumbnailURL *string `db:"thumbnail_url" json:"thumbnail_url,omitempty"`

	OutputDir *string `db:"output_dir" json:"output_dir,omitempty"`

	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int     `db:"retry_count" json:"retry_count"`

	// AttemptID changes on every retry; progress updates carrying a stale
	// attempt id are discarded.
	AttemptID string `db:"attempt_id" json:"attempt_id"`

	// TaskHandle is the opaque dispatcher-assigned execution handle.
	TaskHandle *string `db:"task_handle" json:"task_handle,omitempty"`

	// OwnerKey isolates jobs between callers.
	OwnerKey string `db:"owner_key" json:"-"`

	Processing ProcessingSnapshot `db:"processing" json:"processing"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// NewJob creates a pending job with a fresh id and attempt id.
func NewJob(platform SourcePlatform, mode SelectionMode, url, ownerKey string, snapshot ProcessingSnapshot) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            uuid.NewString(),
		Platform:      platform,
		SelectionMode: mode,
		URL:           url,
		Status:        StatusPending,
		AttemptID:     uuid.NewString(),
		OwnerKey:      ownerKey,
		Processing:    snapshot,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Duration returns wall-clock execution time in seconds, or zero if the job
// has not started.
func (j *Job) Duration() float64 {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt).Seconds()
}
