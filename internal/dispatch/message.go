package dispatch

import "github.com/waqarahm3d/qoqnuzmedia/internal/entity"

// FetchTask is the unit of work published to the download queue.
type FetchTask struct {
	JobID         string                `json:"job_id"`
	AttemptID     string                `json:"attempt_id"`
	URL           string                `json:"url"`
	Platform      entity.SourcePlatform `json:"source_platform"`
	SelectionMode entity.SelectionMode  `json:"selection_mode"`
}

// FetchedItem is one file produced by the fetch phase, handed to the
// processing phase.
type FetchedItem struct {
	SourceID  string `json:"source_id,omitempty"`
	SourceURL string `json:"source_url"`
	FilePath  string `json:"file_path"`
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// ProcessTask is the unit of work published to the processing queue. It is
// only published after the fetch phase has fully completed, which is what
// guarantees fetch-before-process ordering within a job.
type ProcessTask struct {
	JobID       string                `json:"job_id"`
	AttemptID   string                `json:"attempt_id"`
	Platform    entity.SourcePlatform `json:"source_platform"`
	URL         string                `json:"url"`
	OutputDir   string                `json:"output_dir"`
	Items       []FetchedItem         `json:"items"`
	FailedItems int                   `json:"failed_items"`
}
