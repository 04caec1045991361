// Package progress propagates worker-side progress into the job record.
// Updates are fire-and-forget from the worker's point of view: a dropped or
// stale update never fails the work itself.
package progress

import (
	"context"
	"fmt"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// Phase names the stage of execution a progress update belongs to.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseProcessing  Phase = "processing"
	PhaseFinished    Phase = "finished"
)

// Update is one coalesced progress observation for a job attempt.
type Update struct {
	JobID     string
	AttemptID string
	Phase     Phase
	Percent   float64
}

// JobProgressStore is the slice of the job repository the reporter needs.
type JobProgressStore interface {
	UpdateProgress(ctx context.Context, id, attemptID string, percent float64, status entity.JobStatus) (bool, error)
}

// Reporter applies progress updates. Stale updates, meaning those carrying an
// attempt id that is no longer current or a percent below what is already
// recorded, are silently dropped by the store's guards.
type Reporter struct {
	store  JobProgressStore
	logger observability.Logger
}

func NewReporter(store JobProgressStore, logger observability.Logger) *Reporter {
	return &Reporter{
		store:  store,
		logger: logger.WithFields(map[string]interface{}{"component": "progress"}),
	}
}

// Report applies one update. The returned bool says whether the job record
// actually advanced; false means the update was stale or the job left the
// active states, neither of which is an error.
func (r *Reporter) Report(ctx context.Context, u Update) (bool, error) {
	status, ok := phaseStatus(u.Phase)
	if !ok {
		return false, fmt.Errorf("unknown progress phase %q", u.Phase)
	}

	percent := u.Percent
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	applied, err := r.store.UpdateProgress(ctx, u.JobID, u.AttemptID, percent, status)
	if err != nil {
		return false, fmt.Errorf("failed to report progress for job %s: %w", u.JobID, err)
	}
	if !applied {
		r.logger.Debug("progress update dropped",
			"job_id", u.JobID, "attempt_id", u.AttemptID, "percent", percent)
	}
	return applied, nil
}

func phaseStatus(p Phase) (entity.JobStatus, bool) {
	switch p {
	case PhaseDownloading:
		return entity.StatusDownloading, true
	case PhaseProcessing, PhaseFinished:
		return entity.StatusProcessing, true
	}
	return "", false
}
