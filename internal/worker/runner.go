// Package worker executes queued fetch and process tasks. The runner holds
// the per-task semantics; the consumer owns delivery, acknowledgement and the
// goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waqarahm3d/qoqnuzmedia/internal/dispatch"
	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/fsutil"
	"github.com/waqarahm3d/qoqnuzmedia/internal/notify"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
	"github.com/waqarahm3d/qoqnuzmedia/internal/platform"
	"github.com/waqarahm3d/qoqnuzmedia/internal/progress"
	"github.com/waqarahm3d/qoqnuzmedia/internal/quota"
)

// JobStore is the slice of the job repository the runner needs.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*entity.Job, error)
	Transition(ctx context.Context, id string, from []entity.JobStatus, to entity.JobStatus, set map[string]interface{}) (bool, error)
	SetMetadata(ctx context.Context, id, attemptID string, title, artist, thumbnailURL *string, totalItems int, outputDir string) (bool, error)
	SetItemCounts(ctx context.Context, id, attemptID string, total, completed, failed int) (bool, error)
	SetTaskHandle(ctx context.Context, id, attemptID, handle string) (bool, error)
}

// TrackStore persists produced artifacts.
type TrackStore interface {
	Create(ctx context.Context, track *entity.Track, attemptID string) (bool, error)
	FindByHash(ctx context.Context, hash string) ([]*entity.Track, error)
}

// ProgressSink receives coalesced progress updates.
type ProgressSink interface {
	Report(ctx context.Context, u progress.Update) (bool, error)
}

// Admitter re-checks the storage quota right before the fetch phase.
type Admitter interface {
	Admit() (quota.Decision, error)
	Invalidate()
}

// Enqueuer publishes follow-up tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload interface{}) (string, error)
}

// RunnerOptions carries the execution policy the runner enforces.
type RunnerOptions struct {
	DownloadRoot    string
	ProcessingQueue string
	SoftTimeLimit   time.Duration
	HardTimeGrace   time.Duration
}

// errHardTimeout marks the watchdog firing after the grace period. The work
// goroutine is abandoned at that point; its late writes are fenced off by the
// status and attempt guards on every job mutation.
var errHardTimeout = errors.New("hard time limit exceeded")

// errJobSettled aborts a phase when a fenced write reports the job is no
// longer live under this attempt.
var errJobSettled = errors.New("job settled elsewhere")

// Runner executes one task at a time against the job record. Every job
// mutation goes through guarded transitions, so a runner racing a cancel or a
// duplicate delivery can never clobber the winner's outcome.
type Runner struct {
	jobs     JobStore
	tracks   TrackStore
	reporter ProgressSink
	quota    Admitter
	registry *platform.Registry
	enqueuer Enqueuer
	backend  dispatch.Backend
	notifier notify.Notifier
	opts     RunnerOptions
	logger   observability.Logger
	metrics  observability.Metrics
}

func NewRunner(
	jobs JobStore,
	tracks TrackStore,
	reporter ProgressSink,
	admitter Admitter,
	registry *platform.Registry,
	enqueuer Enqueuer,
	backend dispatch.Backend,
	notifier notify.Notifier,
	opts RunnerOptions,
	logger observability.Logger,
	metrics observability.Metrics,
) *Runner {
	return &Runner{
		jobs:     jobs,
		tracks:   tracks,
		reporter: reporter,
		quota:    admitter,
		registry: registry,
		enqueuer: enqueuer,
		backend:  backend,
		notifier: notifier,
		opts:     opts,
		logger:   logger.WithFields(map[string]interface{}{"component": "runner"}),
		metrics:  metrics,
	}
}

// RunFetch executes the fetch phase of a job. A nil return means the delivery
// is settled, including the cases where the job failed and was marked so; an
// error return means infrastructure trouble and the delivery may be retried.
func (r *Runner) RunFetch(ctx context.Context, handle string, task dispatch.FetchTask) error {
	log := r.logger.WithFields(map[string]interface{}{"job_id": task.JobID, "phase": "fetch"})

	job, ok, err := r.claim(ctx, handle, task.JobID, task.AttemptID, log)
	if err != nil || !ok {
		return err
	}

	// The delivery can outrun the creator's queued mark, so a job still
	// pending is claimable too; dropping it here would ack the only copy of
	// the message and orphan the job.
	applied, err := r.jobs.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusPending, entity.StatusQueued}, entity.StatusDownloading,
		map[string]interface{}{"started_at": time.Now().UTC()})
	if err != nil {
		return err
	}
	if !applied {
		log.Info("fetch delivery dropped, job no longer claimable", "status", job.Status)
		return nil
	}
	if err := r.backend.SetState(ctx, handle, dispatch.TaskRunning); err != nil {
		log.Warn("failed to record running state", "error", err)
	}

	// Usage may have grown between admission and execution, check again.
	decision, err := r.quota.Admit()
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	if !decision.Allowed {
		return r.failJob(ctx, job.ID,
			entity.NewQuotaExceededError(decision.UsedBytes, decision.LimitBytes), log)
	}

	fetcher, err := r.registry.Fetcher(task.Platform)
	if err != nil {
		return r.failJob(ctx, job.ID, entity.NewValidationError(err.Error()), log)
	}

	var (
		items     []platform.FetchResult
		outputDir string
		meta      *platform.Metadata
	)

	runErr := r.runWithLimits(ctx, func(ctx context.Context) error {
		var err error
		meta, err = fetcher.ExtractInfo(ctx, task.URL, task.SelectionMode)
		if err != nil {
			return err
		}

		outputDir, err = fsutil.JobDownloadDir(r.opts.DownloadRoot, string(task.Platform), job.ID)
		if err != nil {
			return fmt.Errorf("failed to prepare output directory: %w", err)
		}

		title := optional(meta.Title)
		artist := optional(meta.Artist)
		thumb := optional(meta.ThumbnailURL)
		applied, err := r.jobs.SetMetadata(ctx, job.ID, task.AttemptID, title, artist, thumb, meta.ItemCount, outputDir)
		if err != nil {
			log.Warn("failed to record metadata", "error", err)
		} else if !applied {
			return errJobSettled
		}

		items, err = fetcher.Fetch(ctx, task.URL, outputDir, task.SelectionMode, func(p float64) {
			// The fetch phase covers the first half of overall progress.
			r.report(ctx, job.ID, task.AttemptID, progress.PhaseDownloading, p*0.5)
		})
		return err
	})
	if runErr != nil {
		if errors.Is(runErr, errJobSettled) {
			log.Info("fetch abandoned, job settled elsewhere")
			return nil
		}
		return r.failJob(ctx, job.ID, classify(runErr, entity.CodeFetch, "fetch phase failed"), log)
	}

	failedCount := 0
	if meta.ItemCount > len(items) {
		failedCount = meta.ItemCount - len(items)
	}
	totalItems := len(items) + failedCount

	applied, err = r.jobs.SetItemCounts(ctx, job.ID, task.AttemptID, totalItems, 0, failedCount)
	if err != nil {
		log.Warn("failed to record item counts", "error", err)
	} else if !applied {
		log.Info("fetch result dropped, job settled elsewhere")
		return nil
	}

	fetched := make([]dispatch.FetchedItem, 0, len(items))
	for _, item := range items {
		fetched = append(fetched, dispatch.FetchedItem{
			SourceID:  item.SourceID,
			SourceURL: item.SourceURL,
			FilePath:  item.FilePath,
			Title:     item.Title,
			Artist:    item.Artist,
			Duration:  item.DurationSeconds,
		})
	}

	// Processing is only ever dispatched after the whole fetch phase settled.
	nextHandle, err := r.enqueuer.Enqueue(ctx, r.opts.ProcessingQueue, dispatch.ProcessTask{
		JobID:       job.ID,
		AttemptID:   task.AttemptID,
		Platform:    task.Platform,
		URL:         task.URL,
		OutputDir:   outputDir,
		Items:       fetched,
		FailedItems: failedCount,
	})
	if err != nil {
		return r.failJob(ctx, job.ID,
			&entity.DomainError{Code: entity.CodeDispatchFailed, Message: "failed to dispatch processing", Err: err, Retryable: true},
			log)
	}
	if applied, err := r.jobs.SetTaskHandle(ctx, job.ID, task.AttemptID, nextHandle); err != nil {
		log.Warn("failed to record task handle", "error", err)
	} else if !applied {
		log.Info("task handle dropped, job settled elsewhere")
	}

	if err := r.backend.SetState(ctx, handle, dispatch.TaskFinished); err != nil {
		log.Warn("failed to record finished state", "error", err)
	}
	r.quota.Invalidate()

	log.Info("fetch phase complete", "items", len(items), "failed_items", failedCount)
	r.metrics.RecordSuccess("fetch_phase")
	return nil
}

// RunProcess executes the processing phase and settles the job terminally.
func (r *Runner) RunProcess(ctx context.Context, handle string, task dispatch.ProcessTask) error {
	log := r.logger.WithFields(map[string]interface{}{"job_id": task.JobID, "phase": "process"})

	job, ok, err := r.claim(ctx, handle, task.JobID, task.AttemptID, log)
	if err != nil || !ok {
		return err
	}

	applied, err := r.jobs.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusDownloading}, entity.StatusProcessing, nil)
	if err != nil {
		return err
	}
	if !applied {
		log.Info("process delivery dropped, job no longer downloading", "status", job.Status)
		return nil
	}
	if err := r.backend.SetState(ctx, handle, dispatch.TaskRunning); err != nil {
		log.Warn("failed to record running state", "error", err)
	}

	completed := 0
	failed := task.FailedItems
	total := len(task.Items) + task.FailedItems

	runErr := r.runWithLimits(ctx, func(ctx context.Context) error {
		processor := r.registry.Processor()
		for i, item := range task.Items {
			// Cancellation checkpoint between items.
			if revoked, err := r.backend.IsRevoked(ctx, handle); err == nil && revoked {
				log.Info("processing stopped, task revoked", "processed", completed)
				return nil
			}

			result, err := processor.Process(ctx, item.FilePath, job.Processing)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("item processing failed", "file", item.FilePath, "error", err)
				failed++
				continue
			}

			recorded, err := r.recordTrack(ctx, job, item, result, log)
			if err != nil {
				log.Warn("failed to record track", "file", item.FilePath, "error", err)
				failed++
				continue
			}
			if !recorded {
				return errJobSettled
			}
			completed++

			// The processing phase covers the second half of overall progress.
			percent := 50 + float64(i+1)/float64(len(task.Items))*50
			r.report(ctx, job.ID, task.AttemptID, progress.PhaseProcessing, percent)
		}
		return nil
	})
	if runErr != nil {
		if errors.Is(runErr, errJobSettled) {
			log.Info("processing abandoned, job settled elsewhere")
			return nil
		}
		return r.failJob(ctx, job.ID, classify(runErr, entity.CodeProcessing, "processing phase failed"), log)
	}

	applied, err = r.jobs.SetItemCounts(ctx, job.ID, task.AttemptID, total, completed, failed)
	if err != nil {
		log.Warn("failed to record item counts", "error", err)
	} else if !applied {
		log.Info("processing result dropped, job settled elsewhere")
		return nil
	}

	// A loop that ran to the end produced a final tally, and a tally always
	// completes the job, even when zero items survived; the counts tell the
	// caller how much of it made it through.
	applied, err = r.jobs.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusProcessing}, entity.StatusCompleted,
		map[string]interface{}{
			"completed_at":     time.Now().UTC(),
			"progress_percent": float64(100),
		})
	if err != nil {
		return err
	}
	if applied {
		r.sendNotification(ctx, notify.Notification{
			JobID: job.ID,
			Event: notify.EventCompleted,
			Data: map[string]interface{}{
				"total_items":     total,
				"completed_items": completed,
				"failed_items":    failed,
				"output_dir":      task.OutputDir,
			},
		}, log)
	}

	if err := r.backend.SetState(ctx, handle, dispatch.TaskFinished); err != nil {
		log.Warn("failed to record finished state", "error", err)
	}
	r.quota.Invalidate()

	log.Info("processing phase complete", "completed", completed, "failed", failed)
	r.metrics.RecordSuccess("process_phase")
	return nil
}

// FailLost marks a job failed after its delivery exceeded the redelivery
// ceiling, meaning the worker holding it died repeatedly.
func (r *Runner) FailLost(ctx context.Context, jobID string) {
	log := r.logger.WithFields(map[string]interface{}{"job_id": jobID})
	err := r.failJob(ctx, jobID,
		&entity.DomainError{Code: entity.CodeWorkerLost, Message: "worker lost during execution", Retryable: true},
		log)
	if err != nil {
		log.Error("failed to settle lost job", "error", err)
	}
}

// claim loads the job and decides whether this delivery should run at all.
// Terminal, revoked and stale-attempt deliveries are dropped silently.
func (r *Runner) claim(ctx context.Context, handle, jobID, attemptID string, log observability.Logger) (*entity.Job, bool, error) {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, entity.ErrJobNotFound) {
			log.Warn("delivery references unknown job, dropping")
			return nil, false, nil
		}
		return nil, false, err
	}

	if job.Status.IsTerminal() {
		log.Info("delivery dropped, job already terminal", "status", job.Status)
		return nil, false, nil
	}
	if job.AttemptID != attemptID {
		log.Info("delivery dropped, stale attempt", "attempt_id", attemptID)
		return nil, false, nil
	}

	revoked, err := r.backend.IsRevoked(ctx, handle)
	if err != nil {
		log.Warn("failed to read revoke flag", "error", err)
	}
	if revoked {
		log.Info("delivery dropped, task revoked")
		return nil, false, nil
	}
	return job, true, nil
}

// runWithLimits runs fn under the soft time limit and abandons it entirely at
// the hard limit. The soft limit cancels fn's context; a fn that keeps
// running past the grace period is left behind and the job is settled as
// timed out.
func (r *Runner) runWithLimits(ctx context.Context, fn func(context.Context) error) error {
	softCtx, cancel := context.WithTimeout(ctx, r.opts.SoftTimeLimit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(softCtx) }()

	hard := time.NewTimer(r.opts.SoftTimeLimit + r.opts.HardTimeGrace)
	defer hard.Stop()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return entity.NewTimeoutError("soft time limit exceeded", err)
		}
		return err
	case <-hard.C:
		return entity.NewTimeoutError("hard time limit exceeded", errHardTimeout)
	}
}

func (r *Runner) recordTrack(ctx context.Context, job *entity.Job, item dispatch.FetchedItem, result *platform.ProcessResult, log observability.Logger) (bool, error) {
	if result.FileHash != "" {
		if dups, err := r.tracks.FindByHash(ctx, result.FileHash); err == nil && len(dups) > 0 {
			log.Info("duplicate content detected", "hash", result.FileHash, "existing", dups[0].ID)
		}
	}

	track := entity.NewTrack(job.ID, job.Platform, item.SourceURL, result.OutputPath)
	track.SourceID = optional(item.SourceID)
	track.Title = optional(item.Title)
	track.Artist = optional(item.Artist)
	track.Duration = item.Duration
	track.FileSize = result.SizeBytes
	track.Format = job.Processing.AudioFormat
	track.Bitrate = job.Processing.AudioBitrate
	track.SampleRate = job.Processing.SampleRate
	track.IsNormalized = result.Normalized
	track.IsEnhanced = result.Enhanced
	track.FileHash = optional(result.FileHash)

	return r.tracks.Create(ctx, track, job.AttemptID)
}

// failJob settles a job as failed and notifies exactly once. The transition
// is guarded by the active states, so a job cancelled in the meantime stays
// cancelled and triggers no notification.
func (r *Runner) failJob(ctx context.Context, jobID string, cause error, log observability.Logger) error {
	msg := cause.Error()
	applied, err := r.jobs.Transition(ctx, jobID,
		[]entity.JobStatus{entity.StatusQueued, entity.StatusDownloading, entity.StatusProcessing},
		entity.StatusFailed,
		map[string]interface{}{
			"error_message": msg,
			"completed_at":  time.Now().UTC(),
		})
	if err != nil {
		return err
	}
	if !applied {
		log.Info("failure not recorded, job already settled")
		return nil
	}

	log.Error("job failed", "error", cause)
	r.metrics.RecordError("job", errorType(cause))

	r.sendNotification(ctx, notify.Notification{
		JobID: jobID,
		Event: notify.EventFailed,
		Data:  map[string]interface{}{"error": msg},
	}, log)
	return nil
}

// sendNotification delivers best effort; the job outcome is already durable.
func (r *Runner) sendNotification(ctx context.Context, n notify.Notification, log observability.Logger) {
	if err := r.notifier.Notify(ctx, n); err != nil {
		log.Warn("webhook delivery failed", "event", n.Event, "error", err)
	}
}

func (r *Runner) report(ctx context.Context, jobID, attemptID string, phase progress.Phase, percent float64) {
	if _, err := r.reporter.Report(ctx, progress.Update{
		JobID:     jobID,
		AttemptID: attemptID,
		Phase:     phase,
		Percent:   percent,
	}); err != nil {
		r.logger.Warn("progress report failed", "job_id", jobID, "error", err)
	}
}

// classify wraps non-domain errors so the stored error message carries a code.
func classify(err error, code, msg string) error {
	var de *entity.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.NewTimeoutError(msg, err)
	}
	return &entity.DomainError{Code: code, Message: msg, Err: err, Retryable: true}
}

func errorType(err error) string {
	var de *entity.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "UNKNOWN"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
