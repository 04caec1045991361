// Package jobs implements the job lifecycle operations behind the API:
// admission, querying, cancellation and retry.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waqarahm3d/qoqnuzmedia/internal/dispatch"
	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
	"github.com/waqarahm3d/qoqnuzmedia/internal/platform"
	"github.com/waqarahm3d/qoqnuzmedia/internal/quota"
	"github.com/waqarahm3d/qoqnuzmedia/internal/repository"
)

// JobStore is the slice of the job repository the service needs.
type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	GetOwned(ctx context.Context, id, ownerKey string) (*entity.Job, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*entity.Job, int, error)
	Transition(ctx context.Context, id string, from []entity.JobStatus, to entity.JobStatus, set map[string]interface{}) (bool, error)
	MarkRetry(ctx context.Context, id, newAttemptID string) (bool, error)
	SetTaskHandle(ctx context.Context, id, attemptID, handle string) (bool, error)
}

// TaskDispatcher enqueues and revokes task executions.
type TaskDispatcher interface {
	Enqueue(ctx context.Context, queue string, payload interface{}) (string, error)
	Cancel(ctx context.Context, handle string) error
}

// Admitter gates job creation on storage usage.
type Admitter interface {
	Admit() (quota.Decision, error)
}

// CreateRequest carries the validated-later inputs for a new job.
type CreateRequest struct {
	URL           string
	Platform      string
	SelectionMode string
	OwnerKey      string
}

// Options carries the service policy.
type Options struct {
	DownloadQueue string
	Snapshot      entity.ProcessingSnapshot
}

// Service implements the job lifecycle operations.
type Service struct {
	store      JobStore
	dispatcher TaskDispatcher
	admitter   Admitter
	registry   *platform.Registry
	opts       Options
	logger     observability.Logger
	metrics    observability.Metrics
}

func NewService(store JobStore, dispatcher TaskDispatcher, admitter Admitter, registry *platform.Registry, opts Options, logger observability.Logger, metrics observability.Metrics) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		admitter:   admitter,
		registry:   registry,
		opts:       opts,
		logger:     logger.WithFields(map[string]interface{}{"component": "jobs"}),
		metrics:    metrics,
	}
}

// Create validates the request, checks the storage quota and dispatches the
// fetch phase. A request rejected at admission leaves no job record behind.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*entity.Job, error) {
	sourcePlatform, ok := entity.ParsePlatform(req.Platform)
	if !ok {
		return nil, entity.NewValidationError(fmt.Sprintf("unsupported platform %q", req.Platform))
	}

	mode := req.SelectionMode
	if mode == "" {
		mode = string(entity.SelectionSingle)
	}
	selectionMode, ok := entity.ParseSelectionMode(mode)
	if !ok {
		return nil, entity.NewValidationError(fmt.Sprintf("unsupported selection mode %q", req.SelectionMode))
	}

	if req.URL == "" {
		return nil, entity.NewValidationError("url is required")
	}
	fetcher, err := s.registry.Fetcher(sourcePlatform)
	if err != nil {
		return nil, entity.NewValidationError(err.Error())
	}
	if !fetcher.Validate(req.URL) {
		return nil, entity.NewValidationError(
			fmt.Sprintf("url does not belong to platform %s", sourcePlatform))
	}

	decision, err := s.admitter.Admit()
	if err != nil {
		return nil, fmt.Errorf("quota check failed: %w", err)
	}
	if !decision.Allowed {
		s.metrics.RecordError("job_create", entity.CodeQuotaExceeded)
		return nil, entity.NewQuotaExceededError(decision.UsedBytes, decision.LimitBytes)
	}

	job := entity.NewJob(sourcePlatform, selectionMode, req.URL, req.OwnerKey, s.opts.Snapshot)
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	handle, err := s.dispatcher.Enqueue(ctx, s.opts.DownloadQueue, dispatch.FetchTask{
		JobID:         job.ID,
		AttemptID:     job.AttemptID,
		URL:           job.URL,
		Platform:      job.Platform,
		SelectionMode: job.SelectionMode,
	})
	if err != nil {
		// The record survives with the failure attached so the caller can
		// retry it once the broker is back.
		s.failDispatch(ctx, job, err)
		return nil, &entity.DomainError{
			Code: entity.CodeDispatchFailed, Message: "failed to dispatch job", Err: err, Retryable: true,
		}
	}

	if _, err := s.store.SetTaskHandle(ctx, job.ID, job.AttemptID, handle); err != nil {
		s.logger.Warn("failed to record task handle", "job_id", job.ID, "error", err)
	}
	if _, err := s.store.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusPending}, entity.StatusQueued, nil); err != nil {
		s.logger.Warn("failed to mark job queued", "job_id", job.ID, "error", err)
	} else {
		job.Status = entity.StatusQueued
	}
	job.TaskHandle = &handle

	s.logger.Info("job created",
		"job_id", job.ID, "platform", job.Platform, "mode", job.SelectionMode)
	s.metrics.RecordSuccess("job_create")
	return job, nil
}

// Get loads a job scoped to its owner.
func (s *Service) Get(ctx context.Context, id, ownerKey string) (*entity.Job, error) {
	return s.store.GetOwned(ctx, id, ownerKey)
}

// List returns a page of the owner's jobs.
func (s *Service) List(ctx context.Context, filter repository.ListFilter) ([]*entity.Job, int, error) {
	return s.store.List(ctx, filter)
}

// Cancel revokes the job's task and moves it to cancelled. Cancelling an
// already terminal job is an error; cancelling twice is idempotent only in
// the sense that the second call reports ErrAlreadyTerminal.
func (s *Service) Cancel(ctx context.Context, id, ownerKey string) (*entity.Job, error) {
	job, err := s.store.GetOwned(ctx, id, ownerKey)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, entity.ErrAlreadyTerminal
	}

	// Revoke first so a worker that picks the task up between here and the
	// transition below drops it at its next checkpoint.
	if job.TaskHandle != nil {
		if err := s.dispatcher.Cancel(ctx, *job.TaskHandle); err != nil {
			s.logger.Warn("task revoke failed", "job_id", job.ID, "error", err)
		}
	}

	applied, err := s.store.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusPending, entity.StatusQueued, entity.StatusDownloading, entity.StatusProcessing},
		entity.StatusCancelled,
		map[string]interface{}{"completed_at": time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race against a terminal transition.
		return nil, entity.ErrAlreadyTerminal
	}

	job.Status = entity.StatusCancelled
	s.logger.Info("job cancelled", "job_id", job.ID)
	s.metrics.RecordSuccess("job_cancel")
	return job, nil
}

// Retry re-dispatches a failed job under a fresh attempt id. Only failed jobs
// are retryable.
func (s *Service) Retry(ctx context.Context, id, ownerKey string) (*entity.Job, error) {
	job, err := s.store.GetOwned(ctx, id, ownerKey)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.StatusFailed {
		return nil, entity.ErrNotFailed
	}

	attemptID := uuid.NewString()
	applied, err := s.store.MarkRetry(ctx, job.ID, attemptID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, entity.ErrNotFailed
	}

	handle, err := s.dispatcher.Enqueue(ctx, s.opts.DownloadQueue, dispatch.FetchTask{
		JobID:         job.ID,
		AttemptID:     attemptID,
		URL:           job.URL,
		Platform:      job.Platform,
		SelectionMode: job.SelectionMode,
	})
	if err != nil {
		s.failDispatch(ctx, job, err)
		return nil, &entity.DomainError{
			Code: entity.CodeDispatchFailed, Message: "failed to dispatch retry", Err: err, Retryable: true,
		}
	}

	if _, err := s.store.SetTaskHandle(ctx, job.ID, attemptID, handle); err != nil {
		s.logger.Warn("failed to record task handle", "job_id", job.ID, "error", err)
	}
	if _, err := s.store.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusPending}, entity.StatusQueued, nil); err != nil {
		s.logger.Warn("failed to mark retry queued", "job_id", job.ID, "error", err)
	}

	job.Status = entity.StatusQueued
	job.AttemptID = attemptID
	job.TaskHandle = &handle
	job.RetryCount++
	job.ErrorMessage = nil

	s.logger.Info("job retried", "job_id", job.ID, "retry_count", job.RetryCount)
	s.metrics.RecordSuccess("job_retry")
	return job, nil
}

// failDispatch settles a job whose enqueue never reached the broker. The
// caller receives the dispatch error synchronously, so no webhook fires here;
// the notifier only covers terminal outcomes of accepted executions.
func (s *Service) failDispatch(ctx context.Context, job *entity.Job, cause error) {
	_, err := s.store.Transition(ctx, job.ID,
		[]entity.JobStatus{entity.StatusPending}, entity.StatusFailed,
		map[string]interface{}{
			"error_message": fmt.Sprintf("%s: %v", entity.CodeDispatchFailed, cause),
			"completed_at":  time.Now().UTC(),
		})
	if err != nil {
		s.logger.Error("failed to record dispatch failure", "job_id", job.ID, "error", err)
	}
	s.metrics.RecordError("job_dispatch", entity.CodeDispatchFailed)
}
