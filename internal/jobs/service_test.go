package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
	"github.com/waqarahm3d/qoqnuzmedia/internal/platform"
	"github.com/waqarahm3d/qoqnuzmedia/internal/quota"
	"github.com/waqarahm3d/qoqnuzmedia/internal/repository"
)

type fakeStore struct {
	jobs    map[string]*entity.Job
	created int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*entity.Job)}
}

func (s *fakeStore) Create(_ context.Context, job *entity.Job) error {
	copy := *job
	s.jobs[job.ID] = &copy
	s.created++
	return nil
}

func (s *fakeStore) GetOwned(_ context.Context, id, ownerKey string) (*entity.Job, error) {
	job, ok := s.jobs[id]
	if !ok || job.OwnerKey != ownerKey {
		return nil, entity.ErrJobNotFound
	}
	copy := *job
	return &copy, nil
}

func (s *fakeStore) List(_ context.Context, filter repository.ListFilter) ([]*entity.Job, int, error) {
	var out []*entity.Job
	for _, job := range s.jobs {
		if filter.OwnerKey != "" && job.OwnerKey != filter.OwnerKey {
			continue
		}
		copy := *job
		out = append(out, &copy)
	}
	return out, len(out), nil
}

func (s *fakeStore) Transition(_ context.Context, id string, from []entity.JobStatus, to entity.JobStatus, set map[string]interface{}) (bool, error) {
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if job.Status == f {
			job.Status = to
			if msg, ok := set["error_message"].(string); ok {
				job.ErrorMessage = &msg
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkRetry(_ context.Context, id, newAttemptID string) (bool, error) {
	job, ok := s.jobs[id]
	if !ok || job.Status != entity.StatusFailed {
		return false, nil
	}
	job.Status = entity.StatusPending
	job.AttemptID = newAttemptID
	job.RetryCount++
	job.ErrorMessage = nil
	job.ProgressPercent = 0
	return true, nil
}

func (s *fakeStore) SetTaskHandle(_ context.Context, id, attemptID, handle string) (bool, error) {
	job, ok := s.jobs[id]
	if !ok || job.AttemptID != attemptID || job.Status.IsTerminal() {
		return false, nil
	}
	job.TaskHandle = &handle
	return true, nil
}

type fakeDispatcher struct {
	enqueued  []string
	cancelled []string
	err       error
	nextID    int
}

func (d *fakeDispatcher) Enqueue(_ context.Context, queue string, _ interface{}) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.nextID++
	handle := queue + "-handle"
	d.enqueued = append(d.enqueued, queue)
	return handle, nil
}

func (d *fakeDispatcher) Cancel(_ context.Context, handle string) error {
	d.cancelled = append(d.cancelled, handle)
	return nil
}

type fakeAdmitter struct {
	decision quota.Decision
	err      error
}

func (a *fakeAdmitter) Admit() (quota.Decision, error) { return a.decision, a.err }

type serviceEnv struct {
	store      *fakeStore
	dispatcher *fakeDispatcher
	admitter   *fakeAdmitter
	service    *Service
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	registry := platform.NewRegistry(nil)
	registry.Register(entity.PlatformYouTube,
		platform.NewHTTPFetcher([]string{"youtube.com", "youtu.be"}, observability.NopLogger{}, observability.NopMetrics{}))

	env := &serviceEnv{
		store:      newFakeStore(),
		dispatcher: &fakeDispatcher{},
		admitter:   &fakeAdmitter{decision: quota.Decision{Allowed: true}},
	}
	env.service = NewService(env.store, env.dispatcher, env.admitter, registry,
		Options{DownloadQueue: "downloads", Snapshot: entity.ProcessingSnapshot{AudioFormat: "mp3"}},
		observability.NopLogger{}, observability.NopMetrics{})
	return env
}

func validRequest() CreateRequest {
	return CreateRequest{
		URL:      "https://www.youtube.com/watch?v=abc",
		Platform: "youtube",
		OwnerKey: "owner-1",
	}
}

func TestService_Create(t *testing.T) {
	t.Run("creates, dispatches and queues", func(t *testing.T) {
		env := newServiceEnv(t)

		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)

		assert.Equal(t, entity.StatusQueued, job.Status)
		assert.Equal(t, entity.SelectionSingle, job.SelectionMode)
		assert.Equal(t, "mp3", job.Processing.AudioFormat)
		assert.NotEmpty(t, job.AttemptID)
		require.NotNil(t, job.TaskHandle)
		assert.Equal(t, []string{"downloads"}, env.dispatcher.enqueued)
	})

	t.Run("rejects unknown platform", func(t *testing.T) {
		env := newServiceEnv(t)
		req := validRequest()
		req.Platform = "myspace"

		_, err := env.service.Create(context.Background(), req)
		require.Error(t, err)
		var de *entity.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, entity.CodeValidation, de.Code)
		assert.Zero(t, env.store.created)
	})

	t.Run("rejects url from the wrong platform", func(t *testing.T) {
		env := newServiceEnv(t)
		req := validRequest()
		req.URL = "https://soundcloud.com/artist/track"

		_, err := env.service.Create(context.Background(), req)
		require.Error(t, err)
		assert.Zero(t, env.store.created)
	})

	t.Run("quota rejection leaves no record", func(t *testing.T) {
		env := newServiceEnv(t)
		env.admitter.decision = quota.Decision{Allowed: false, UsedBytes: 10, LimitBytes: 5}

		_, err := env.service.Create(context.Background(), validRequest())
		require.Error(t, err)
		assert.True(t, entity.IsQuotaExceeded(err))
		assert.Zero(t, env.store.created)
		assert.Empty(t, env.dispatcher.enqueued)
	})

	t.Run("dispatch failure keeps the record as failed", func(t *testing.T) {
		env := newServiceEnv(t)
		env.dispatcher.err = errors.New("broker unreachable")

		_, err := env.service.Create(context.Background(), validRequest())
		require.Error(t, err)
		var de *entity.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, entity.CodeDispatchFailed, de.Code)

		require.Equal(t, 1, env.store.created)
		for _, job := range env.store.jobs {
			assert.Equal(t, entity.StatusFailed, job.Status)
		}
	})
}

func TestService_Cancel(t *testing.T) {
	t.Run("revokes and cancels an active job", func(t *testing.T) {
		env := newServiceEnv(t)
		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)

		cancelled, err := env.service.Cancel(context.Background(), job.ID, "owner-1")
		require.NoError(t, err)

		assert.Equal(t, entity.StatusCancelled, cancelled.Status)
		assert.Equal(t, []string{*job.TaskHandle}, env.dispatcher.cancelled)
	})

	t.Run("terminal job cannot be cancelled", func(t *testing.T) {
		env := newServiceEnv(t)
		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)
		env.store.jobs[job.ID].Status = entity.StatusCompleted

		_, err = env.service.Cancel(context.Background(), job.ID, "owner-1")
		assert.ErrorIs(t, err, entity.ErrAlreadyTerminal)
	})

	t.Run("cancel is owner scoped", func(t *testing.T) {
		env := newServiceEnv(t)
		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)

		_, err = env.service.Cancel(context.Background(), job.ID, "someone-else")
		assert.ErrorIs(t, err, entity.ErrJobNotFound)
	})
}

func TestService_Retry(t *testing.T) {
	t.Run("failed job is re-dispatched under a new attempt", func(t *testing.T) {
		env := newServiceEnv(t)
		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)

		originalAttempt := job.AttemptID
		stored := env.store.jobs[job.ID]
		stored.Status = entity.StatusFailed
		msg := "FETCH_FAILURE: it broke"
		stored.ErrorMessage = &msg

		retried, err := env.service.Retry(context.Background(), job.ID, "owner-1")
		require.NoError(t, err)

		assert.Equal(t, entity.StatusQueued, retried.Status)
		assert.NotEqual(t, originalAttempt, retried.AttemptID)
		assert.Equal(t, 1, retried.RetryCount)
		assert.Nil(t, retried.ErrorMessage)
		assert.Equal(t, []string{"downloads", "downloads"}, env.dispatcher.enqueued)
	})

	t.Run("only failed jobs are retryable", func(t *testing.T) {
		env := newServiceEnv(t)
		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)

		_, err = env.service.Retry(context.Background(), job.ID, "owner-1")
		assert.ErrorIs(t, err, entity.ErrNotFailed)
	})

	t.Run("completed jobs are not retryable", func(t *testing.T) {
		env := newServiceEnv(t)
		job, err := env.service.Create(context.Background(), validRequest())
		require.NoError(t, err)
		env.store.jobs[job.ID].Status = entity.StatusCompleted

		_, err = env.service.Retry(context.Background(), job.ID, "owner-1")
		assert.ErrorIs(t, err, entity.ErrNotFailed)
	})
}
