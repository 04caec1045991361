package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqarahm3d/qoqnuzmedia/internal/dispatch"
	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/notify"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
	"github.com/waqarahm3d/qoqnuzmedia/internal/platform"
	"github.com/waqarahm3d/qoqnuzmedia/internal/progress"
	"github.com/waqarahm3d/qoqnuzmedia/internal/quota"
)

type fakeJobStore struct {
	mu  sync.Mutex
	job *entity.Job

	errorMessage string
	total        int
	completed    int
	failed       int
	taskHandle   string
	metadataSet  bool
}

func (s *fakeJobStore) GetByID(_ context.Context, id string) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.ID != id {
		return nil, entity.ErrJobNotFound
	}
	copy := *s.job
	return &copy, nil
}

func (s *fakeJobStore) Transition(_ context.Context, id string, from []entity.JobStatus, to entity.JobStatus, set map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.ID != id {
		return false, nil
	}
	for _, f := range from {
		if s.job.Status == f {
			s.job.Status = to
			if msg, ok := set["error_message"].(string); ok {
				s.errorMessage = msg
			}
			if p, ok := set["progress_percent"].(float64); ok {
				s.job.ProgressPercent = p
			}
			return true, nil
		}
	}
	return false, nil
}

// liveLocked mirrors the repository fence: a write only lands while the job
// is still executing under the same attempt. Callers hold the mutex.
func (s *fakeJobStore) liveLocked(id, attemptID string) bool {
	return s.job != nil && s.job.ID == id &&
		s.job.AttemptID == attemptID && !s.job.Status.IsTerminal()
}

func (s *fakeJobStore) SetMetadata(_ context.Context, id, attemptID string, _, _, _ *string, _ int, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(id, attemptID) {
		return false, nil
	}
	s.metadataSet = true
	return true, nil
}

func (s *fakeJobStore) SetItemCounts(_ context.Context, id, attemptID string, total, completed, failed int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(id, attemptID) {
		return false, nil
	}
	s.total, s.completed, s.failed = total, completed, failed
	return true, nil
}

func (s *fakeJobStore) SetTaskHandle(_ context.Context, id, attemptID, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(id, attemptID) {
		return false, nil
	}
	s.taskHandle = handle
	return true, nil
}

func (s *fakeJobStore) status() entity.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status
}

func (s *fakeJobStore) setStatus(status entity.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = status
}

func (s *fakeJobStore) metadataRecorded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataSet
}

func (s *fakeJobStore) errMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

type fakeTrackStore struct {
	mu     sync.Mutex
	jobs   *fakeJobStore
	tracks []*entity.Track
}

func (s *fakeTrackStore) Create(_ context.Context, track *entity.Track, attemptID string) (bool, error) {
	s.jobs.mu.Lock()
	live := s.jobs.liveLocked(track.JobID, attemptID)
	s.jobs.mu.Unlock()
	if !live {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
	return true, nil
}

func (s *fakeTrackStore) FindByHash(context.Context, string) ([]*entity.Track, error) {
	return nil, nil
}

type fakeReporter struct {
	mu      sync.Mutex
	updates []progress.Update
}

func (r *fakeReporter) Report(_ context.Context, u progress.Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return true, nil
}

type fakeAdmitter struct {
	decision quota.Decision
}

func (a *fakeAdmitter) Admit() (quota.Decision, error) { return a.decision, nil }
func (a *fakeAdmitter) Invalidate()                    {}

type fakeEnqueuer struct {
	mu      sync.Mutex
	queue   string
	payload interface{}
	err     error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, queue string, payload interface{}) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.queue = queue
	e.payload = payload
	return "next-handle", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification)
	return nil
}

func (n *fakeNotifier) byEvent(event notify.Event) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, e := range n.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type memBackend struct {
	mu         sync.Mutex
	states     map[string]dispatch.TaskState
	revoked    map[string]bool
	deliveries map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{
		states:     make(map[string]dispatch.TaskState),
		revoked:    make(map[string]bool),
		deliveries: make(map[string]int),
	}
}

func (m *memBackend) SetState(_ context.Context, handle string, state dispatch.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[handle] = state
	return nil
}

func (m *memBackend) GetState(_ context.Context, handle string) (dispatch.TaskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[handle], nil
}

func (m *memBackend) Revoke(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[handle] = true
	return nil
}

func (m *memBackend) IsRevoked(_ context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[handle], nil
}

func (m *memBackend) IncrDeliveries(_ context.Context, handle string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[handle]++
	return m.deliveries[handle], nil
}

type fakeFetcher struct {
	meta    *platform.Metadata
	results []platform.FetchResult
	err     error
	// sleep simulates a slow fetch; honourCtx controls whether it reacts to
	// cancellation. extractSleep stalls extraction without watching the
	// context at all.
	sleep        time.Duration
	honourCtx    bool
	extractSleep time.Duration
}

func (f *fakeFetcher) Validate(string) bool { return true }

func (f *fakeFetcher) ExtractInfo(context.Context, string, entity.SelectionMode) (*platform.Metadata, error) {
	if f.extractSleep > 0 {
		time.Sleep(f.extractSleep)
	}
	if f.meta == nil {
		return &platform.Metadata{Title: "t", ItemCount: len(f.results)}, nil
	}
	return f.meta, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, _, _ string, _ entity.SelectionMode, progressFn platform.ProgressFunc) ([]platform.FetchResult, error) {
	if f.sleep > 0 {
		if f.honourCtx {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.sleep):
			}
		} else {
			time.Sleep(f.sleep)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if progressFn != nil {
		progressFn(100)
	}
	return f.results, nil
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	// failEvery makes every nth call fail, 0 never fails, -1 always fails.
	failEvery int
	// onProcess, when set, runs once per call before the result is produced.
	onProcess func()
}

func (p *fakeProcessor) Process(_ context.Context, filePath string, snapshot entity.ProcessingSnapshot) (*platform.ProcessResult, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	if p.onProcess != nil {
		p.onProcess()
	}

	if p.failEvery == -1 || (p.failEvery > 0 && n%p.failEvery == 0) {
		return nil, errors.New("codec blew up")
	}
	return &platform.ProcessResult{
		OutputPath: filePath,
		SizeBytes:  100,
		Normalized: snapshot.NormalizeAudio,
	}, nil
}

type runnerEnv struct {
	jobs     *fakeJobStore
	tracks   *fakeTrackStore
	reporter *fakeReporter
	admitter *fakeAdmitter
	enqueuer *fakeEnqueuer
	backend  *memBackend
	notifier *fakeNotifier
	runner   *Runner
}

func newRunnerEnv(t *testing.T, job *entity.Job, fetcher platform.Fetcher, processor platform.Processor, opts RunnerOptions) *runnerEnv {
	t.Helper()
	if opts.ProcessingQueue == "" {
		opts.ProcessingQueue = "processing"
	}
	if opts.DownloadRoot == "" {
		opts.DownloadRoot = t.TempDir()
	}
	if opts.SoftTimeLimit == 0 {
		opts.SoftTimeLimit = time.Minute
	}
	if opts.HardTimeGrace == 0 {
		opts.HardTimeGrace = time.Minute
	}

	if processor == nil {
		processor = &fakeProcessor{}
	}
	registry := platform.NewRegistry(processor)
	if fetcher != nil {
		registry.Register(entity.PlatformYouTube, fetcher)
	}

	jobStore := &fakeJobStore{job: job}
	env := &runnerEnv{
		jobs:     jobStore,
		tracks:   &fakeTrackStore{jobs: jobStore},
		reporter: &fakeReporter{},
		admitter: &fakeAdmitter{decision: quota.Decision{Allowed: true}},
		enqueuer: &fakeEnqueuer{},
		backend:  newMemBackend(),
		notifier: &fakeNotifier{},
	}
	env.runner = NewRunner(
		env.jobs, env.tracks, env.reporter, env.admitter, registry,
		env.enqueuer, env.backend, env.notifier, opts,
		observability.NopLogger{}, observability.NopMetrics{},
	)
	return env
}

func queuedJob() *entity.Job {
	job := entity.NewJob(entity.PlatformYouTube, entity.SelectionSingle,
		"https://youtube.com/watch?v=x", "owner", entity.ProcessingSnapshot{AudioFormat: "mp3"})
	job.Status = entity.StatusQueued
	return job
}

func TestRunner_RunFetch(t *testing.T) {
	t.Run("happy path dispatches processing", func(t *testing.T) {
		job := queuedJob()
		fetcher := &fakeFetcher{results: []platform.FetchResult{
			{SourceURL: "u1", FilePath: "/tmp/a.mp3", Title: "a"},
			{SourceURL: "u2", FilePath: "/tmp/b.mp3", Title: "b"},
		}}
		env := newRunnerEnv(t, job, fetcher, nil, RunnerOptions{})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, URL: job.URL,
			Platform: job.Platform, SelectionMode: job.SelectionMode,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusDownloading, env.jobs.status())
		assert.True(t, env.jobs.metadataSet)
		assert.Equal(t, "next-handle", env.jobs.taskHandle)
		assert.Equal(t, "processing", env.enqueuer.queue)

		pt, ok := env.enqueuer.payload.(dispatch.ProcessTask)
		require.True(t, ok)
		assert.Equal(t, job.ID, pt.JobID)
		assert.Equal(t, job.AttemptID, pt.AttemptID)
		assert.Len(t, pt.Items, 2)
		assert.Zero(t, pt.FailedItems)

		state, _ := env.backend.GetState(context.Background(), "h1")
		assert.Equal(t, dispatch.TaskFinished, state)

		// Fetch progress lands in the first half of the overall range.
		require.NotEmpty(t, env.reporter.updates)
		last := env.reporter.updates[len(env.reporter.updates)-1]
		assert.Equal(t, progress.PhaseDownloading, last.Phase)
		assert.Equal(t, float64(50), last.Percent)
	})

	t.Run("delivery ahead of the queued mark still runs", func(t *testing.T) {
		// The broker can hand the fetch task to a worker before the creator
		// records the queued state; the job must not be orphaned for it.
		job := queuedJob()
		job.Status = entity.StatusPending
		fetcher := &fakeFetcher{results: []platform.FetchResult{
			{SourceURL: "u1", FilePath: "/tmp/a.mp3", Title: "a"},
		}}
		env := newRunnerEnv(t, job, fetcher, nil, RunnerOptions{})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, URL: job.URL,
			Platform: job.Platform, SelectionMode: job.SelectionMode,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusDownloading, env.jobs.status())
		assert.Equal(t, "processing", env.enqueuer.queue)
	})

	t.Run("quota recheck fails the job before fetching", func(t *testing.T) {
		job := queuedJob()
		env := newRunnerEnv(t, job, &fakeFetcher{}, nil, RunnerOptions{})
		env.admitter.decision = quota.Decision{Allowed: false, UsedBytes: 900, LimitBytes: 800}

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusFailed, env.jobs.status())
		assert.Contains(t, env.jobs.errorMessage, "quota")
		assert.Empty(t, env.enqueuer.queue)
		assert.Len(t, env.notifier.byEvent(notify.EventFailed), 1)
	})

	t.Run("stale attempt delivery is dropped", func(t *testing.T) {
		job := queuedJob()
		env := newRunnerEnv(t, job, &fakeFetcher{}, nil, RunnerOptions{})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: "someone-elses-attempt", Platform: job.Platform,
		})
		require.NoError(t, err)
		assert.Equal(t, entity.StatusQueued, env.jobs.status())
		assert.Empty(t, env.notifier.events)
	})

	t.Run("cancelled job delivery is dropped", func(t *testing.T) {
		job := queuedJob()
		job.Status = entity.StatusCancelled
		env := newRunnerEnv(t, job, &fakeFetcher{}, nil, RunnerOptions{})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)
		assert.Equal(t, entity.StatusCancelled, env.jobs.status())
		assert.Empty(t, env.notifier.events)
	})

	t.Run("revoked handle is dropped", func(t *testing.T) {
		job := queuedJob()
		env := newRunnerEnv(t, job, &fakeFetcher{}, nil, RunnerOptions{})
		require.NoError(t, env.backend.Revoke(context.Background(), "h1"))

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)
		assert.Equal(t, entity.StatusQueued, env.jobs.status())
	})

	t.Run("fetch failure settles the job as failed", func(t *testing.T) {
		job := queuedJob()
		env := newRunnerEnv(t, job, &fakeFetcher{err: errors.New("extractor exploded")}, nil, RunnerOptions{})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusFailed, env.jobs.status())
		assert.Contains(t, env.jobs.errorMessage, "fetch phase failed")
		assert.Len(t, env.notifier.byEvent(notify.EventFailed), 1)
	})

	t.Run("soft time limit cancels a cooperative fetch", func(t *testing.T) {
		job := queuedJob()
		fetcher := &fakeFetcher{sleep: time.Second, honourCtx: true}
		env := newRunnerEnv(t, job, fetcher, nil, RunnerOptions{
			SoftTimeLimit: 30 * time.Millisecond,
			HardTimeGrace: time.Second,
		})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusFailed, env.jobs.status())
		assert.Contains(t, env.jobs.errorMessage, "TIMEOUT")
		assert.Len(t, env.notifier.byEvent(notify.EventFailed), 1)
	})

	t.Run("hard time limit abandons a stuck fetch", func(t *testing.T) {
		job := queuedJob()
		fetcher := &fakeFetcher{sleep: 500 * time.Millisecond, honourCtx: false}
		env := newRunnerEnv(t, job, fetcher, nil, RunnerOptions{
			SoftTimeLimit: 20 * time.Millisecond,
			HardTimeGrace: 30 * time.Millisecond,
		})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusFailed, env.jobs.status())
		assert.Contains(t, env.jobs.errorMessage, "hard time limit")
		assert.Len(t, env.notifier.byEvent(notify.EventFailed), 1)
	})

	t.Run("abandoned fetch cannot write to a settled job", func(t *testing.T) {
		job := queuedJob()
		fetcher := &fakeFetcher{
			extractSleep: 150 * time.Millisecond,
			results:      []platform.FetchResult{{SourceURL: "u1", FilePath: "/tmp/a.mp3"}},
		}
		env := newRunnerEnv(t, job, fetcher, nil, RunnerOptions{
			SoftTimeLimit: 20 * time.Millisecond,
			HardTimeGrace: 30 * time.Millisecond,
		})

		err := env.runner.RunFetch(context.Background(), "h1", dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusFailed, env.jobs.status())
		assert.Contains(t, env.jobs.errMessage(), "hard time limit")

		// Give the abandoned goroutine time to finish its stalled extraction
		// and attempt its writes; the fences must reject every one of them.
		time.Sleep(300 * time.Millisecond)
		assert.False(t, env.jobs.metadataRecorded(),
			"a job settled as failed must not receive late metadata")
		assert.Equal(t, entity.StatusFailed, env.jobs.status())
	})
}

func downloadingJob() *entity.Job {
	job := queuedJob()
	job.Status = entity.StatusDownloading
	return job
}

func processItems(n int) []dispatch.FetchedItem {
	items := make([]dispatch.FetchedItem, n)
	for i := range items {
		items[i] = dispatch.FetchedItem{
			SourceURL: "https://youtube.com/watch?v=x",
			FilePath:  "/tmp/item.mp3",
		}
	}
	return items
}

func TestRunner_RunProcess(t *testing.T) {
	t.Run("partial success completes with tallies", func(t *testing.T) {
		job := downloadingJob()
		// Every second item fails: of 5 items, 2 fail and 3 survive.
		env := newRunnerEnv(t, job, nil, &fakeProcessor{failEvery: 2}, RunnerOptions{})

		err := env.runner.RunProcess(context.Background(), "h2", dispatch.ProcessTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
			OutputDir: "/out", Items: processItems(5),
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusCompleted, env.jobs.status())
		assert.Equal(t, 5, env.jobs.total)
		assert.Equal(t, 3, env.jobs.completed)
		assert.Equal(t, 2, env.jobs.failed)
		assert.Equal(t, float64(100), env.jobs.job.ProgressPercent)
		assert.Len(t, env.tracks.tracks, 3)

		completions := env.notifier.byEvent(notify.EventCompleted)
		require.Len(t, completions, 1)
		assert.Equal(t, 3, completions[0].Data["completed_items"])
		assert.Equal(t, 2, completions[0].Data["failed_items"])
		assert.Empty(t, env.notifier.byEvent(notify.EventFailed))
	})

	t.Run("zero surviving items still completes with tallies", func(t *testing.T) {
		job := downloadingJob()
		env := newRunnerEnv(t, job, nil, &fakeProcessor{failEvery: -1}, RunnerOptions{})

		err := env.runner.RunProcess(context.Background(), "h2", dispatch.ProcessTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
			Items: processItems(3),
		})
		require.NoError(t, err)

		// The loop produced a final tally, so the outcome is a completion
		// with zero survivors, not a job-level failure.
		assert.Equal(t, entity.StatusCompleted, env.jobs.status())
		assert.Equal(t, 3, env.jobs.total)
		assert.Equal(t, 0, env.jobs.completed)
		assert.Equal(t, 3, env.jobs.failed)
		assert.Empty(t, env.tracks.tracks)

		completions := env.notifier.byEvent(notify.EventCompleted)
		require.Len(t, completions, 1)
		assert.Equal(t, 0, completions[0].Data["completed_items"])
		assert.Equal(t, 3, completions[0].Data["failed_items"])
		assert.Empty(t, env.notifier.byEvent(notify.EventFailed))
	})

	t.Run("a job settled mid-run keeps no late artifacts", func(t *testing.T) {
		job := downloadingJob()
		proc := &fakeProcessor{}
		env := newRunnerEnv(t, job, nil, proc, RunnerOptions{})
		// Settle the job between the claim and the first track write.
		proc.onProcess = func() { env.jobs.setStatus(entity.StatusCancelled) }

		err := env.runner.RunProcess(context.Background(), "h2", dispatch.ProcessTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
			Items: processItems(2),
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusCancelled, env.jobs.status())
		assert.Empty(t, env.tracks.tracks)
		assert.Empty(t, env.notifier.events)
	})

	t.Run("fetch-phase failures carry into the tallies", func(t *testing.T) {
		job := downloadingJob()
		env := newRunnerEnv(t, job, nil, &fakeProcessor{}, RunnerOptions{})

		err := env.runner.RunProcess(context.Background(), "h2", dispatch.ProcessTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
			Items: processItems(2), FailedItems: 1,
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusCompleted, env.jobs.status())
		assert.Equal(t, 3, env.jobs.total)
		assert.Equal(t, 2, env.jobs.completed)
		assert.Equal(t, 1, env.jobs.failed)
	})

	t.Run("revocation mid-run leaves the outcome to the canceller", func(t *testing.T) {
		job := downloadingJob()
		env := newRunnerEnv(t, job, nil, &fakeProcessor{}, RunnerOptions{})

		// The cancel flow revokes the handle and moves the job to cancelled;
		// simulate both before the worker reaches its next checkpoint.
		require.NoError(t, env.backend.Revoke(context.Background(), "h2"))
		env.jobs.job.Status = entity.StatusCancelled

		err := env.runner.RunProcess(context.Background(), "h2", dispatch.ProcessTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
			Items: processItems(2),
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusCancelled, env.jobs.status())
		assert.Empty(t, env.notifier.events)
	})
}

func TestHandlers_Decode(t *testing.T) {
	job := queuedJob()
	env := newRunnerEnv(t, job, &fakeFetcher{results: []platform.FetchResult{{SourceURL: "u", FilePath: "/tmp/a"}}}, nil, RunnerOptions{})

	t.Run("fetch handler decodes and runs", func(t *testing.T) {
		payload, err := json.Marshal(dispatch.FetchTask{
			JobID: job.ID, AttemptID: job.AttemptID, Platform: job.Platform,
		})
		require.NoError(t, err)

		h := NewFetchHandler(env.runner)
		require.NoError(t, h.Handle(context.Background(), "h1", payload))
		assert.Equal(t, entity.StatusDownloading, env.jobs.status())
	})

	t.Run("garbage payload errors", func(t *testing.T) {
		h := NewProcessHandler(env.runner)
		assert.Error(t, h.Handle(context.Background(), "h1", []byte("nope")))
	})
}

func TestRunner_FailLost(t *testing.T) {
	job := downloadingJob()
	env := newRunnerEnv(t, job, nil, nil, RunnerOptions{})

	env.runner.FailLost(context.Background(), job.ID)

	assert.Equal(t, entity.StatusFailed, env.jobs.status())
	assert.Contains(t, env.jobs.errorMessage, "worker lost")
	assert.Len(t, env.notifier.byEvent(notify.EventFailed), 1)
}
