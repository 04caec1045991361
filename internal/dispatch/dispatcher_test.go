package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

type fakePublisher struct {
	queue string
	body  []byte
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, queue string, body []byte) error {
	f.queue = queue
	f.body = body
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

type memBackend struct {
	states     map[string]TaskState
	revoked    map[string]bool
	deliveries map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{
		states:     make(map[string]TaskState),
		revoked:    make(map[string]bool),
		deliveries: make(map[string]int),
	}
}

func (m *memBackend) SetState(_ context.Context, handle string, state TaskState) error {
	m.states[handle] = state
	return nil
}

func (m *memBackend) GetState(_ context.Context, handle string) (TaskState, error) {
	if s, ok := m.states[handle]; ok {
		return s, nil
	}
	return TaskPending, nil
}

func (m *memBackend) Revoke(_ context.Context, handle string) error {
	m.revoked[handle] = true
	m.states[handle] = TaskRevoked
	return nil
}

func (m *memBackend) IsRevoked(_ context.Context, handle string) (bool, error) {
	return m.revoked[handle], nil
}

func (m *memBackend) IncrDeliveries(_ context.Context, handle string) (int, error) {
	m.deliveries[handle]++
	return m.deliveries[handle], nil
}

func TestDispatcher_Enqueue(t *testing.T) {
	t.Run("publishes an envelope and records pending state", func(t *testing.T) {
		pub := &fakePublisher{}
		backend := newMemBackend()
		d := NewDispatcher(pub, backend, NopRateLimiter{}, observability.NopLogger{})

		task := FetchTask{
			JobID:         "job-1",
			AttemptID:     "attempt-1",
			URL:           "https://example.com/watch?v=x",
			Platform:      entity.PlatformYouTube,
			SelectionMode: entity.SelectionSingle,
		}

		handle, err := d.Enqueue(context.Background(), "downloads", task)
		require.NoError(t, err)
		require.NotEmpty(t, handle)

		assert.Equal(t, "downloads", pub.queue)
		assert.Equal(t, TaskPending, backend.states[handle])

		env, err := DecodeEnvelope(pub.body)
		require.NoError(t, err)
		assert.Equal(t, handle, env.Handle)

		var decoded FetchTask
		require.NoError(t, json.Unmarshal(env.Payload, &decoded))
		assert.Equal(t, task, decoded)
	})

	t.Run("publish failure surfaces", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("broker down")}
		d := NewDispatcher(pub, newMemBackend(), NopRateLimiter{}, observability.NopLogger{})

		_, err := d.Enqueue(context.Background(), "downloads", FetchTask{JobID: "job-1"})
		assert.Error(t, err)
	})
}

func TestDispatcher_Cancel(t *testing.T) {
	backend := newMemBackend()
	d := NewDispatcher(&fakePublisher{}, backend, NopRateLimiter{}, observability.NopLogger{})

	handle, err := d.Enqueue(context.Background(), "downloads", FetchTask{JobID: "job-1"})
	require.NoError(t, err)

	require.NoError(t, d.Cancel(context.Background(), handle))

	state, err := d.PollState(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, TaskRevoked, state)

	revoked, err := backend.IsRevoked(context.Background(), handle)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("rejects garbage", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("rejects missing handle", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"payload":{}}`))
		assert.Error(t, err)
	})
}
