// Package dispatch owns task queueing: it publishes units of work onto named
// queues, tracks their execution state, and carries the cancellation and
// rate-limit policy. It knows nothing about job semantics; transitioning a
// cancelled job is the caller's responsibility.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// Dispatcher enqueues units of work and manages their execution handles.
type Dispatcher struct {
	publisher Publisher
	backend   Backend
	limiter   RateLimiter
	logger    observability.Logger
}

// NewDispatcher wires a publisher, a state backend and a rate limiter.
func NewDispatcher(publisher Publisher, backend Backend, limiter RateLimiter, logger observability.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		backend:   backend,
		limiter:   limiter,
		logger:    logger.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Enqueue publishes a payload onto the named queue and returns a fresh
// execution handle. It blocks while the queue's per-minute admission window
// is full.
func (d *Dispatcher) Enqueue(ctx context.Context, queue string, payload interface{}) (string, error) {
	if err := d.limiter.Acquire(ctx, queue); err != nil {
		return "", fmt.Errorf("admission throttled for queue %s: %w", queue, err)
	}

	handle := uuid.NewString()

	body, err := json.Marshal(envelope{Handle: handle, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}

	if err := d.backend.SetState(ctx, handle, TaskPending); err != nil {
		return "", err
	}

	if err := d.publisher.Publish(ctx, queue, body); err != nil {
		return "", err
	}

	d.logger.Info("task enqueued", "queue", queue, "handle", handle)
	return handle, nil
}

// Cancel asks for best-effort termination of the execution behind the handle.
// A running worker observes the revoke flag at its next checkpoint; a not yet
// consumed unit is dropped when a worker picks it up.
func (d *Dispatcher) Cancel(ctx context.Context, handle string) error {
	if err := d.backend.Revoke(ctx, handle); err != nil {
		return fmt.Errorf("failed to revoke task %s: %w", handle, err)
	}
	d.logger.Info("task revoked", "handle", handle)
	return nil
}

// PollState reports the dispatcher's view of the execution.
func (d *Dispatcher) PollState(ctx context.Context, handle string) (TaskState, error) {
	return d.backend.GetState(ctx, handle)
}

// envelope wraps every queued payload with its execution handle so the
// consumer can correlate delivery, state and revoke flags.
type envelope struct {
	Handle  string      `json:"handle"`
	Payload interface{} `json:"payload"`
}

// Envelope is the consumer-side view of a queued message.
type Envelope struct {
	Handle  string          `json:"handle"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses a raw delivery body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode task envelope: %w", err)
	}
	if env.Handle == "" {
		return nil, fmt.Errorf("task envelope missing handle")
	}
	return &env, nil
}
