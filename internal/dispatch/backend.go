package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskState mirrors the dispatcher's view of one execution handle.
type TaskState string

const (
	TaskPending  TaskState = "pending"
	TaskRunning  TaskState = "running"
	TaskFinished TaskState = "finished"
	TaskRevoked  TaskState = "revoked"
)

// stateTTL bounds how long execution state survives after the task settles.
const stateTTL = 24 * time.Hour

// Backend stores execution state keyed by handle. The worker consults it for
// revoke flags and delivery counts; the query surface polls it for state.
type Backend interface {
	SetState(ctx context.Context, handle string, state TaskState) error
	GetState(ctx context.Context, handle string) (TaskState, error)
	Revoke(ctx context.Context, handle string) error
	IsRevoked(ctx context.Context, handle string) (bool, error)
	IncrDeliveries(ctx context.Context, handle string) (int, error)
}

// RedisBackend implements Backend on Redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func stateKey(handle string) string    { return "task_state:" + handle }
func revokedKey(handle string) string  { return "task_revoked:" + handle }
func deliveryKey(handle string) string { return "task_deliveries:" + handle }

func (b *RedisBackend) SetState(ctx context.Context, handle string, state TaskState) error {
	return b.client.Set(ctx, stateKey(handle), string(state), stateTTL).Err()
}

func (b *RedisBackend) GetState(ctx context.Context, handle string) (TaskState, error) {
	val, err := b.client.Get(ctx, stateKey(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return TaskPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read task state: %w", err)
	}
	return TaskState(val), nil
}

func (b *RedisBackend) Revoke(ctx context.Context, handle string) error {
	if err := b.client.Set(ctx, revokedKey(handle), "1", stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set revoke flag: %w", err)
	}
	return b.SetState(ctx, handle, TaskRevoked)
}

func (b *RedisBackend) IsRevoked(ctx context.Context, handle string) (bool, error) {
	_, err := b.client.Get(ctx, revokedKey(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read revoke flag: %w", err)
	}
	return true, nil
}

func (b *RedisBackend) IncrDeliveries(ctx context.Context, handle string) (int, error) {
	count, err := b.client.Incr(ctx, deliveryKey(handle)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count delivery: %w", err)
	}
	if count == 1 {
		b.client.Expire(ctx, deliveryKey(handle), stateTTL)
	}
	return int(count), nil
}
