package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles the number of units admitted into a queue per minute.
type RateLimiter interface {
	// Acquire blocks until a slot is available in the current window or the
	// context is done.
	Acquire(ctx context.Context, queue string) error
}

// RedisRateLimiter implements a fixed one-minute window with INCR/EXPIRE.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a per-minute limiter. A limit of zero disables
// throttling.
func NewRedisRateLimiter(client *redis.Client, perMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  perMinute,
		window: time.Minute,
	}
}

func (l *RedisRateLimiter) Acquire(ctx context.Context, queue string) error {
	if l.limit <= 0 {
		return nil
	}

	for {
		key := fmt.Sprintf("rl:%s:%d", queue, time.Now().Unix()/int64(l.window.Seconds()))

		count, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("rate limiter unavailable: %w", err)
		}
		if count == 1 {
			l.client.Expire(ctx, key, l.window+time.Second)
		}
		if count <= int64(l.limit) {
			return nil
		}

		// Window is full; wait for the next one or give up with the context.
		wait := l.window - time.Duration(time.Now().UnixNano())%l.window
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// NopRateLimiter admits everything. Used in tests.
type NopRateLimiter struct{}

func (NopRateLimiter) Acquire(context.Context, string) error { return nil }
