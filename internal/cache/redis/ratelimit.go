package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a fixed-window counter per key. The window resets by
// key expiry, not by sliding computation, so the counter may briefly over- or
// under-count under high concurrency. That is acceptable for this limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a fixed-window rate limiter.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow increments the counter for key and reports whether the request fits
// in the current window. The expiry is set when the window opens.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit increment failed: %w", err)
	}

	if count == 1 {
		if expireErr := l.client.Expire(ctx, key, l.window).Err(); expireErr != nil {
			return false, fmt.Errorf("rate limit expire failed: %w", expireErr)
		}
	}

	return count <= int64(l.limit), nil
}
