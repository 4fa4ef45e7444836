package rateLimit

import (
	"context"
	"time"
)

type Counter interface {
	IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
}

func NewRateLimiter(counter Counter) *RateLimiter {
	return &RateLimiter{counter: counter}
}

// Allow reports whether key may make another call within the window. Errors
// from the counter fail open so a Redis outage does not take the API down.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.counter.IncrWindow(ctx, "rl:"+key, period)
	if err != nil {
		return true
	}
	return n <= int64(rate)
}
