// Package ratelimit is the token-bucket limiter guarding outbound broker API
// calls. Grounded on original_source/src/engine/brokers/rate_limiter.py's
// blocking acquire(deadline) shape, built on top of golang.org/x/time/rate
// rather than a hand-rolled bucket.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter so a caller that gives up waiting gets back a
// RateLimited error carrying a retry-after, instead of a raw context error.
type Limiter struct {
	rl *rate.Limiter
}

// New constructs a limiter for the default policy named in the concurrency
// model: 200 requests per 60 seconds. The burst equals the full window size
// so a cold start does not immediately throttle.
func New(requestsPerWindow int, window time.Duration) *Limiter {
	r := rate.Limit(float64(requestsPerWindow) / window.Seconds())
	return &Limiter{rl: rate.NewLimiter(r, requestsPerWindow)}
}

// RetryAfterError is returned by Wait when ctx is done before a token frees
// up; RetryAfter estimates how long the caller would still need to wait.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return "ratelimit: exhausted, retry after " + e.RetryAfter.String()
}

// Wait blocks until a token is available or ctx is done, matching the
// concurrency model's "calls block until a token is available or a
// caller-supplied deadline elapses".
func (l *Limiter) Wait(ctx context.Context) error {
	reservation := l.rl.Reserve()
	if !reservation.OK() {
		return &RetryAfterError{RetryAfter: time.Second}
	}
	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return &RetryAfterError{RetryAfter: delay}
	}
}
