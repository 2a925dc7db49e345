// Package retry implements the backoff policy for provider calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 1 * time.Second
)

// Option configures a Do call.
type Option func(*config)

type config struct {
	maxRetries int
	baseWait   time.Duration
}

// WithMaxRetries sets the attempt limit.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the first backoff interval.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// APIError is implemented by provider errors that carry an HTTP status.
type APIError interface {
	error
	StatusCode() int
}

// Do runs f with exponential backoff and jitter. Non-retryable API errors
// return immediately.
func Do(ctx context.Context, f func() error, opts ...Option) error {
	cfg := config{maxRetries: DefaultMaxRetries, baseWait: DefaultBaseWait}
	for _, opt := range opts {
		opt(&cfg)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(cfg.baseWait) * math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
		err := f()
		if err == nil {
			return nil
		}
		lastErr = err
		if apiErr, ok := err.(APIError); ok && !ShouldRetry(apiErr.StatusCode()) {
			return err
		}
	}
	return lastErr
}

// ShouldRetry reports whether an HTTP status warrants another attempt.
func ShouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
