// Package retry re-invokes fallible external calls on transient failures with
// exponential backoff.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	dagerrors "github.com/pgainullin/pa-workflow/internal/errors"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Classifier decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	Classifier func(error) bool

	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig is the reference policy: one call plus four retries waiting
// 1s, 2s, 4s and 8s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.Classifier == nil {
		c.Classifier = IsRetryable
	}
	return c
}

// Delay returns the wait before attempt+1 after attempt failed.
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffFactor
		if delay >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if time.Duration(delay) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is done.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !cfg.Classifier(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Err: lastErr}
}

var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"temporary failure",
	"service unavailable",
	"overloaded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"try again",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
}

var permanentMarkers = []string{
	"unauthorized",
	"forbidden",
	"invalid api key",
	"permission denied",
	"validation",
	"invalid request",
	"bad request",
	"not found",
}

// IsRetryable classifies err. Explicit tags win, then HTTP status codes,
// then network conditions and finally well-known message fragments.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if dagerrors.IsPermanent(err) {
		return false
	}
	if dagerrors.IsTransient(err) {
		return true
	}

	var status *dagerrors.StatusError
	if stderrors.As(err, &status) {
		return status.Retryable()
	}

	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
