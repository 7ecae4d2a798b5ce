package trackerapi

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig configures RetryDo's backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches §4.1 ("≥3 attempts, initial 500ms–1s,
// doubling, jittered").
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// retryable is implemented by errors that should (or should not) be
// retried regardless of attempt count.
type retryable interface {
	Retryable() bool
}

// RetryDo is a generic retry-with-exponential-backoff helper. It is not
// present in the retrieval pack as a standalone file — it is
// reconstructed here from its call-site usage across the teacher
// (internal/providers/anthropic.go, openai.go, cmd/gateway.go,
// internal/config/config.go all call a RetryDo(ctx, RetryConfig, fn)
// shaped helper) rather than copied from a source file, since the
// file defining it was filtered out of the retrieval pack.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			jittered := delay + time.Duration(rand.Int64N(int64(delay)/5+1))
			timer := time.NewTimer(jittered)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var authErr *AuthError
		if errors.As(err, &authErr) {
			return zero, err // non-retryable per §4.1
		}
		var r retryable
		if errors.As(err, &r) && !r.Retryable() {
			return zero, err
		}
	}

	return zero, &TransientError{Cause: lastErr}
}
