package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/tharpep/knowledge-base/internal/upstream"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// RetryConfig configures exponential backoff for transient download and
// embedding failures
type RetryConfig struct {
	MaxAttempts int           // Total attempts including the first (default 3)
	BaseDelay   time.Duration // Delay before the second attempt (default 500ms)
	MaxDelay    time.Duration // Cap on the delay (default 10s)
	Multiplier  float64       // Growth per attempt (default 2)
}

// DefaultRetryConfig returns the retry policy used when none is configured
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// retryable reports whether another attempt could succeed
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, upstream.ErrNotFound):
		return false
	case errors.Is(err, types.ErrInvalidRequest):
		return false
	}
	return true
}

// retryWithBackoff runs fn until it succeeds, returns a permanent error,
// the attempts run out or ctx is done
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}

		if attempt < cfg.MaxAttempts-1 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if backoff > cfg.MaxDelay {
				backoff = cfg.MaxDelay
			}
		}
	}

	return zero, lastErr
}
