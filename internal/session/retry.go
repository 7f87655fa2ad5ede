package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"call-platform/internal/calls"
)

// RetryConfig bounds how often a status write is retried.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0 - 1.0
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		c.JitterFactor = d.JitterFactor
	}
	return c
}

// retryable reports whether err may succeed on a second attempt. Argument
// errors and a missing record will not.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, calls.ErrNotFound):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// withRetry runs fn until it succeeds, returns a permanent error, ctx ends or
// the attempts run out. onRetry is called before every sleep.
func withRetry(ctx context.Context, cfg RetryConfig, log *slog.Logger, op string, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	cfg = cfg.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retry", "operation", op, "attempt", attempt)
			}
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		delay := calculateDelay(attempt, cfg)
		log.Warn("operation failed, retrying", "operation", op, "attempt", attempt, "delay_ms", delay.Milliseconds(), "err", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}

func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		jitter := delay * cfg.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
