package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-platform/internal/calls"
	"call-platform/pkg/logger"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	retries := 0
	err := withRetry(context.Background(), fastRetry(), logger.Discard(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, func(int, error) { retries++ })

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	n := 0
	err := withRetry(context.Background(), fastRetry(), logger.Discard(), "op", func(context.Context) error {
		n++
		return calls.ErrInvalidArgument
	}, nil)

	assert.ErrorIs(t, err, calls.ErrInvalidArgument)
	assert.Equal(t, 1, n)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	n := 0
	err := withRetry(context.Background(), fastRetry(), logger.Discard(), "op", func(context.Context) error {
		n++
		return boom
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, n)
}

func TestWithRetry_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, fastRetry(), logger.Discard(), "op", func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay_Bounded(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(2, cfg))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(5, cfg))

	cfg.JitterFactor = 0.5
	for i := 0; i < 20; i++ {
		d := calculateDelay(1, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
