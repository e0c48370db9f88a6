package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetryPolicy = &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), testRetryPolicy, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	}, func(error) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), testRetryPolicy, func() error {
		attempts++
		return errors.New("fatal")
	}, func(error) bool { return false })
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), testRetryPolicy, func() error {
		attempts++
		return errors.New("flaky")
	}, func(error) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, testRetryPolicy.MaxRetries+1, attempts)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, testRetryPolicy, func() error {
		return errors.New("flaky")
	}, func(error) bool { return true })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffStaysBounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, time.Second, 4*time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
