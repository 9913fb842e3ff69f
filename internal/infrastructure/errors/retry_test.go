package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestWithRetry_SucceedsAfterBusy(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return NewRepositoryError("op", errors.New("locked"), ErrCodeBusy)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		return NewRepositoryError("op", errors.New("dup"), ErrCodeDuplicate)
	})

	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_PlainErrorNotRetried(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("plain")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetryContext(context.Background(), fastConfig(), func() error {
		calls++
		return NewRepositoryError("op", errors.New("timeout"), ErrCodeTimeout)
	}, "SaveInterval")

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "SaveInterval")
	assert.True(t, IsTimeout(err))
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	calls := 0
	err := WithRetry(ctx, cfg, func() error {
		calls++
		cancel()
		return NewRepositoryError("op", errors.New("busy"), ErrCodeBusy)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, BackoffFactor: 2}

	assert.Equal(t, 10*time.Millisecond, calculateDelay(0, cfg))
	assert.Equal(t, 20*time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 35*time.Millisecond, calculateDelay(2, cfg))

	cfg.Jitter = true
	d := calculateDelay(0, cfg)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Less(t, d, 13*time.Millisecond)
}
