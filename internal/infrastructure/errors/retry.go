package errors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"tracksync/internal/infrastructure/logging"
)

// RetryConfig controls exponential backoff around store operations
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	Jitter          bool
	RetryableErrors []ErrorCode
}

// DefaultRetryConfig retries busy, connection, timeout and transaction failures three times
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		RetryableErrors: []ErrorCode{
			ErrCodeBusy,
			ErrCodeConnection,
			ErrCodeTimeout,
			ErrCodeTransaction,
		},
	}
}

// RetryableOperation is a unit of work passed to WithRetry
type RetryableOperation func() error

var retryLogger logging.Logger = logging.NewNopLogger()

// SetRetryLogger routes retry diagnostics to logger
func SetRetryLogger(logger logging.Logger) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	retryLogger = logger
}

// WithRetry runs operation until it succeeds, fails permanently or ctx ends
func WithRetry(ctx context.Context, config *RetryConfig, operation RetryableOperation) error {
	return WithRetryContext(ctx, config, operation, "")
}

// WithRetryContext is WithRetry with an operation name for logs and the final error
func WithRetryContext(ctx context.Context, config *RetryConfig, operation RetryableOperation, name string) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := max(config.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				retryLogger.Debug("operation succeeded after retry", "operation", name, "attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, config) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := calculateDelay(attempt, config)
		retryLogger.Warn("operation failed, retrying",
			"operation", name, "attempt", attempt+1, "max_attempts", attempts, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation %q cancelled during retry: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("operation %q failed after %d attempts: %w", name, attempts, lastErr)
}

func shouldRetry(err error, config *RetryConfig) bool {
	var repoErr *RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsRetryable() {
		return false
	}
	return slices.Contains(config.RetryableErrors, repoErr.Code)
}

func calculateDelay(attempt int, config *RetryConfig) time.Duration {
	multiplier := 1.0
	for range attempt {
		multiplier *= config.BackoffFactor
	}
	delay := time.Duration(float64(config.InitialDelay) * multiplier)

	// up to 25% jitter
	if config.Jitter {
		if spread := int64(delay) / 4; spread > 0 {
			delay += time.Duration(rand.Int64N(spread))
		}
	}
	return min(delay, config.MaxDelay)
}
