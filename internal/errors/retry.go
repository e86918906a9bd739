package errors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter is the fraction of the delay to randomize (0.1 = ±10%).
	// Zero disables jitter.
	Jitter float64
}

// DefaultRetryConfig returns sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// applyJitter randomizes delay within ±(Jitter * delay).
func (cfg RetryConfig) applyJitter(delay time.Duration) time.Duration {
	if cfg.Jitter <= 0 {
		return delay
	}
	spread := float64(delay) * cfg.Jitter
	jittered := float64(delay) + (rand.Float64()*2-1)*spread
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}

// shouldRetry reports whether a failed attempt is worth repeating. A
// PipeError carries its own retryable classification; any other error is
// treated as transient.
func shouldRetry(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// Retry executes a function with exponential backoff retry logic.
// It retries up to MaxRetries times if the function returns an error,
// stopping early when the error is a PipeError marked non-retryable.
// The delay between retries grows exponentially, capped at MaxDelay.
// If the context is cancelled, it returns the context error immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err

			if !shouldRetry(err) {
				return err
			}
			if attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.applyJitter(delay)):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// RetryWithResult executes a function that returns a value with retry logic.
// Similar to Retry but for functions that return both a result and an error;
// it also stops early on a non-retryable PipeError.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err != nil {
			lastErr = err

			if !shouldRetry(err) {
				var zero T
				return zero, err
			}
			if attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(cfg.applyJitter(delay)):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return result, nil
	}

	var zero T
	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
