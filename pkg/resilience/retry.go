// Package resilience provides the retry executor, circuit breaker, and
// resilient caller that guard every external dispatch. Failures are
// classified by pkg/errclass; only transient failures are ever retried.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sentinelops/sentinel/pkg/errclass"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// RetryConfig controls the retry executor.
type RetryConfig struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int `yaml:"max_retries" validate:"min=1"`

	// BackoffBase is the delay before the second attempt.
	BackoffBase time.Duration `yaml:"backoff_base" validate:"min=0"`

	// BackoffMax caps the exponential delay.
	BackoffMax time.Duration `yaml:"backoff_max" validate:"min=0"`

	// JitterFraction adds uniform(0, fraction*delay) to each sleep.
	JitterFraction float64 `yaml:"jitter_fraction" validate:"min=0,max=1"`

	// ForceCategory overrides classification of every failure when set.
	// Forcing CategoryTransient retries errors that would otherwise fail
	// fast; forcing anything else disables retries entirely.
	ForceCategory errclass.Category `yaml:"force_category"`

	// OnAttempt observes the outcome of every attempt, nil on success.
	// The caller threads breaker and metrics feeding through it.
	OnAttempt func(err error) `yaml:"-"`
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BackoffBase:    1 * time.Second,
		BackoffMax:     30 * time.Second,
		JitterFraction: 0.5,
	}
}

// Fn is an operation guarded by the resilience layer.
type Fn func(ctx context.Context) (interface{}, error)

// Retry runs fn up to cfg.MaxRetries times. Non-transient failures are
// returned on first occurrence without consuming a retry. The backoff
// sleep honors ctx cancellation. audit may be nil.
func Retry(ctx context.Context, cfg RetryConfig, audit *telemetry.Audit, op string, fn Fn) (interface{}, error) {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(err)
		}
		if err == nil {
			if attempt > 1 && audit != nil {
				audit.RetrySuccess(ctx, op, attempt)
			}
			return result, nil
		}
		lastErr = err

		category := errclass.Classify(err)
		if cfg.ForceCategory != "" {
			category = cfg.ForceCategory
		}
		if category != errclass.CategoryTransient {
			if audit != nil {
				audit.Error(ctx, telemetry.CategoryRetry, "non_retryable",
					fmt.Sprintf("%s failed with %s error, not retrying", op, category),
					map[string]interface{}{
						"operation": op,
						"category":  string(category),
						"error":     err.Error(),
					})
			}
			return nil, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if audit != nil {
			audit.RetryAttempt(ctx, op, attempt, cfg.MaxRetries, delay, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%s aborted during backoff: %w", op, ctx.Err())
		}
	}

	if audit != nil {
		audit.RetryExhausted(ctx, op, cfg.MaxRetries, lastErr)
	}
	return nil, lastErr
}

// backoffDelay computes the sleep before the next attempt:
// min(base * 2^(attempt-1), max) + uniform(0, jitter*delay).
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BackoffBase) * math.Pow(2, float64(attempt-1)))
	if cfg.BackoffMax > 0 && delay > cfg.BackoffMax {
		delay = cfg.BackoffMax
	}
	if cfg.JitterFraction > 0 {
		delay += time.Duration(rand.Float64() * cfg.JitterFraction * float64(delay))
	}
	return delay
}
