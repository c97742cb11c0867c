package marketdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/sirupsen/logrus"
)

// RetryPolicy defines backoff behavior for rate-limited and transient
// exchange failures. Fatal failures are never retried.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy returns the retry policy used for exchange calls
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryPolicyFromConfig builds the exchange retry policy from the collection
// settings. Unset or unparseable values fall back to the defaults.
func RetryPolicyFromConfig(cfg config.CollectionConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if d, err := time.ParseDuration(cfg.RetryInitialDelay); err == nil && d > 0 {
		policy.InitialDelay = d
	}
	if d, err := time.ParseDuration(cfg.RetryMaxDelay); err == nil && d > 0 {
		policy.MaxDelay = d
	}
	return policy
}

// withRetry executes op, retrying retryable failures with bounded
// exponential backoff. The last error is returned once attempts are
// exhausted; the caller treats it as a failed unit.
func withRetry(ctx context.Context, logger *logrus.Logger, operationName string, policy RetryPolicy, op func() error) error {
	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op()
		if err == nil {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
				}).Info("Exchange call recovered after retry")
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) || attempt == policy.MaxRetries {
			break
		}

		logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Exchange call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateDelay(delay, policy)):
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return lastErr
}

// calculateDelay applies optional jitter to the backoff delay
func calculateDelay(baseDelay time.Duration, policy RetryPolicy) time.Duration {
	if !policy.JitterEnabled {
		return baseDelay
	}

	// Add up to 25% jitter; jitterFactor ranges from -0.25 to +0.25
	jitterFactor := (rand.Float64() - 0.5) * 0.5
	jitter := time.Duration(float64(baseDelay) * jitterFactor)
	return baseDelay + jitter
}
