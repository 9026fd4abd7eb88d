package services

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy is used when the configuration leaves retries unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    1,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryPolicyFromConfig builds the aggregator's retry policy.
func RetryPolicyFromConfig(cfg config.AggregatorConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryInitialDelay > 0 {
		policy.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		policy.MaxDelay = cfg.RetryMaxDelay
	}
	if cfg.RetryBackoffFactor >= 1 {
		policy.BackoffFactor = cfg.RetryBackoffFactor
	}
	return policy
}

// Delay returns the wait before retry number attempt (starting at 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if !p.JitterEnabled || delay <= 0 {
		return delay
	}
	// Up to 25% jitter either way.
	jitter := time.Duration((rand.Float64() - 0.5) * 0.5 * float64(delay))
	return delay + jitter
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRetry runs operation until it succeeds, returns a
// non-retryable error, or the policy is exhausted.
func ExecuteWithRetry(ctx context.Context, logger *logrus.Logger, operationName string, policy RetryPolicy, operation func(context.Context) error) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			logger.WithFields(logrus.Fields{
				"operation": operationName,
				"attempt":   attempt,
				"error":     lastErr.Error(),
				"delay":     delay,
			}).Warn("Operation failed, retrying")
			if err := sleepContext(ctx, delay); err != nil {
				return err
			}
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err
		if !utils.IsRetryable(err) {
			break
		}
	}

	logger.WithFields(logrus.Fields{
		"operation": operationName,
		"duration":  time.Since(start),
		"error":     lastErr.Error(),
	}).Error("Operation failed after all retries")
	return lastErr
}
