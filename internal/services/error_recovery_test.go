package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 300*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 300*time.Millisecond, policy.Delay(10))

	policy.JitterEnabled = true
	for i := 0; i < 50; i++ {
		d := policy.Delay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	policy := RetryPolicyFromConfig(config.AggregatorConfig{
		MaxRetries:         3,
		RetryInitialDelay:  50 * time.Millisecond,
		RetryBackoffFactor: 0.5,
	})

	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, policy.InitialDelay)
	assert.Equal(t, time.Second, policy.MaxDelay)
	assert.Equal(t, 2.0, policy.BackoffFactor, "factors below one keep the default")
}

func TestExecuteWithRetry_RecoversFromTransientError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0

	err := ExecuteWithRetry(context.Background(), quietLogger(), "op", policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return utils.NewProviderError("x", 503, errors.New("unavailable"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_StopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0

	err := ExecuteWithRetry(context.Background(), quietLogger(), "op", policy, func(context.Context) error {
		calls++
		return utils.NewNotFoundError("zzz")
	})

	assert.True(t, utils.IsNotFound(err))
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetry_HonoursCancellation(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ExecuteWithRetry(ctx, quietLogger(), "op", policy, func(context.Context) error {
		return errBoom
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
