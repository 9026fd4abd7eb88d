package services

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func limiterConfig(limits map[string]int) *config.Config {
	cfg := &config.Config{
		Providers: make(map[string]config.ProviderConfig),
		Breaker: config.BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         2 * time.Minute,
			MaxCooldown:      10 * time.Minute,
			QuotaWindow:      time.Minute,
		},
	}
	priority := 1
	for name, limit := range limits {
		cfg.Providers[name] = config.ProviderConfig{
			Enabled:            true,
			BaseURL:            "http://" + name,
			RateLimitPerMinute: limit,
			Priority:           priority,
		}
		priority++
	}
	return cfg
}

func TestRateLimiter_UnknownProvider(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 10}), nil, quietLogger(), nil)

	_, err := rl.Allow("nope")
	assert.Error(t, err)
}

func TestRateLimiter_QuotaExhaustionDoesNotOpenBreaker(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(limiterConfig(map[string]int{"coinmarketcap": 3}), clock, quietLogger(), nil)

	for i := 0; i < 3; i++ {
		permit, err := rl.Allow("coinmarketcap")
		require.NoError(t, err)
		permit.Success()
	}

	_, err := rl.Allow("coinmarketcap")
	var rle *utils.RateLimitExceeded
	require.ErrorAs(t, err, &rle)
	assert.False(t, rle.Remote)
	assert.Equal(t, time.Minute, rle.RetryAfter)

	status := rl.Status()["coinmarketcap"]
	assert.Equal(t, models.CircuitClosed, status.State)
	assert.Equal(t, 0, status.Remaining)
	assert.Equal(t, 3, status.Used)
}

func TestRateLimiter_StatusUnlimitedProvider(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]int{"coinpaprika": 0}), utils.NewManualClock(time.Now()), quietLogger(), nil)

	for i := 0; i < 5; i++ {
		permit, err := rl.Allow("coinpaprika")
		require.NoError(t, err)
		permit.Success()
	}

	status := rl.Status()["coinpaprika"]
	assert.True(t, status.Unlimited)
	assert.Equal(t, -1, status.Remaining)
	assert.Equal(t, 5, status.Used)

	limited := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 10}), nil, quietLogger(), nil)
	assert.False(t, limited.Status()["coingecko"].Unlimited)
	assert.Equal(t, 10, limited.Status()["coingecko"].Remaining)
}

func TestRateLimiter_WindowRollover(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 1}), clock, quietLogger(), nil)

	permit, err := rl.Allow("coingecko")
	require.NoError(t, err)
	permit.Success()

	_, err = rl.Allow("coingecko")
	require.Error(t, err)

	clock.Advance(61 * time.Second)
	rl.RollWindows()

	status := rl.Status()["coingecko"]
	assert.Equal(t, 0, status.Used)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC), status.WindowStart)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC), status.WindowResetsAt)

	_, err = rl.Allow("coingecko")
	assert.NoError(t, err)
}

func TestRateLimiter_LazyRolloverOnAccess(t *testing.T) {
	clock := utils.NewManualClock(time.Now())
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 1}), clock, quietLogger(), nil)

	_, err := rl.Allow("coingecko")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = rl.Allow("coingecko")
	assert.NoError(t, err)
}

func TestRateLimiter_BreakerOpensAfterFailures(t *testing.T) {
	clock := utils.NewManualClock(time.Now())
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 100}), clock, quietLogger(), nil)

	for i := 0; i < 5; i++ {
		permit, err := rl.Allow("coingecko")
		require.NoError(t, err)
		permit.Failure(errors.New("timeout"))
	}

	_, err := rl.Allow("coingecko")
	var open *utils.CircuitOpenError
	require.ErrorAs(t, err, &open)

	status := rl.Status()["coingecko"]
	assert.Equal(t, models.CircuitOpen, status.State)
	assert.Equal(t, 5, status.ConsecutiveFailures)
	assert.Equal(t, clock.Now().Add(2*time.Minute), status.OpenUntil)
	// Rejected calls do not consume quota.
	assert.Equal(t, 5, status.Used)
}

func TestRateLimiter_RemoteRateLimitOpensImmediately(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 100}), utils.NewManualClock(time.Now()), quietLogger(), nil)

	permit, err := rl.Allow("coingecko")
	require.NoError(t, err)
	permit.Failure(&utils.RateLimitExceeded{Provider: "coingecko", Remote: true})

	assert.Equal(t, models.CircuitOpen, rl.Status()["coingecko"].State)
}

func TestRateLimiter_PermitReportsOnce(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 100}), utils.NewManualClock(time.Now()), quietLogger(), nil)

	permit, err := rl.Allow("coingecko")
	require.NoError(t, err)
	permit.Failure(errors.New("first"))
	permit.Failure(errors.New("second"))
	permit.Success()

	assert.Equal(t, 1, rl.Status()["coingecko"].ConsecutiveFailures)
}

func TestRateLimiter_HalfOpenTrialReleasedOnQuotaExhaustion(t *testing.T) {
	clock := utils.NewManualClock(time.Now())
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 1}), clock, quietLogger(), nil)

	permit, err := rl.Allow("coingecko")
	require.NoError(t, err)
	permit.Failure(&utils.RateLimitExceeded{Provider: "coingecko", Remote: true})

	// Cooldown expires inside the same quota window, which is already spent.
	rl.window = 10 * time.Minute
	clock.Advance(2 * time.Minute)

	_, err = rl.Allow("coingecko")
	assert.True(t, utils.IsRateLimited(err))
	assert.Equal(t, models.CircuitHalfOpen, rl.Status()["coingecko"].State)

	rl.Reset("coingecko")
	permit, err = rl.Allow("coingecko")
	require.NoError(t, err)
	permit.Success()
	assert.Equal(t, models.CircuitClosed, rl.Status()["coingecko"].State)
}

func TestRateLimiter_ConcurrentAllowRespectsQuota(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 30}), utils.NewManualClock(time.Now()), quietLogger(), nil)

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if permit, err := rl.Allow("coingecko"); err == nil {
				atomic.AddInt32(&granted, 1)
				permit.Success()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), granted)
	assert.Equal(t, 30, rl.Status()["coingecko"].Used)
}

func TestRateLimiter_ProvidersAndBreaker(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 30, "coinpaprika": 25}), nil, quietLogger(), nil)

	assert.Equal(t, []string{"coingecko", "coinpaprika"}, rl.Providers())
	assert.NotNil(t, rl.Breaker("coingecko"))
	assert.Nil(t, rl.Breaker("unknown"))
}

func TestRateLimiter_ReleaseFreesHalfOpenTrial(t *testing.T) {
	clock := utils.NewManualClock(time.Now())
	rl := NewRateLimiter(limiterConfig(map[string]int{"coingecko": 100}), clock, quietLogger(), nil)

	permit, err := rl.Allow("coingecko")
	require.NoError(t, err)
	permit.Failure(&utils.RateLimitExceeded{Provider: "coingecko", Remote: true})
	clock.Advance(2*time.Minute + time.Second)

	trial, err := rl.Allow("coingecko")
	require.NoError(t, err)
	_, err = rl.Allow("coingecko")
	require.Error(t, err, "only one trial at a time")

	// A cancelled caller hands the trial back without an outcome.
	trial.Release()
	trial.Failure(errors.New("ignored after release"))
	assert.Equal(t, models.CircuitHalfOpen, rl.Status()["coingecko"].State)

	next, err := rl.Allow("coingecko")
	require.NoError(t, err)
	next.Success()
	assert.Equal(t, models.CircuitClosed, rl.Status()["coingecko"].State)
}
