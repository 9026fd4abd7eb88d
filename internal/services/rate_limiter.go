package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/metrics"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// Permit is granted by RateLimiter.Allow. Exactly one of Success or Failure
// should be called once the provider call finishes; extra calls are ignored.
type Permit struct {
	limiter  *RateLimiter
	provider string
	trial    bool
	done     atomic.Bool
}

// Provider is the provider the permit was granted for.
func (p *Permit) Provider() string { return p.provider }

// Success reports a successful call.
func (p *Permit) Success() {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	p.limiter.record(p, nil)
}

// Failure reports a failed call.
func (p *Permit) Failure(err error) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		err = fmt.Errorf("provider %s failed", p.provider)
	}
	p.limiter.record(p, err)
}

// Release ends the permit without reporting an outcome. Used when the
// caller abandoned the call, which says nothing about the provider.
func (p *Permit) Release() {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	if p.trial {
		p.limiter.quotas[p.provider].breaker.ReleaseTrial()
	}
}

type providerQuota struct {
	name    string
	limit   int
	breaker *CircuitBreaker

	mu          sync.Mutex
	windowStart time.Time
	used        int
	lastCall    time.Time
}

// RateLimiter gates every outbound provider call with a fixed-window quota
// and a circuit breaker. The provider set is fixed at construction.
type RateLimiter struct {
	window  time.Duration
	clock   utils.Clock
	logger  *logrus.Logger
	metrics *metrics.MetricsCollector
	quotas  map[string]*providerQuota
}

// NewRateLimiter creates a limiter for every enabled provider in cfg.
func NewRateLimiter(cfg *config.Config, clock utils.Clock, logger *logrus.Logger, mc *metrics.MetricsCollector) *RateLimiter {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	window := cfg.Breaker.QuotaWindow
	if window <= 0 {
		window = time.Minute
	}

	rl := &RateLimiter{
		window:  window,
		clock:   clock,
		logger:  logger,
		metrics: mc,
		quotas:  make(map[string]*providerQuota),
	}

	breakerCfg := CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
	}
	now := clock.Now()
	for _, name := range cfg.EnabledProviders() {
		breaker := NewCircuitBreaker(name, breakerCfg, clock, logger)
		breaker.OnStateChange(func(provider string, state models.CircuitState) {
			mc.SetBreakerState(provider, state)
		})
		mc.SetBreakerState(name, models.CircuitClosed)

		rl.quotas[name] = &providerQuota{
			name:        name,
			limit:       cfg.Providers[name].RateLimitPerMinute,
			breaker:     breaker,
			windowStart: now,
		}
	}
	return rl
}

// Allow is the single gate consulted before every provider call. It rejects
// with CircuitOpenError while the breaker is open and RateLimitExceeded when
// the window's quota is spent. Quota exhaustion does not trip the breaker.
func (rl *RateLimiter) Allow(provider string) (*Permit, error) {
	q, ok := rl.quotas[provider]
	if !ok {
		return nil, utils.NewValidationErrorf("unknown provider %q", provider)
	}

	trial, err := q.breaker.Allow()
	if err != nil {
		rl.metrics.RecordRateLimited(provider, "circuit_open")
		return nil, err
	}

	now := rl.clock.Now()
	q.mu.Lock()
	rl.rollLocked(q, now)
	if q.limit > 0 && q.used >= q.limit {
		resetsAt := q.windowStart.Add(rl.window)
		q.mu.Unlock()
		if trial {
			q.breaker.ReleaseTrial()
		}
		rl.metrics.RecordRateLimited(provider, "quota")
		rl.logger.WithFields(logrus.Fields{
			"provider": provider,
			"limit":    q.limit,
		}).Debug("Provider quota exhausted")
		return nil, &utils.RateLimitExceeded{Provider: provider, RetryAfter: resetsAt.Sub(now)}
	}
	q.used++
	q.lastCall = now
	q.mu.Unlock()

	return &Permit{limiter: rl, provider: provider, trial: trial}, nil
}

func (rl *RateLimiter) record(p *Permit, err error) {
	q, ok := rl.quotas[p.provider]
	if !ok {
		return
	}
	if err == nil {
		q.breaker.RecordSuccess(p.trial)
		return
	}
	q.breaker.RecordFailure(p.trial, utils.IsRateLimited(err), err)
}

// rollLocked starts a new window once the current one has elapsed.
func (rl *RateLimiter) rollLocked(q *providerQuota, now time.Time) {
	if now.Sub(q.windowStart) < rl.window {
		return
	}
	elapsed := now.Sub(q.windowStart) / rl.window
	q.windowStart = q.windowStart.Add(elapsed * rl.window)
	q.used = 0
}

// RollWindows resets every provider window that has elapsed.
func (rl *RateLimiter) RollWindows() {
	now := rl.clock.Now()
	for _, q := range rl.quotas {
		q.mu.Lock()
		rl.rollLocked(q, now)
		q.mu.Unlock()
	}
}

// StartWindowRollover resets quota windows on a fixed schedule until ctx is done.
func (rl *RateLimiter) StartWindowRollover(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(rl.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.RollWindows()
			}
		}
	}()
}

// Providers returns the gated provider names in sorted order.
func (rl *RateLimiter) Providers() []string {
	names := make([]string, 0, len(rl.quotas))
	for name := range rl.quotas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Breaker returns the breaker of provider, or nil.
func (rl *RateLimiter) Breaker(provider string) *CircuitBreaker {
	if q, ok := rl.quotas[provider]; ok {
		return q.breaker
	}
	return nil
}

// Status returns a snapshot of every provider's quota and breaker.
func (rl *RateLimiter) Status() map[string]models.RateLimitStatus {
	now := rl.clock.Now()
	out := make(map[string]models.RateLimitStatus, len(rl.quotas))
	for name, q := range rl.quotas {
		q.mu.Lock()
		rl.rollLocked(q, now)
		status := models.RateLimitStatus{
			Provider:       name,
			Limit:          q.limit,
			Used:           q.used,
			Remaining:      q.limit - q.used,
			WindowStart:    q.windowStart,
			WindowResetsAt: q.windowStart.Add(rl.window),
			LastCall:       q.lastCall,
		}
		q.mu.Unlock()

		switch {
		case q.limit <= 0:
			status.Unlimited = true
			status.Remaining = -1
		case status.Remaining < 0:
			status.Remaining = 0
		}
		snap := q.breaker.Snapshot()
		status.State = snap.State
		status.ConsecutiveFailures = snap.ConsecutiveFailures
		status.Cooldown = snap.Cooldown
		if snap.State == models.CircuitOpen {
			status.OpenUntil = snap.OpenUntil
		}
		out[name] = status
	}
	return out
}

// Reset clears the quota window and closes the breaker of provider.
func (rl *RateLimiter) Reset(provider string) {
	q, ok := rl.quotas[provider]
	if !ok {
		return
	}
	q.mu.Lock()
	q.used = 0
	q.windowStart = rl.clock.Now()
	q.mu.Unlock()
	q.breaker.Reset()
}
