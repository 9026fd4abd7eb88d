package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // Consecutive failures before opening
	Cooldown         time.Duration `json:"cooldown"`          // First OPEN period
	MaxCooldown      time.Duration `json:"max_cooldown"`      // Cap for the doubled cooldown
}

// CircuitBreakerStats holds statistics for the circuit breaker
type CircuitBreakerStats struct {
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	RejectedRequests   int64     `json:"rejected_requests"`
	LastFailureTime    time.Time `json:"last_failure_time"`
	LastSuccessTime    time.Time `json:"last_success_time"`
	StateChanges       int64     `json:"state_changes"`
}

// BreakerSnapshot is a consistent view of a breaker's state.
type BreakerSnapshot struct {
	State               models.CircuitState
	ConsecutiveFailures int
	OpenUntil           time.Time
	Cooldown            time.Duration
}

// CircuitBreaker isolates one provider. CLOSED admits calls, OPEN rejects
// them until the cooldown expires, HALF_OPEN admits a single trial whose
// outcome closes or re-opens the breaker. Each re-open doubles the cooldown
// up to MaxCooldown.
type CircuitBreaker struct {
	name          string
	config        CircuitBreakerConfig
	logger        *logrus.Logger
	clock         utils.Clock
	onStateChange func(name string, state models.CircuitState)

	mu        sync.Mutex
	state     models.CircuitState
	failures  int
	openUntil time.Time
	cooldown  time.Duration
	stats     CircuitBreakerStats

	// trialInFlight is claimed by CAS so only one HALF_OPEN trial runs.
	trialInFlight atomic.Bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig, clock utils.Clock, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 2 * time.Minute
	}
	if config.MaxCooldown < config.Cooldown {
		config.MaxCooldown = config.Cooldown
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &CircuitBreaker{
		name:     name,
		config:   config,
		logger:   logger,
		clock:    clock,
		state:    models.CircuitClosed,
		cooldown: config.Cooldown,
	}
}

// OnStateChange registers a callback invoked after every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state models.CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Allow decides whether a call may proceed. trial is true when the caller
// holds the single HALF_OPEN slot and must report its outcome.
func (cb *CircuitBreaker) Allow() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()

	if cb.state == models.CircuitOpen && !now.Before(cb.openUntil) {
		cb.setState(models.CircuitHalfOpen)
	}

	switch cb.state {
	case models.CircuitClosed:
		return false, nil

	case models.CircuitHalfOpen:
		if cb.trialInFlight.CompareAndSwap(false, true) {
			return true, nil
		}
	}

	cb.stats.RejectedRequests++
	return false, &utils.CircuitOpenError{Provider: cb.name, OpenUntil: cb.openUntil}
}

// ReleaseTrial gives back a HALF_OPEN slot that was never used.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.trialInFlight.Store(false)
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.SuccessfulRequests++
	cb.stats.LastSuccessTime = cb.clock.Now()

	switch cb.state {
	case models.CircuitClosed:
		cb.failures = 0

	case models.CircuitHalfOpen:
		if !trial {
			return
		}
		cb.failures = 0
		cb.cooldown = cb.config.Cooldown
		cb.openUntil = time.Time{}
		cb.trialInFlight.Store(false)
		cb.setState(models.CircuitClosed)
	}
}

// RecordFailure reports a failed call. A rate-limited failure opens the
// breaker immediately regardless of the failure count.
func (cb *CircuitBreaker) RecordFailure(trial bool, rateLimited bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()
	cb.stats.FailedRequests++
	cb.stats.LastFailureTime = now

	switch cb.state {
	case models.CircuitClosed:
		cb.failures++
		if rateLimited || cb.failures >= cb.config.FailureThreshold {
			cb.open(now)
		}

	case models.CircuitHalfOpen:
		if !trial {
			return
		}
		cb.failures++
		cb.cooldown *= 2
		if cb.cooldown > cb.config.MaxCooldown {
			cb.cooldown = cb.config.MaxCooldown
		}
		cb.trialInFlight.Store(false)
		cb.open(now)
	}

	fields := logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           string(cb.state),
		"failure_count":   cb.failures,
		"rate_limited":    rateLimited,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	cb.logger.WithFields(fields).Debug("Circuit breaker: failed execution")
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.openUntil = now.Add(cb.cooldown)
	cb.setState(models.CircuitOpen)
}

// setState changes the circuit breaker state
func (cb *CircuitBreaker) setState(newState models.CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.stats.StateChanges++

	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"old_state":       string(oldState),
		"new_state":       string(newState),
		"failure_count":   cb.failures,
	})
	if newState == models.CircuitOpen {
		entry.WithFields(logrus.Fields{
			"open_until":  cb.openUntil,
			"cooldown_ms": cb.cooldown.Milliseconds(),
		}).Warn("Circuit breaker state changed")
	} else {
		entry.Info("Circuit breaker state changed")
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, newState)
	}
}

// State returns the current state. An OPEN breaker whose cooldown has
// expired reports HALF_OPEN without transitioning.
func (cb *CircuitBreaker) State() models.CircuitState {
	return cb.Snapshot().State
}

// Snapshot returns the breaker's state, failure count, and cooldown.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.state
	if state == models.CircuitOpen && !cb.clock.Now().Before(cb.openUntil) {
		state = models.CircuitHalfOpen
	}
	return BreakerSnapshot{
		State:               state,
		ConsecutiveFailures: cb.failures,
		OpenUntil:           cb.openUntil,
		Cooldown:            cb.cooldown,
	}
}

// GetStats returns the current statistics
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.cooldown = cb.config.Cooldown
	cb.openUntil = time.Time{}
	cb.trialInFlight.Store(false)
	cb.setState(models.CircuitClosed)

	cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker manually reset")
}
