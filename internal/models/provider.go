package models

import "time"

// ProviderResult is the outcome of one provider call. Exactly one of
// Payload and Err is set.
type ProviderResult[T any] struct {
	Provider   string        `json:"provider"`
	Payload    T             `json:"payload,omitempty"`
	Err        error         `json:"-"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Success builds a successful result.
func Success[T any](provider string, payload T) ProviderResult[T] {
	return ProviderResult[T]{Provider: provider, Payload: payload}
}

// Failure builds a failed result.
func Failure[T any](provider string, err error, httpStatus int) ProviderResult[T] {
	return ProviderResult[T]{Provider: provider, Err: err, HTTPStatus: httpStatus}
}

// OK reports whether the call succeeded.
func (r ProviderResult[T]) OK() bool {
	return r.Err == nil
}

// CircuitState is the breaker state of a provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// RateLimitStatus is a point-in-time view of one provider's quota and breaker.
type RateLimitStatus struct {
	Provider            string        `json:"provider"`
	Limit               int           `json:"limit"`
	Used                int           `json:"used"`
	Remaining           int           `json:"remaining"` // -1 when Unlimited
	Unlimited           bool          `json:"unlimited"`
	WindowStart         time.Time     `json:"window_start"`
	WindowResetsAt      time.Time     `json:"window_resets_at"`
	LastCall            time.Time     `json:"last_call,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	State               CircuitState  `json:"state"`
	OpenUntil           time.Time     `json:"open_until,omitempty"`
	Cooldown            time.Duration `json:"cooldown"`
}
