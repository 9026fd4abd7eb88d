package utils

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ValidationError represents an error occurring during request validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFoundError is returned when no provider can resolve a query to an asset.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cryptocurrency not found: %q", e.Query)
}

// NewNotFoundError creates a NotFoundError for the given query.
func NewNotFoundError(query string) error {
	return &NotFoundError{Query: query}
}

// ProviderError describes a failed upstream call. StatusCode is zero for
// transport and decoding failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err as a failure of provider.
func NewProviderError(provider string, statusCode int, err error) error {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Err: err}
}

// RateLimitExceeded is returned when a provider's quota is exhausted, either
// locally by the limiter or remotely with HTTP 429.
type RateLimitExceeded struct {
	Provider   string
	Remote     bool
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	source := "local quota"
	if e.Remote {
		source = "upstream 429"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s (%s), retry after %s", e.Provider, source, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s (%s)", e.Provider, source)
}

// CircuitOpenError is returned by the limiter while a provider's breaker rejects calls.
type CircuitOpenError struct {
	Provider  string
	OpenUntil time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s until %s", e.Provider, e.OpenUntil.Format(time.RFC3339))
}

// AggregationTimeout is returned when no provider answered before the aggregation deadline.
type AggregationTimeout struct {
	Deadline  time.Duration
	Attempted int
}

func (e *AggregationTimeout) Error() string {
	return fmt.Sprintf("aggregation timed out after %s with %d providers attempted", e.Deadline, e.Attempted)
}

// AIUnavailableError is returned by an AI provider that cannot produce an answer.
type AIUnavailableError struct {
	Err error
}

func (e *AIUnavailableError) Error() string {
	return fmt.Sprintf("ai provider unavailable: %v", e.Err)
}

func (e *AIUnavailableError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRateLimited reports whether err is or wraps a RateLimitExceeded.
func IsRateLimited(err error) bool {
	var rl *RateLimitExceeded
	return errors.As(err, &rl)
}

// IsRetryable reports whether a failed provider call may be attempted again
// within the same aggregation. Rate limits, open circuits and client errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitExceeded
	var co *CircuitOpenError
	var ve *ValidationError
	if errors.As(err, &rl) || errors.As(err, &co) || errors.As(err, &ve) || IsNotFound(err) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		return false
	}
	return true
}

// HTTPStatus maps an error to the status code the API layer should reply with.
func HTTPStatus(err error) int {
	var ve *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
