package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("validation failed")

	assert.Equal(t, "validation failed", err.Error())

	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "validation failed", validationErr.Message)
}

func TestNewValidationErrorf(t *testing.T) {
	err := NewValidationErrorf("days must be between %d and %d", 1, 365)

	assert.Equal(t, "days must be between 1 and 365", err.Error())
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NewNotFoundError("dogwifcat"))

	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), `"dogwifcat"`)
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestProviderError_Unwrap(t *testing.T) {
	err := NewProviderError("coingecko", 0, context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "provider coingecko error: context deadline exceeded", err.Error())

	withStatus := NewProviderError("coingecko", 502, errors.New("bad gateway"))
	assert.Equal(t, "provider coingecko error (502): bad gateway", withStatus.Error())
}

func TestRateLimitExceeded_Error(t *testing.T) {
	local := &RateLimitExceeded{Provider: "coinmarketcap"}
	remote := &RateLimitExceeded{Provider: "coinmarketcap", Remote: true, RetryAfter: 30 * time.Second}

	assert.Equal(t, "rate limit exceeded for coinmarketcap (local quota)", local.Error())
	assert.Equal(t, "rate limit exceeded for coinmarketcap (upstream 429), retry after 30s", remote.Error())
	assert.True(t, IsRateLimited(fmt.Errorf("wrapped: %w", remote)))
}

func TestAIUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &AIUnavailableError{Err: cause}

	assert.ErrorIs(t, err, cause)
	var target *AIUnavailableError
	require.True(t, errors.As(fmt.Errorf("ask: %w", err), &target))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", NewProviderError("x", 0, context.DeadlineExceeded), true},
		{"server error", NewProviderError("x", 503, errors.New("unavailable")), true},
		{"client error", NewProviderError("x", 404, errors.New("missing")), false},
		{"rate limited", &RateLimitExceeded{Provider: "x", Remote: true}, false},
		{"circuit open", &CircuitOpenError{Provider: "x"}, false},
		{"not found", NewNotFoundError("zzz"), false},
		{"validation", NewValidationError("bad"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NewNotFoundError("x")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewValidationError("bad")))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(&RateLimitExceeded{Provider: "x"}))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, "aggregation timed out after 8s with 4 providers attempted",
		(&AggregationTimeout{Deadline: 8 * time.Second, Attempted: 4}).Error())
}
