package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_IsMatchesCodeAndUnderlying(t *testing.T) {
	err := NewEngineError(ErrCodeTLS, "handshake", ErrTLSError)

	assert.ErrorIs(t, err, &EngineError{Code: ErrCodeTLS})
	assert.ErrorIs(t, err, ErrTLSError)
	assert.NotErrorIs(t, err, &EngineError{Code: ErrCodeTimeout})
}

func TestEngineError_RetryFlag(t *testing.T) {
	err := NewEngineError(ErrCodeNetworkError, "dial", errors.New("reset"))
	assert.True(t, err.NonRetryable())

	err.WithRetry().WithDetail("attempt", 1)
	assert.False(t, err.NonRetryable())
	assert.Equal(t, 1, err.Details["attempt"])
	assert.Contains(t, err.Error(), "NETWORK_ERROR: dial: reset")
}

func TestFailed_ReturnsEmptyResult(t *testing.T) {
	res := Failed("https://runningintheusa.com/x", NewEngineError(ErrCodeClosed, "closed", ErrClosed))
	assert.True(t, res.Empty())
	assert.Equal(t, "https://runningintheusa.com/x", res.URL)
}
