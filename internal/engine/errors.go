// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Transport failure causes. They never leave a transport; Failed logs them.
var (
	ErrBrowserNotFound = errors.New("chrome browser not found")
	ErrTimeout         = errors.New("request timeout")
	ErrInvalidURL      = errors.New("invalid URL")
	ErrNetworkError    = errors.New("network error")
	ErrTLSError        = errors.New("tls certificate verification failed")
	ErrDecodeError     = errors.New("failed to decode response body")
	ErrClosed          = errors.New("transport closed")
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeBrowserCrash ErrorCode = "BROWSER_CRASH"
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"
	ErrCodeTLS          ErrorCode = "TLS"
	ErrCodeDecode       ErrorCode = "DECODE"
	ErrCodeClosed       ErrorCode = "CLOSED"
)

// EngineError wraps errors with additional context
type EngineError struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Retry      bool
	Details    map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// Is checks if the error matches the target
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Underlying, target)
}

// NonRetryable lets the retry package skip errors not marked retryable.
func (e *EngineError) NonRetryable() bool {
	return !e.Retry
}

// NewEngineError creates a new EngineError
func NewEngineError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    message,
		Underlying: err,
		Retry:      false,
		Details:    make(map[string]interface{}),
	}
}

// WithRetry marks the error as retryable
func (e *EngineError) WithRetry() *EngineError {
	e.Retry = true
	return e
}

// WithDetail adds a detail to the error
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	e.Details[key] = value
	return e
}

func logFailure(url string, err error) {
	ev := log.Error().Str("url", url).Err(err)
	var ee *EngineError
	if errors.As(err, &ee) {
		ev = ev.Str("code", string(ee.Code))
		for k, v := range ee.Details {
			ev = ev.Interface(k, v)
		}
	}
	ev.Msg("Fetch failed")
}
