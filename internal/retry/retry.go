// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxAttempts          int           // Maximum number of attempts, including the first
	InitialBackoff       time.Duration // Initial backoff duration
	MaxBackoff           time.Duration // Maximum backoff duration
	Multiplier           float64       // Backoff multiplier
	RetryableStatusCodes []int         // HTTP status codes that should trigger retry
}

// DefaultConfig mirrors a urllib3-style policy: 3 attempts, backoff factor 1.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
	}
}

// WithRetry executes fn until it succeeds, returns a non-retryable error,
// or the attempt budget is spent.
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	attempt := 0
	var permanent error
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Debug().Int("attempts", attempt).Msg("Retry succeeded")
			}
			return nil
		}
		if !shouldRetry(err, cfg) {
			log.Debug().Err(err).Msg("Error is not retryable")
			permanent = err
			return backoff.Permanent(err)
		}
		log.Debug().
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Err(err).
			Msg("Attempt failed")
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(cfg), uint64(cfg.MaxAttempts-1)),
		ctx,
	)

	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if permanent != nil {
		return permanent
	}

	log.Warn().
		Int("attempts", attempt).
		Err(err).
		Msg("Max retry attempts exceeded")

	return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
}

func newExponential(cfg Config) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialBackoff
	eb.MaxInterval = cfg.MaxBackoff
	eb.Multiplier = cfg.Multiplier
	eb.RandomizationFactor = 0
	// Bounded by attempt count, not elapsed time.
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// shouldRetry determines if an error is retryable
func shouldRetry(err error, cfg Config) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		statusCode := sc.GetStatusCode()
		for _, code := range cfg.RetryableStatusCodes {
			if statusCode == code {
				return true
			}
		}
		return false
	}

	if isTimeoutError(err) {
		return true
	}

	var nonRetryable interface{ NonRetryable() bool }
	if errors.As(err, &nonRetryable) && nonRetryable.NonRetryable() {
		return false
	}

	// Connection resets, DNS hiccups and the like
	return true
}

// isTimeoutError checks if an error is a timeout error
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}

	return false
}

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

// StatusCoder is an interface for errors that provide an HTTP status code
type StatusCoder interface {
	GetStatusCode() int
}

func (e HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

func (e HTTPError) GetStatusCode() int {
	return e.StatusCode
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, status string, message string) HTTPError {
	return HTTPError{
		StatusCode: statusCode,
		Status:     status,
		Message:    message,
	}
}
