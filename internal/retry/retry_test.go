package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

type permanentErr struct{}

func (permanentErr) Error() string      { return "certificate rejected" }
func (permanentErr) NonRetryable() bool { return true }

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return NewHTTPError(http.StatusServiceUnavailable, "Service Unavailable", "")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		return NewHTTPError(http.StatusBadGateway, "Bad Gateway", "")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var httpErr HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestWithRetry_DoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		return NewHTTPError(http.StatusNotFound, "Not Found", "")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_DoesNotRetryNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastConfig(), func() error {
		calls++
		return permanentErr{}
	})

	assert.ErrorIs(t, err, permanentErr{})
	assert.Equal(t, 1, calls)
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second

	calls := 0
	err := WithRetry(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialSchedule(t *testing.T) {
	eb := newExponential(DefaultConfig())
	assert.Equal(t, 1*time.Second, eb.NextBackOff())
	assert.Equal(t, 2*time.Second, eb.NextBackOff())
	assert.Equal(t, 4*time.Second, eb.NextBackOff())

	cfg := DefaultConfig()
	cfg.MaxBackoff = 3 * time.Second
	capped := newExponential(cfg)
	capped.NextBackOff()
	capped.NextBackOff()
	assert.Equal(t, 3*time.Second, capped.NextBackOff())
}
