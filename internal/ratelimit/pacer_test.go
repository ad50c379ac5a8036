package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_DelayWithinBounds(t *testing.T) {
	p := NewPacer(2*time.Second, 5*time.Second, 0, 0)

	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	require.Len(t, slept, 100)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestPacer_NextUsesRandomSource(t *testing.T) {
	p := NewPacer(3*time.Second, 5*time.Second, 0, 0)

	p.rnd = func(n int64) int64 { return 0 }
	assert.Equal(t, 3*time.Second, p.Next())

	p.rnd = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 5*time.Second, p.Next())
}

func TestPacer_FixedDelay(t *testing.T) {
	p := NewPacer(time.Second, 0, 0, 0)
	assert.Equal(t, time.Second, p.Next())
}

func TestPacer_StopsOnCancelledContext(t *testing.T) {
	p := NewPacer(time.Hour, time.Hour, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPacer_TokenBucketFloor(t *testing.T) {
	p := NewPacer(0, 0, 20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))
}
