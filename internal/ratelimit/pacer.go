// internal/ratelimit/pacer.go
package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Waiter blocks until the next request may proceed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pacer spaces requests like a person would: every Wait sleeps a uniformly
// random duration in [Min, Max] and then takes a token from an optional
// token bucket that acts as a hard floor between requests.
type Pacer struct {
	Min time.Duration
	Max time.Duration

	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	rnd     func(n int64) int64
}

// NewPacer creates a Pacer. A non-positive requestsPerSecond disables the
// token bucket.
func NewPacer(minDelay, maxDelay time.Duration, requestsPerSecond float64, burst int) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	p := &Pacer{
		Min:   minDelay,
		Max:   maxDelay,
		sleep: Sleep,
		rnd:   rand.Int64N,
	}
	if requestsPerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return p
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	span := int64(p.Max - p.Min)
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(p.rnd(span+1))
}

// Wait sleeps the drawn delay, then waits on the token bucket if any.
func (p *Pacer) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d := p.Next()
	log.Debug().Dur("delay", d).Msg("Pacing")
	if err := p.sleep(ctx, d); err != nil {
		return err
	}
	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	return nil
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
