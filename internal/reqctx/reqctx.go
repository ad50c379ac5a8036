// Package reqctx tags a scrape run so its log lines can be told apart.
package reqctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type key int

const runKey key = 0

type RunContext struct {
	RunID     string
	StartTime time.Time
}

// WithRun attaches a fresh RunContext to ctx.
func WithRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, runKey, &RunContext{
		RunID:     generateID(),
		StartTime: time.Now(),
	})
}

func GetRun(ctx context.Context) *RunContext {
	if rc, ok := ctx.Value(runKey).(*RunContext); ok {
		return rc
	}
	return &RunContext{
		RunID:     "unknown",
		StartTime: time.Now(),
	}
}

// Logger returns the global logger with the run ID attached.
func Logger(ctx context.Context) zerolog.Logger {
	return log.With().Str("run_id", GetRun(ctx).RunID).Logger()
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
