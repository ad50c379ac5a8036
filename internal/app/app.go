// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/law-makers/racecrawl/internal/challenge"
	"github.com/law-makers/racecrawl/internal/config"
	"github.com/law-makers/racecrawl/internal/engine"
	"github.com/law-makers/racecrawl/internal/engine/dynamic"
	"github.com/law-makers/racecrawl/internal/engine/static"
	"github.com/law-makers/racecrawl/internal/export"
	"github.com/law-makers/racecrawl/internal/paginate"
	"github.com/law-makers/racecrawl/internal/proxy"
	"github.com/law-makers/racecrawl/internal/ratelimit"
	"github.com/law-makers/racecrawl/internal/reqctx"
	"github.com/law-makers/racecrawl/pkg/models"
)

// Options carries the collaborators the CLI supplies.
type Options struct {
	// Confirmer is asked to wait for the operator when a challenge does not
	// clear on its own. Nil disables manual intervention.
	Confirmer challenge.Confirmer
	// Observer receives per-page progress.
	Observer paginate.Observer
	// ExtraHeaders are added to every HTTP-mode request.
	ExtraHeaders map[string]string
	// LogWriter overrides where logs go. Defaults to stderr.
	LogWriter io.Writer
}

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once per run. Use Close() to release the browser on every
// exit path.
type Application struct {
	Config    *config.Config
	Logger    *zerolog.Logger
	Session   *auth.Session
	Store     *auth.Store
	Challenge *challenge.Handler
	Transport engine.Transport
	Pacer     *ratelimit.Pacer

	observer  paginate.Observer
	closeOnce sync.Once
	closeErr  error
	startTime time.Time
}

// New creates and initializes a new Application with all dependencies.
//
// It performs the following initialization steps:
//   - Configures logging based on the provided config
//   - Loads the persisted session, if any
//   - Creates the challenge handler
//   - Creates the transport selected by cfg.Mode
//   - Creates the pacer used between listing pages
//
// Chrome is not launched here; the browser transport starts on first use.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := ConfigureLogging(cfg, opts.LogWriter)

	store := auth.NewStore(cfg.SessionFile)
	session, err := store.Load()
	if err != nil {
		logger.Warn().Err(err).Str("path", store.Path()).Msg("Ignoring unreadable session file")
	} else if session.Loaded() {
		logger.Info().Int("cookies", session.Len()).Str("path", store.Path()).Msg("Loaded saved session")
	}

	handler := challenge.NewHandler(challenge.Config{
		Timeout:       cfg.ChallengeTimeout,
		PollInterval:  cfg.ChallengePoll,
		MaxURLChanges: cfg.MaxURLChanges,
		MaxLoopCount:  cfg.MaxChallengeLoops,
	}, session, store, opts.Confirmer)

	transport, err := newTransport(cfg, session, handler, opts)
	if err != nil {
		return nil, err
	}

	pacer := ratelimit.NewPacer(cfg.DelayMin, cfg.DelayMax, cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Debug().
		Dur("delay_min", cfg.DelayMin).
		Dur("delay_max", cfg.DelayMax).
		Float64("rps", cfg.RateLimitRPS).
		Msg("Pacer initialized")

	a := &Application{
		Config:    cfg,
		Logger:    &logger,
		Session:   session,
		Store:     store,
		Challenge: handler,
		Transport: transport,
		Pacer:     pacer,
		observer:  opts.Observer,
		startTime: time.Now(),
	}

	logger.Debug().Str("mode", cfg.Mode).Msg("Application initialized successfully")
	return a, nil
}

// ConfigureLogging sets the global zerolog level and writer from cfg.
// "info" is the quiet default and shows warnings and errors only; -v turns
// on everything.
func ConfigureLogging(cfg *config.Config, w io.Writer) zerolog.Logger {
	level := zerolog.WarnLevel
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if w == nil {
		w = os.Stderr
	}
	if !cfg.JSONLog {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	log.Logger.Debug().
		Str("level", cfg.LogLevel).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")
	return log.Logger
}

// Verbose reports whether info-level progress logs are visible.
func Verbose() bool {
	return zerolog.GlobalLevel() <= zerolog.InfoLevel
}

func newTransport(cfg *config.Config, session *auth.Session, handler *challenge.Handler, opts Options) (engine.Transport, error) {
	switch models.TransportMode(cfg.Mode) {
	case models.ModeHTTP:
		pool, err := proxy.NewPool(cfg.Proxies)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy list: %w", err)
		}
		t, err := static.New(static.Options{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.HTTPTimeout,
			Bypass:       cfg.Bypass,
			Session:      session,
			Proxies:      pool,
			ExtraHeaders: opts.ExtraHeaders,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
		}
		log.Debug().Bool("bypass", cfg.Bypass).Int("proxies", pool.Len()).Msg("HTTP transport initialized")
		return t, nil

	case models.ModeBrowser:
		var browserProxy string
		if len(cfg.Proxies) > 0 {
			browserProxy = cfg.Proxies[0]
			if len(cfg.Proxies) > 1 {
				log.Warn().Msg("Browser mode uses only the first proxy")
			}
		}
		t := dynamic.New(dynamic.Options{
			BaseURL:    cfg.BaseURL,
			Headless:   cfg.BrowserHeadless,
			ChromePath: cfg.ChromePath,
			Proxy:      browserProxy,
			Settle:     ratelimit.NewPacer(cfg.SettleMin, cfg.SettleMax, 0, 0),
			Session:    session,
			Guard:      handler,
		})
		log.Debug().Bool("headless", cfg.BrowserHeadless).Msg("Browser transport initialized")
		return t, nil
	}
	return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
}

// Scrape walks the listing pages for the date range. Races gathered before
// an interrupt are returned along with the context error.
func (a *Application) Scrape(ctx context.Context, start, end string, maxPages int) ([]models.Race, error) {
	ctrl := paginate.New(a.Transport, paginate.Options{
		BaseURL:        a.Config.BaseURL,
		MinPageRecords: a.Config.MinPageRecords,
		Pacer:          a.Pacer,
		Observer:       a.observer,
	})

	ctx = reqctx.WithRun(ctx)
	races, err := ctrl.ScrapeDateRange(ctx, start, end, maxPages)

	detections, auto, loops := a.Challenge.Stats()
	if detections > 0 {
		a.Logger.Info().
			Int("detected", detections).
			Int("auto_resolved", auto).
			Int("redirect_loops", loops).
			Bool("manual", a.Challenge.ManualDone()).
			Msg("Challenge summary")
	}

	if err != nil && errors.Is(err, context.Canceled) {
		a.Logger.Warn().Int("races", len(races)).Msg("Scrape interrupted")
	}
	return races, err
}

// Export writes races to filename, see export.Export.
func (a *Application) Export(races []models.Race, filename string) (string, error) {
	return export.Export(races, filename)
}

// Close gracefully shuts down the application and all its resources.
// It is safe to call more than once.
func (a *Application) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.Logger.Debug().Msg("Shutting down application")

		done := make(chan error, 1)
		go func() {
			if a.Transport != nil {
				done <- a.Transport.Close()
				return
			}
			done <- nil
		}()

		select {
		case err := <-done:
			if err != nil {
				a.Logger.Warn().Err(err).Msg("Error closing transport")
				a.closeErr = err
			}
		case <-ctx.Done():
			a.Logger.Warn().Msg("Timed out closing transport")
			a.closeErr = ctx.Err()
		}

		a.Logger.Debug().Dur("uptime", a.Uptime()).Msg("Application shutdown complete")
	})
	return a.closeErr
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
