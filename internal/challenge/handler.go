// Package challenge detects anti-bot interstitials on a live page and drives
// them to resolution, automatically when possible and through an operator
// otherwise.
package challenge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/law-makers/racecrawl/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// State is the handler's position in the challenge state machine.
type State int

const (
	StateClean State = iota
	StateChallenged
	StateAutoResolved
	StateManualPending
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "CLEAN"
	case StateChallenged:
		return "CHALLENGED"
	case StateAutoResolved:
		return "AUTO_RESOLVED"
	case StateManualPending:
		return "MANUAL_PENDING"
	case StateResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

// Page is the live browser page the handler polls.
type Page interface {
	Location(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) (title, html string, err error)
	Cookies(ctx context.Context) ([]auth.Cookie, error)
}

// Confirmer blocks until an operator signals that a challenge was completed.
// Only context cancellation may end the wait early.
type Confirmer interface {
	AwaitConfirmation(ctx context.Context, prompt string) error
}

// ErrRedirectLoop is logged when polling is abandoned because the page keeps
// bouncing between challenge URLs.
var ErrRedirectLoop = errors.New("challenge redirect loop detected")

var errPollTimeout = errors.New("challenge poll timed out")

// ManualPrompt is shown to the operator while the handler waits.
const ManualPrompt = `A verification challenge is showing in the browser window.
  - Complete any CAPTCHA or verification checkbox
  - Wait for the page to load completely
Press ENTER once you can see race listings...`

// Config tunes polling and loop detection.
type Config struct {
	Timeout       time.Duration
	PollInterval  time.Duration
	MaxURLChanges int
	MaxLoopCount  int
	LoopPattern   string
}

// DefaultConfig returns 30s of 1s polls with the usual loop thresholds.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		PollInterval:  time.Second,
		MaxURLChanges: 5,
		MaxLoopCount:  10,
		LoopPattern:   "/cdn-cgi/",
	}
}

// Handler runs the challenge state machine for one run.
type Handler struct {
	cfg       Config
	session   *auth.Session
	store     *auth.Store
	confirmer Confirmer

	mu         sync.Mutex
	state      State
	manualDone bool
	detections int
	autoSolved int
	loopsSeen  int

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewHandler creates a Handler. store and confirmer may be nil; without a
// confirmer unresolved challenges are logged and the page is used as-is.
func NewHandler(cfg Config, session *auth.Session, store *auth.Store, confirmer Confirmer) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxURLChanges <= 0 {
		cfg.MaxURLChanges = def.MaxURLChanges
	}
	if cfg.MaxLoopCount <= 0 {
		cfg.MaxLoopCount = def.MaxLoopCount
	}
	if cfg.LoopPattern == "" {
		cfg.LoopPattern = def.LoopPattern
	}
	if session == nil {
		session = &auth.Session{}
	}
	return &Handler{
		cfg:       cfg,
		session:   session,
		store:     store,
		confirmer: confirmer,
		sleep:     ratelimit.Sleep,
		now:       time.Now,
	}
}

// State returns the current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stats returns detection, auto-resolution and redirect-loop counters.
func (h *Handler) Stats() (detections, autoResolved, loops int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detections, h.autoSolved, h.loopsSeen
}

// ManualDone reports whether the operator has already intervened this run.
func (h *Handler) ManualDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manualDone
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	prev := h.state
	h.state = s
	h.mu.Unlock()
	if prev != s {
		log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Challenge state")
	}
}

// Check inspects page and, if it shows a challenge, polls it until it
// clears, falls back to the operator, or gives up. It only returns an
// error when ctx is cancelled.
func (h *Handler) Check(ctx context.Context, page Page) error {
	title, html, err := page.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("Could not read page for challenge check")
		return nil
	}

	kind := Detect(title, html)
	if kind == KindNone {
		if h.session.Loaded() && !h.session.Verified() {
			h.session.MarkVerified()
		}
		if h.State() != StateResolved {
			h.setState(StateClean)
		}
		return nil
	}

	h.mu.Lock()
	h.detections++
	h.mu.Unlock()
	h.setState(StateChallenged)
	log.Warn().Str("kind", string(kind)).Str("title", title).Msg("Challenge page detected")

	if h.session.Loaded() || h.session.Verified() {
		log.Warn().Msg("Saved session did not bypass the challenge, invalidating it")
		h.session.Invalidate()
	}

	err = h.poll(ctx, page)
	switch {
	case err == nil:
		h.mu.Lock()
		h.autoSolved++
		h.mu.Unlock()
		h.setState(StateAutoResolved)
		log.Info().Msg("Challenge cleared on its own")
		h.resolve(ctx, page)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrRedirectLoop):
		h.mu.Lock()
		h.loopsSeen++
		h.mu.Unlock()
		log.Warn().Err(err).Msg("Giving up on automatic challenge resolution")
	default:
		log.Warn().Dur("timeout", h.cfg.Timeout).Msg("Challenge did not clear in time")
	}

	if h.ManualDone() || h.confirmer == nil {
		log.Warn().Msg("Challenge unresolved, continuing with the current page")
		return nil
	}

	h.setState(StateManualPending)
	if err := h.confirmer.AwaitConfirmation(ctx, ManualPrompt); err != nil {
		return err
	}
	h.mu.Lock()
	h.manualDone = true
	h.mu.Unlock()
	log.Info().Msg("Operator confirmed challenge completion")
	h.resolve(ctx, page)
	return nil
}

// poll re-checks the page every PollInterval until the indicators vanish,
// the URL churns into a loop, or Timeout elapses.
func (h *Handler) poll(ctx context.Context, page Page) error {
	deadline := h.now().Add(h.cfg.Timeout)
	lastURL, _ := page.Location(ctx)
	changes := 0
	parked := 0

	for h.now().Before(deadline) {
		if err := h.sleep(ctx, h.cfg.PollInterval); err != nil {
			return err
		}

		current, err := page.Location(ctx)
		if err == nil {
			if current != lastURL {
				changes++
				lastURL = current
			}
			if strings.Contains(current, h.cfg.LoopPattern) {
				parked++
			} else {
				parked = 0
			}
			if changes > h.cfg.MaxURLChanges || parked > h.cfg.MaxLoopCount {
				log.Warn().
					Int("url_changes", changes).
					Int("parked_polls", parked).
					Str("url", current).
					Msg("Challenge redirect loop detected")
				return ErrRedirectLoop
			}
		}

		title, html, err := page.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if !IsChallenge(title, html) {
			return nil
		}
	}

	return errPollTimeout
}

// resolve records the verified session and persists it once per run.
func (h *Handler) resolve(ctx context.Context, page Page) {
	h.setState(StateResolved)

	cookies, err := page.Cookies(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read cookies after challenge")
	} else {
		h.session.Set(cookies)
	}
	h.session.MarkVerified()

	if h.store == nil || h.store.Saved() {
		return
	}
	if err := h.store.Save(h.session.Cookies()); err != nil {
		log.Warn().Err(err).Str("path", h.store.Path()).Msg("Failed to persist session")
	}
}
