// internal/engine/dynamic/transport.go
package dynamic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/law-makers/racecrawl/internal/challenge"
	"github.com/law-makers/racecrawl/internal/engine"
	"github.com/law-makers/racecrawl/internal/engine/headers"
	"github.com/law-makers/racecrawl/internal/ratelimit"
	"github.com/law-makers/racecrawl/pkg/models"
)

// Guard inspects the live page after navigation, blocking while a
// challenge is being resolved.
type Guard interface {
	Check(ctx context.Context, page challenge.Page) error
}

// Options configures the browser transport.
type Options struct {
	BaseURL    string
	Headless   bool
	ChromePath string
	Proxy      string

	// NavTimeout bounds navigation and each page read.
	NavTimeout time.Duration
	// Settle is waited on after navigation, before the guard runs.
	Settle ratelimit.Waiter
	// ScrollPause is slept after each scroll step.
	ScrollPause time.Duration

	Session *auth.Session
	Guard   Guard
}

// Transport drives one Chrome tab for the whole run.
type Transport struct {
	opts Options

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	started     bool
	closed      bool

	status atomic.Int64
}

// New creates a browser Transport. Chrome is launched by Start or on the
// first Fetch.
func New(opts Options) *Transport {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.Settle == nil {
		opts.Settle = ratelimit.NewPacer(3*time.Second, 5*time.Second, 0, 0)
	}
	if opts.ScrollPause <= 0 {
		opts.ScrollPause = time.Second
	}
	return &Transport{opts: opts}
}

// Name returns the name of this transport
func (t *Transport) Name() string {
	return "browser"
}

// SupportsChallengeDetection is true: the guard polls the live tab.
func (t *Transport) SupportsChallengeDetection() bool {
	return true
}

// Start launches Chrome, installs the stealth script and loads session
// cookies. It is a no-op once started.
func (t *Transport) Start(ctx context.Context) error {
	launched, err := t.launch()
	if err != nil {
		return err
	}
	if launched {
		t.loadCookies(ctx)
	}
	return nil
}

func (t *Transport) launch() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, engine.NewEngineError(engine.ErrCodeClosed, "browser already closed", engine.ErrClosed)
	}
	if t.started {
		return false, nil
	}

	start := time.Now()
	chromePath := FindChrome(t.opts.ChromePath)
	if chromePath != "" {
		log.Debug().Str("version", ChromeVersion(chromePath)).Msg("Using Chrome")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		allocatorOptions(t.opts, chromePath, headers.ChromeUserAgent())...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument && e.Response != nil {
			t.status.Store(e.Response.Status)
		}
	})

	// The first Run allocates the browser and must use the tab context
	// itself; later runs use derived contexts so timeouts don't kill it.
	if err := chromedp.Run(tabCtx, network.Enable(), injectStealth()); err != nil {
		tabCancel()
		allocCancel()
		if chromePath == "" {
			err = fmt.Errorf("%w: %v", engine.ErrBrowserNotFound, err)
		}
		return false, engine.NewEngineError(engine.ErrCodeBrowserCrash, "failed to start browser", err)
	}

	t.allocCancel = allocCancel
	t.tabCtx = tabCtx
	t.tabCancel = tabCancel
	t.started = true

	log.Info().
		Bool("headless", t.opts.Headless).
		Dur("elapsed", time.Since(start)).
		Msg("Browser ready")

	return true, nil
}

func (t *Transport) loadCookies(ctx context.Context) {
	if t.opts.Session == nil || t.opts.Session.Len() == 0 {
		return
	}
	params := cookieParams(t.opts.BaseURL, t.opts.Session.Cookies())
	err := t.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load session cookies into browser")
		return
	}
	log.Info().Int("cookies", len(params)).Msg("Loaded saved session cookies")
}

// Close shuts down the tab and the browser process. Safe to call twice.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if !t.started {
		return nil
	}

	var err error
	if cerr := chromedp.Cancel(t.tabCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		err = cerr
	}
	t.tabCancel()
	t.allocCancel()

	log.Info().Msg("Browser closed")
	return err
}

// Fetch navigates the tab to target, lets the page settle, hands it to the
// guard, scrolls to trigger lazy content and returns the rendered HTML.
func (t *Transport) Fetch(ctx context.Context, target, referer string) models.FetchResult {
	if err := t.Start(ctx); err != nil {
		return engine.Failed(target, err)
	}

	start := time.Now()
	referer = headers.RefererFor(target, referer)
	t.status.Store(0)

	if err := t.run(ctx, t.opts.NavTimeout, setNavigationHeaders(referer), chromedp.Navigate(target)); err != nil {
		return engine.Failed(target, t.classify("navigation failed", err))
	}

	if err := t.opts.Settle.Wait(ctx); err != nil {
		return engine.Failed(target, err)
	}

	if t.opts.Guard != nil {
		if err := t.opts.Guard.Check(ctx, t.Page()); err != nil {
			return engine.Failed(target, err)
		}
	}

	t.scroll(ctx)

	var title, html string
	if err := t.run(ctx, t.opts.NavTimeout,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return engine.Failed(target, t.classify("failed to read page", err))
	}

	res := models.FetchResult{
		URL:        target,
		Title:      title,
		Content:    html,
		StatusCode: int(t.status.Load()),
	}

	log.Debug().
		Str("url", target).
		Int("status", res.StatusCode).
		Int64("response_time_ms", time.Since(start).Milliseconds()).
		Int("bytes", len(html)).
		Msg("Fetch completed")

	return res
}

// scroll moves to half height then to the bottom, pausing after each.
func (t *Transport) scroll(ctx context.Context) {
	for _, js := range []string{
		`window.scrollTo(0, document.body.scrollHeight / 2)`,
		`window.scrollTo(0, document.body.scrollHeight)`,
	} {
		if err := t.run(ctx, 10*time.Second, chromedp.Evaluate(js, nil)); err != nil {
			log.Debug().Err(err).Msg("Scroll failed")
			return
		}
		if err := ratelimit.Sleep(ctx, t.opts.ScrollPause); err != nil {
			return
		}
	}
}

// run executes actions on the tab with a timeout, aborting early when ctx
// is cancelled. Cancelling a derived context stops the actions without
// closing the tab.
func (t *Transport) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	t.mu.Lock()
	tabCtx, ok := t.tabCtx, t.started && !t.closed
	t.mu.Unlock()
	if !ok {
		return engine.ErrClosed
	}

	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (t *Transport) classify(msg string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewEngineError(engine.ErrCodeTimeout, msg, engine.ErrTimeout).WithDetail("cause", err.Error())
	case errors.Is(err, engine.ErrClosed):
		return engine.NewEngineError(engine.ErrCodeClosed, msg, err)
	default:
		return engine.NewEngineError(engine.ErrCodeNetworkError, msg, err)
	}
}

func setNavigationHeaders(referer string) chromedp.Action {
	h := network.Headers{"Accept-Language": "en-US,en;q=0.9"}
	if referer != "" {
		h["Referer"] = referer
	}
	return network.SetExtraHTTPHeaders(h)
}

// Page exposes the live tab to the challenge handler.
func (t *Transport) Page() challenge.Page {
	return livePage{t: t}
}

type livePage struct {
	t *Transport
}

func (p livePage) Location(ctx context.Context) (string, error) {
	var u string
	err := p.t.run(ctx, 10*time.Second, chromedp.Location(&u))
	return u, err
}

func (p livePage) Snapshot(ctx context.Context) (string, string, error) {
	var title, html string
	err := p.t.run(ctx, 10*time.Second,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return title, html, err
}

func (p livePage) Cookies(ctx context.Context) ([]auth.Cookie, error) {
	var cookies []*network.Cookie
	err := p.t.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(cookies), nil
}
