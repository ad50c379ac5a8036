// Package paginate walks the date-range listing page by page.
package paginate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/law-makers/racecrawl/internal/config"
	"github.com/law-makers/racecrawl/internal/engine"
	"github.com/law-makers/racecrawl/internal/extractor"
	"github.com/law-makers/racecrawl/internal/ratelimit"
	"github.com/law-makers/racecrawl/internal/reqctx"
	"github.com/law-makers/racecrawl/pkg/models"
)

// StopReason says why pagination ended.
type StopReason string

const (
	StopMaxPages    StopReason = "max_pages"
	StopEmptyPage   StopReason = "empty_page"
	StopPartialPage StopReason = "partial_page"
	StopInterrupted StopReason = "interrupted"
)

// Progress is reported to the Observer after every page.
type Progress struct {
	Page     int
	MaxPages int
	URL      string
	Found    int
	Total    int
	// Stop is set on the last report of a run.
	Stop StopReason
}

// Observer receives per-page progress.
type Observer interface {
	OnPage(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

func (f ObserverFunc) OnPage(p Progress) { f(p) }

// Options configures a Controller.
type Options struct {
	BaseURL string
	// MinPageRecords is the page size below which a page is taken to be
	// the last one.
	MinPageRecords int
	Pacer          ratelimit.Waiter
	Observer       Observer
	// Extract defaults to extractor.Extract.
	Extract func(content string) []models.Race
}

// Controller drives one transport through the listing pages.
type Controller struct {
	transport engine.Transport
	opts      Options
}

// New creates a Controller.
func New(transport engine.Transport, opts Options) *Controller {
	if opts.BaseURL == "" {
		opts.BaseURL = config.DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MinPageRecords <= 0 {
		opts.MinPageRecords = config.DefaultMinPageRecords
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewPacer(config.DefaultDelayMin, config.DefaultDelayMax, 0, 0)
	}
	if opts.Extract == nil {
		opts.Extract = extractor.Extract
	}
	return &Controller{transport: transport, opts: opts}
}

// PageURL builds the listing URL for page n of a date range.
func PageURL(base, start, end string, n int) string {
	return fmt.Sprintf("%s/classic/list/map/%s-to-%s/10k-to-100m/page-%d", strings.TrimRight(base, "/"), start, end, n)
}

// validateRange checks dates and a positive page count. The upper page cap
// is a CLI policy, see config.ValidateMaxPages.
func validateRange(start, end string, maxPages int) error {
	if err := config.ValidateDate("start date", start); err != nil {
		return err
	}
	if err := config.ValidateDate("end date", end); err != nil {
		return err
	}
	if maxPages < 1 {
		return &config.ValidationError{Field: "max-pages", Value: fmt.Sprintf("%d", maxPages), Reason: "must be at least 1"}
	}
	return nil
}

// ScrapeDateRange fetches pages 1..maxPages and returns every race found,
// in page order. It stops early after an empty page, or after a page with
// fewer than MinPageRecords races (which is kept). When ctx is cancelled
// the races gathered so far are returned together with ctx.Err().
func (c *Controller) ScrapeDateRange(ctx context.Context, start, end string, maxPages int) ([]models.Race, error) {
	if err := validateRange(start, end, maxPages); err != nil {
		return nil, err
	}

	logger := reqctx.Logger(ctx)
	begin := time.Now()
	all := []models.Race{}
	referer := c.opts.BaseURL + "/"
	stop := StopMaxPages

	logger.Info().
		Str("start", start).
		Str("end", end).
		Int("max_pages", maxPages).
		Str("transport", c.transport.Name()).
		Msg("Starting scrape")

	for page := 1; page <= maxPages; page++ {
		url := PageURL(c.opts.BaseURL, start, end, page)

		if err := c.opts.Pacer.Wait(ctx); err != nil {
			c.report(Progress{Page: page, MaxPages: maxPages, URL: url, Total: len(all), Stop: StopInterrupted})
			return all, err
		}

		logger.Info().Int("page", page).Int("max_pages", maxPages).Str("url", url).Msg("Scraping page")
		res := c.transport.Fetch(ctx, url, referer)
		if err := ctx.Err(); err != nil {
			c.report(Progress{Page: page, MaxPages: maxPages, URL: url, Total: len(all), Stop: StopInterrupted})
			return all, err
		}

		races := c.opts.Extract(res.Content)
		all = append(all, races...)
		referer = url

		p := Progress{Page: page, MaxPages: maxPages, URL: url, Found: len(races), Total: len(all)}
		switch {
		case len(races) == 0:
			logger.Info().Int("page", page).Msg("No races found, stopping pagination")
			stop = StopEmptyPage
		case len(races) < c.opts.MinPageRecords:
			logger.Info().
				Int("page", page).
				Int("found", len(races)).
				Int("min_page_records", c.opts.MinPageRecords).
				Msg("Fewer races than expected, likely the last page")
			stop = StopPartialPage
		default:
			logger.Info().Int("page", page).Int("found", len(races)).Int("total", len(all)).Msg("Page scraped")
		}

		if stop != StopMaxPages || page == maxPages {
			p.Stop = stop
			c.report(p)
			break
		}
		c.report(p)
	}

	logger.Info().
		Int("races", len(all)).
		Str("stop", string(stop)).
		Dur("elapsed", time.Since(begin)).
		Msg("Scrape finished")

	return all, nil
}

func (c *Controller) report(p Progress) {
	if c.opts.Observer != nil {
		c.opts.Observer.OnPage(p)
	}
}
