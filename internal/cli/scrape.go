// internal/cli/scrape.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/law-makers/racecrawl/internal/app"
	"github.com/law-makers/racecrawl/internal/config"
	"github.com/law-makers/racecrawl/internal/engine/headers"
	"github.com/law-makers/racecrawl/internal/paginate"
	"github.com/law-makers/racecrawl/internal/ui"
	"github.com/law-makers/racecrawl/pkg/models"
)

var (
	startDate  string
	endDate    string
	maxPages   int
	outputFile string
	reqHeaders []string
)

// stdin is read by the interactive prompts and the challenge confirmation.
var stdin io.Reader = os.Stdin

// newApplication is swapped in tests.
var newApplication = app.New

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape races for a date range and export them to .xlsx",
	Long: `Fetches listing pages one after another until a page comes back empty or
short, or the page cap is reached, then writes Date, Race Name and Location
for every race to an Excel workbook.

Any of --start, --end, --max-pages and --output left out is asked for
interactively when --start or --end is missing.`,
	Example: `  # Scrape February with a visible Chrome window
  racecrawl scrape --start 02-01-2026 --end 02-28-2026

  # Plain HTTP, no browser, 5 pages at most
  racecrawl scrape --start 02-01-2026 --end 02-28-2026 --mode http --max-pages 5

  # Headless Chrome into a named workbook
  racecrawl scrape --start 03-01-2026 --end 03-31-2026 --headless -o march`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	f := scrapeCmd.Flags()
	f.StringVar(&startDate, "start", "", "Start date (MM-DD-YYYY)")
	f.StringVar(&endDate, "end", "", "End date (MM-DD-YYYY)")
	f.IntVar(&maxPages, "max-pages", config.DefaultMaxPages, fmt.Sprintf("Maximum pages to scrape (%d-%d)", config.MinMaxPages, config.MaxMaxPages))
	f.StringVarP(&outputFile, "output", "o", "", "Output .xlsx file (default races_YYYYMMDD_HHMMSS.xlsx)")
	f.StringP("mode", "m", config.DefaultMode, "Transport: browser or http")
	f.Bool("headless", config.DefaultBrowserHeadless, "Run Chrome without a window")
	f.String("chrome-path", "", "Chrome executable (default: auto-detect)")
	f.Bool("bypass", config.DefaultBypass, "Use a Chrome TLS fingerprint in http mode")
	f.Duration("challenge-timeout", config.DefaultChallengeTimeout, "How long to wait for a challenge to clear on its own")
	f.Int("min-page-records", config.DefaultMinPageRecords, "A page with fewer races is treated as the last one")
	f.StringArrayVarP(&reqHeaders, "header", "H", nil, `Extra request header in http mode (e.g. -H "X-Foo: bar")`)
}

func runScrape(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	p := newPrompter(stdin, cmd.ErrOrStderr())

	if err := collectInput(cmd, p); err != nil {
		return err
	}
	if err := config.ValidateInput(startDate, endDate, maxPages); err != nil {
		return err
	}

	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	progress := &progressObserver{out: cmd.ErrOrStderr(), enabled: !cfg.JSONLog}
	a, err := newApplication(ctx, cfg, app.Options{
		Confirmer:    p,
		Observer:     progress,
		ExtraHeaders: headers.ParseHeaders(reqHeaders),
		LogWriter:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	SetApp(cmd, a)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	fmt.Fprintf(out, "\n%s\n", ui.Bold("🏃 Race Scraper"))
	fmt.Fprintln(out, ui.Rule())
	fmt.Fprintf(out, "  %s %s to %s\n", ui.ColorBold+"Dates:"+ui.ColorReset, startDate, endDate)
	fmt.Fprintf(out, "  %s %d\n", ui.ColorBold+"Pages:"+ui.ColorReset, maxPages)
	fmt.Fprintf(out, "  %s %s\n\n", ui.ColorBold+"Mode:"+ui.ColorReset, a.Transport.Name())

	races, scrapeErr := a.Scrape(ctx, startDate, endDate, maxPages)
	progress.finish()

	interrupted := errors.Is(scrapeErr, context.Canceled)
	if scrapeErr != nil && !interrupted {
		return scrapeErr
	}
	if interrupted {
		fmt.Fprintln(out, ui.Info("\nInterrupted, keeping the races scraped so far."))
	}

	if len(races) == 0 {
		fmt.Fprintln(out, "\nNo races found for the specified date range.")
		return scrapeErr
	}

	path, err := a.Export(races, outputFile)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	printSummary(out, races, path)
	return scrapeErr
}

// collectInput prompts for whatever was not given on the command line. It
// only prompts when the date range itself is incomplete.
func collectInput(cmd *cobra.Command, p *prompter) error {
	if startDate != "" && endDate != "" {
		return nil
	}

	fmt.Fprintln(p.out, "Enter date range in MM-DD-YYYY format")
	if startDate == "" {
		startDate = p.Ask("Start date (e.g., 01-31-2026):")
	}
	if endDate == "" {
		endDate = p.Ask("End date (e.g., 02-01-2026):")
	}
	if !cmd.Flags().Changed("max-pages") {
		n, err := p.AskInt(fmt.Sprintf("Maximum pages to scrape (default %d):", config.DefaultMaxPages), config.DefaultMaxPages)
		if err != nil {
			return &config.ValidationError{Field: "max-pages", Reason: err.Error()}
		}
		maxPages = n
	}
	if !cmd.Flags().Changed("output") {
		outputFile = p.Ask("Output filename (press Enter for auto-generated):")
	}
	return nil
}

func printSummary(w io.Writer, races []models.Race, path string) {
	fmt.Fprintln(w, ui.Success(fmt.Sprintf("\n✓ Exported %d races to %s", len(races), path)))
	fmt.Fprintf(w, "\n%s\n", ui.Bold("Sample of first 3 races:"))
	for i, r := range races {
		if i == 3 {
			break
		}
		fmt.Fprintf(w, "  %d. %s, %s, %s\n", i+1, r.Date, r.Name, r.Location)
	}
	fmt.Fprintln(w)
}

// progressObserver draws a page progress bar.
type progressObserver struct {
	out     io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
}

// OnPage is a no-op while info logs are visible, since they report the
// same progress.
func (o *progressObserver) OnPage(p paginate.Progress) {
	if !o.enabled || app.Verbose() {
		return
	}
	if o.bar == nil {
		o.bar = progressbar.NewOptions(p.MaxPages,
			progressbar.OptionSetWriter(o.out),
			progressbar.OptionSetDescription("Scraping"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionFullWidth(),
		)
	}
	o.bar.Describe(fmt.Sprintf("Page %d, %d races", p.Page, p.Total))
	_ = o.bar.Set(p.Page)
	if p.Stop != "" {
		o.finish()
	}
}

func (o *progressObserver) finish() {
	if o.bar == nil {
		return
	}
	_ = o.bar.Finish()
	fmt.Fprintln(o.out)
	o.bar = nil
}
