// internal/cli/sessions.go
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/law-makers/racecrawl/internal/config"
	"github.com/law-makers/racecrawl/internal/ui"
)

var clearYes bool

// sessionCmd represents the session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or remove the saved challenge session",
	Long: `The session file holds the cookies captured after a challenge was
solved. It is loaded at startup so later runs can skip the challenge.

The file is plain JSON; pass --session-file to use another location.`,
	Example: `  # Show the cookies in the session file
  racecrawl session show

  # Delete the session file
  racecrawl session clear --yes`,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved session cookies",
	Args:  cobra.NoArgs,
	RunE:  runSessionShow,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved session file",
	Args:  cobra.NoArgs,
	RunE:  runSessionClear,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)

	sessionClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")
}

func sessionStore(cmd *cobra.Command) (*auth.Store, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}
	return auth.NewStore(cfg.SessionFile), nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	store, err := sessionStore(cmd)
	if err != nil {
		return err
	}

	if !store.Exists() {
		fmt.Fprintf(out, "\nNo saved session at %s.\n", store.Path())
		fmt.Fprintln(out, "\nA session is saved after the first challenge is solved in browser mode.")
		fmt.Fprintln(out)
		return nil
	}

	session, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load session '%s': %w", store.Path(), err)
	}

	fmt.Fprintf(out, "\n%s\n", ui.Bold("🔍 Session: "+store.Path()))
	fmt.Fprintln(out, ui.Rule())
	printCookies(out, session.Cookies(), time.Now())
	fmt.Fprintln(out)
	return nil
}

func printCookies(w io.Writer, cookies []auth.Cookie, now time.Time) {
	fmt.Fprintf(w, "\nCookies (%d):\n", len(cookies))
	for _, c := range cookies {
		status := "session"
		if exp := c.Expires(); !exp.IsZero() {
			if now.After(exp) {
				status = ui.Error(fmt.Sprintf("expired %s ago", now.Sub(exp).Round(time.Minute)))
			} else {
				status = fmt.Sprintf("expires in %s", exp.Sub(now).Round(time.Minute))
			}
		}
		fmt.Fprintf(w, "  • %s (domain: %s) %s\n", c.Name, c.Domain, ui.ColorDim+status+ui.ColorReset)
	}
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	store, err := sessionStore(cmd)
	if err != nil {
		return err
	}

	if !store.Exists() {
		fmt.Fprintf(out, "No saved session at %s.\n", store.Path())
		return nil
	}

	if !clearYes {
		p := newPrompter(stdin, out)
		answer := p.Ask(fmt.Sprintf("\n⚠️  Delete session file '%s'? [y/N]:", store.Path()))
		if !strings.EqualFold(answer, "y") {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(out, ui.Success(fmt.Sprintf("✓ Session '%s' deleted.", store.Path())))
	return nil
}
