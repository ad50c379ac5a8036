package config

import (
	"errors"
	"fmt"
	"time"

	urlutil "github.com/law-makers/racecrawl/internal/utils/url"
)

// ErrInvalidInput marks user input that must stop the run before any network activity.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError describes a rejected user input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ValidateDate checks that s parses as MM-DD-YYYY.
func ValidateDate(field, s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return &ValidationError{Field: field, Value: s, Reason: "must be a valid date in MM-DD-YYYY format"}
	}
	return nil
}

// ValidateMaxPages checks the page cap against the supported bounds.
func ValidateMaxPages(n int) error {
	if n < MinMaxPages || n > MaxMaxPages {
		return &ValidationError{
			Field:  "max-pages",
			Value:  fmt.Sprintf("%d", n),
			Reason: fmt.Sprintf("must be between %d and %d", MinMaxPages, MaxMaxPages),
		}
	}
	return nil
}

// ValidateInput runs all checks on the scrape parameters.
func ValidateInput(start, end string, maxPages int) error {
	if err := ValidateDate("start date", start); err != nil {
		return err
	}
	if err := ValidateDate("end date", end); err != nil {
		return err
	}
	return ValidateMaxPages(maxPages)
}

func validate(c *Config) error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if err := urlutil.ValidateURL(c.BaseURL); err != nil {
		return fmt.Errorf("base url: %w", err)
	}
	switch c.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("mode must be http or browser, got %q", c.Mode)
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("delay range [%s, %s] is invalid", c.DelayMin, c.DelayMax)
	}
	if c.SettleMin < 0 || c.SettleMax < c.SettleMin {
		return fmt.Errorf("settle range [%s, %s] is invalid", c.SettleMin, c.SettleMax)
	}
	if c.MinPageRecords < 1 {
		return fmt.Errorf("min page records must be >= 1, got %d", c.MinPageRecords)
	}
	if c.ChallengeTimeout <= 0 {
		return fmt.Errorf("challenge timeout must be > 0")
	}
	return nil
}
