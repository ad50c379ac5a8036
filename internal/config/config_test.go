package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	cmd.Flags().String("mode", DefaultMode, "")
	cmd.Flags().Bool("headless", DefaultBrowserHeadless, "")
	cmd.Flags().Int("min-page-records", DefaultMinPageRecords, "")
	return cmd
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"01-31-2026", true},
		{"02-01-2026", true},
		{"13-45-2026", false},
		{"2026-01-31", false},
		{"", false},
		{"1-31-2026", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateDate("start date", tt.in)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestValidateMaxPages(t *testing.T) {
	assert.NoError(t, ValidateMaxPages(1))
	assert.NoError(t, ValidateMaxPages(50))
	assert.ErrorIs(t, ValidateMaxPages(0), ErrInvalidInput)
	assert.ErrorIs(t, ValidateMaxPages(51), ErrInvalidInput)
}

func TestValidateInput_StopsAtFirstBadField(t *testing.T) {
	err := ValidateInput("13-45-2026", "02-01-2026", 20)
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "start date", vErr.Field)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newTestCommand())
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "browser", cfg.Mode)
	assert.Equal(t, DefaultMinPageRecords, cfg.MinPageRecords)
	assert.Equal(t, 30*time.Second, cfg.ChallengeTimeout)
	assert.Equal(t, DefaultSessionFile, cfg.SessionFile)
	assert.True(t, cfg.Bypass)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("RACECRAWL_MODE", "http")
	t.Setenv("RACECRAWL_MIN_PAGE_RECORDS", "25")

	cmd := newTestCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--min-page-records=5", "--proxy=http://a:1, http://b:2", "-v"}))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, 5, cfg.MinPageRecords)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.Proxies)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "racecrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: http\nchallenge-timeout: 10s\n"), 0o600))

	cmd := newTestCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config=" + path}))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.ChallengeTimeout)
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--mode=carrier-pigeon"}))

	_, err := Load(cmd)
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveMinPageRecords(t *testing.T) {
	for _, v := range []string{"0", "-3"} {
		cmd := newTestCommand()
		require.NoError(t, cmd.ParseFlags([]string{"--min-page-records=" + v}))

		_, err := Load(cmd)
		assert.Error(t, err, v)
	}
}
