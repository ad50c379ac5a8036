package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RACECRAWL_MODE=http.
const EnvPrefix = "RACECRAWL"

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string
	JSONLog  bool

	// Transport
	BaseURL     string
	Mode        string
	HTTPTimeout time.Duration
	Bypass      bool
	Proxies     []string

	// Browser
	BrowserHeadless bool
	ChromePath      string

	// Pagination and pacing
	MinPageRecords int
	DelayMin       time.Duration
	DelayMax       time.Duration
	SettleMin      time.Duration
	SettleMax      time.Duration
	RateLimitRPS   float64
	RateLimitBurst int

	// Challenge handling and session persistence
	SessionFile       string
	ChallengeTimeout  time.Duration
	ChallengePoll     time.Duration
	MaxURLChanges     int
	MaxChallengeLoops int
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		LogLevel:          DefaultLogLevel,
		JSONLog:           DefaultJSONLog,
		BaseURL:           DefaultBaseURL,
		Mode:              DefaultMode,
		HTTPTimeout:       DefaultHTTPTimeout,
		Bypass:            DefaultBypass,
		BrowserHeadless:   DefaultBrowserHeadless,
		MinPageRecords:    DefaultMinPageRecords,
		DelayMin:          DefaultDelayMin,
		DelayMax:          DefaultDelayMax,
		SettleMin:         DefaultSettleMin,
		SettleMax:         DefaultSettleMax,
		RateLimitRPS:      DefaultRateLimitRPS,
		RateLimitBurst:    DefaultRateLimitBurst,
		SessionFile:       DefaultSessionFile,
		ChallengeTimeout:  DefaultChallengeTimeout,
		ChallengePoll:     DefaultChallengePoll,
		MaxURLChanges:     DefaultMaxURLChanges,
		MaxChallengeLoops: DefaultMaxChallengeLoops,
	}
}

// Load builds a Config by combining defaults, an optional config file, environment variables, and CLI flags.
// Caller should pass the executing *cobra.Command so its flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// CHROME_PATH is honoured unprefixed too.
	_ = v.BindEnv("chrome-path", EnvPrefix+"_CHROME_PATH", "CHROME_PATH")

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg.BaseURL = strings.TrimRight(v.GetString("base-url"), "/")
	cfg.Mode = strings.ToLower(v.GetString("mode"))
	cfg.Bypass = v.GetBool("bypass")
	cfg.BrowserHeadless = v.GetBool("headless")
	cfg.ChromePath = v.GetString("chrome-path")
	cfg.SessionFile = v.GetString("session-file")
	cfg.MinPageRecords = v.GetInt("min-page-records")
	cfg.DelayMin = v.GetDuration("delay-min")
	cfg.DelayMax = v.GetDuration("delay-max")
	cfg.SettleMin = v.GetDuration("settle-min")
	cfg.SettleMax = v.GetDuration("settle-max")
	cfg.RateLimitRPS = v.GetFloat64("rate-limit-rps")
	cfg.RateLimitBurst = v.GetInt("rate-limit-burst")
	cfg.ChallengeTimeout = v.GetDuration("challenge-timeout")
	cfg.ChallengePoll = v.GetDuration("challenge-poll")
	cfg.MaxURLChanges = v.GetInt("max-url-changes")
	cfg.MaxChallengeLoops = v.GetInt("max-challenge-loops")

	if s := v.GetString("timeout"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.HTTPTimeout = d
		}
	}
	if s := v.GetString("proxy"); s != "" {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Proxies = append(cfg.Proxies, p)
			}
		}
	}
	if v.GetBool("json") {
		cfg.JSONLog = true
	}
	switch {
	case v.GetBool("verbose"):
		cfg.LogLevel = "debug"
	case v.GetBool("quiet"):
		cfg.LogLevel = "error"
	default:
		if lvl := v.GetString("log-level"); lvl != "" {
			cfg.LogLevel = strings.ToLower(lvl)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("base-url", cfg.BaseURL)
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("timeout", cfg.HTTPTimeout.String())
	v.SetDefault("bypass", cfg.Bypass)
	v.SetDefault("headless", cfg.BrowserHeadless)
	v.SetDefault("session-file", cfg.SessionFile)
	v.SetDefault("min-page-records", cfg.MinPageRecords)
	v.SetDefault("delay-min", cfg.DelayMin)
	v.SetDefault("delay-max", cfg.DelayMax)
	v.SetDefault("settle-min", cfg.SettleMin)
	v.SetDefault("settle-max", cfg.SettleMax)
	v.SetDefault("rate-limit-rps", cfg.RateLimitRPS)
	v.SetDefault("rate-limit-burst", cfg.RateLimitBurst)
	v.SetDefault("challenge-timeout", cfg.ChallengeTimeout)
	v.SetDefault("challenge-poll", cfg.ChallengePoll)
	v.SetDefault("max-url-changes", cfg.MaxURLChanges)
	v.SetDefault("max-challenge-loops", cfg.MaxChallengeLoops)
}
