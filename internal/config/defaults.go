package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel = "info"
	DefaultJSONLog  = false

	DefaultBaseURL     = "https://runningintheusa.com"
	DefaultMode        = "browser"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultBypass      = true

	DefaultMaxPages       = 20
	MinMaxPages           = 1
	MaxMaxPages           = 50
	DefaultMinPageRecords = 10

	DefaultDelayMin  = 2 * time.Second
	DefaultDelayMax  = 5 * time.Second
	DefaultSettleMin = 3 * time.Second
	DefaultSettleMax = 5 * time.Second

	// Floor between two requests to the same host, on top of the random delay.
	DefaultRateLimitRPS   = 0.5
	DefaultRateLimitBurst = 1

	DefaultBrowserHeadless = false

	DefaultSessionFile       = "scraper_session.json"
	DefaultChallengeTimeout  = 30 * time.Second
	DefaultChallengePoll     = 1 * time.Second
	DefaultMaxURLChanges     = 5
	DefaultMaxChallengeLoops = 10

	// DateLayout is the MM-DD-YYYY layout used by the listing URLs.
	DateLayout = "01-02-2006"
)
