package engine

import (
	"context"

	"github.com/law-makers/racecrawl/pkg/models"
)

// Transport is the capability every fetching backend implements.
// Fetch never returns an error: failures are logged and surface as an
// empty FetchResult.
type Transport interface {
	// Fetch retrieves the page at url. referer is used when the
	// transport has no better choice of its own.
	Fetch(ctx context.Context, url, referer string) models.FetchResult

	// SupportsChallengeDetection reports whether the transport exposes a
	// live page the challenge handler can poll.
	SupportsChallengeDetection() bool

	// Name returns the name of the transport implementation
	Name() string

	// Close releases the transport's resources. It is safe to call twice.
	Close() error
}

// Failed logs err with the engine code and returns the empty result for url.
// Both transports funnel their failures through here.
func Failed(url string, err error) models.FetchResult {
	logFailure(url, err)
	return models.FetchResult{URL: url}
}
