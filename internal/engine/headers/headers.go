// Package headers builds the browser-like request headers sent by every
// transport.
package headers

import (
	"math/rand/v2"
	"net/http"
	"strings"

	urlutil "github.com/law-makers/racecrawl/internal/utils/url"
)

// SiteRoot is used as Referer for requests to the listing site.
const SiteRoot = "https://runningintheusa.com/"

// UserAgents is the pool a request's User-Agent is drawn from.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// RandomUserAgent picks a User-Agent from the pool.
func RandomUserAgent() string {
	return UserAgents[rand.IntN(len(UserAgents))]
}

// ChromeUserAgent picks a Chrome User-Agent from the pool, for use by a
// real Chrome whose other fingerprints must agree with it.
func ChromeUserAgent() string {
	var chrome []string
	for _, ua := range UserAgents {
		if strings.Contains(ua, "Chrome/") {
			chrome = append(chrome, ua)
		}
	}
	return chrome[rand.IntN(len(chrome))]
}

// Browser returns a full navigation header set with a freshly drawn
// User-Agent. Referer is only set when non-empty.
func Browser(referer string) http.Header {
	return navigation(RandomUserAgent(), referer)
}

// Chrome is Browser restricted to Chrome User-Agents, for requests whose TLS
// handshake already claims to be Chrome.
func Chrome(referer string) http.Header {
	return navigation(ChromeUserAgent(), referer)
}

func navigation(userAgent, referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

// RefererFor returns the site root for URLs on the listing host, and
// fallback otherwise.
func RefererFor(target, fallback string) string {
	if urlutil.Host(target) == urlutil.Host(SiteRoot) {
		return SiteRoot
	}
	return fallback
}

// ParseHeaders converts an array of header strings ("Key: Value") into a map
func ParseHeaders(h []string) map[string]string {
	m := make(map[string]string)
	for _, hdr := range h {
		parts := strings.SplitN(hdr, ":", 2)
		if len(parts) == 2 {
			m[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return m
}
