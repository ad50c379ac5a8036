package challenge

import (
	"strings"

	"github.com/law-makers/racecrawl/internal/extractor"
)

// Kind names the family of a detected challenge page.
type Kind string

const (
	KindNone       Kind = ""
	KindCloudflare Kind = "cloudflare"
	KindTurnstile  Kind = "cloudflare-turnstile"
	KindHCaptcha   Kind = "hcaptcha"
	KindReCaptcha  Kind = "recaptcha"
	KindAntiBot    Kind = "anti-bot"
)

// Indicators are the phrases that mark a page as a challenge when found in
// its lower-cased title or content.
var Indicators = []string{
	"checking your browser",
	"cf-challenge",
	"cf_chl_opt",
	"verify you are human",
}

// Title-only phrases are too common in ordinary page bodies and only count
// when they appear in the title.
var (
	cloudflareTitles = []string{"just a moment", "attention required", "cloudflare"}
	antiBotTitles    = []string{"access denied", "bot detection"}
)

// Widget markers. Listing pages may embed these in newsletter or login
// forms, so they only count on a page without listing blocks.
var (
	turnstileMarkers = []string{"challenges.cloudflare.com", "cf-turnstile"}
	hcaptchaMarkers  = []string{"hcaptcha.com", "h-captcha"}
	recaptchaMarkers = []string{"google.com/recaptcha", "g-recaptcha"}
)

// Detect reports the challenge family of a page, or KindNone.
func Detect(title, html string) Kind {
	t := strings.ToLower(title)
	h := strings.ToLower(html)

	for _, p := range Indicators {
		if strings.Contains(t, p) || strings.Contains(h, p) {
			return KindCloudflare
		}
	}
	// Ordinary pages load scripts from cdnjs.cloudflare.com.
	if containsAny(t, cloudflareTitles) {
		return KindCloudflare
	}
	if containsAny(t, antiBotTitles) {
		return KindAntiBot
	}
	if strings.Contains(h, "robot or human") {
		return KindAntiBot
	}

	if kind := widgetKind(h); kind != KindNone && !extractor.HasListings(html) {
		return kind
	}
	return KindNone
}

func widgetKind(h string) Kind {
	switch {
	case containsAny(h, turnstileMarkers):
		return KindTurnstile
	case containsAny(h, hcaptchaMarkers):
		return KindHCaptcha
	case containsAny(h, recaptchaMarkers):
		return KindReCaptcha
	}
	return KindNone
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsChallenge reports whether the page looks like a challenge.
func IsChallenge(title, html string) bool {
	return Detect(title, html) != KindNone
}
