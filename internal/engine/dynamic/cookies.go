package dynamic

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/law-makers/racecrawl/internal/auth"
)

// cookieParams converts stored cookies for network.SetCookies. Cookies
// without a domain are bound to baseURL.
func cookieParams(baseURL string, cookies []auth.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Domain == "" {
			p.URL = baseURL
		}
		if p.Path == "" {
			p.Path = "/"
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none":
			p.SameSite = network.CookieSameSiteNone
		}
		if exp := c.Expires(); !exp.IsZero() {
			e := cdp.TimeSinceEpoch(exp)
			p.Expires = &e
		}
		params = append(params, p)
	}
	return params
}

// fromNetworkCookies converts browser cookies into the session file shape.
func fromNetworkCookies(cookies []*network.Cookie) []auth.Cookie {
	out := make([]auth.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		ac := auth.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			ac.Expiry = c.Expires
		}
		out = append(out, ac)
	}
	return out
}
