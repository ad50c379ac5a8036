package proxy

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

// DefaultCooldown is how long a failed proxy is skipped.
const DefaultCooldown = 5 * time.Minute

// Pool rotates through proxy URLs round-robin, skipping ones that failed
// recently.
type Pool struct {
	proxies  []*url.URL
	index    int
	mu       sync.Mutex
	failed   map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewPool parses raw proxy URLs into a Pool. Only http, https and socks5
// schemes are accepted.
func NewPool(raw []string) (*Pool, error) {
	p := &Pool{
		failed:   make(map[string]time.Time),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, r := range raw {
		u, err := url.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", r, err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return nil, fmt.Errorf("invalid proxy %q: unsupported scheme %q", r, u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q: missing host", r)
		}
		p.proxies = append(p.proxies, u)
	}
	return p, nil
}

// Len returns the number of proxies.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

// Next returns the next healthy proxy, or nil when the pool is empty. When
// every proxy is cooling down the next one in line is returned anyway.
// A nil Pool behaves as an empty one.
func (p *Pool) Next() *url.URL {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}

	start := p.index
	for {
		proxy := p.proxies[p.index]
		p.index = (p.index + 1) % len(p.proxies)

		failTime, ok := p.failed[proxy.String()]
		if !ok {
			return proxy
		}
		if p.now().Sub(failTime) >= p.cooldown {
			delete(p.failed, proxy.String())
			return proxy
		}
		if p.index == start {
			return proxy
		}
	}
}

// MarkFailed puts proxy on cooldown.
func (p *Pool) MarkFailed(proxy *url.URL) {
	if p == nil || proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[proxy.String()] = p.now()
}

// MarkHealthy clears the failure status of a proxy
func (p *Pool) MarkHealthy(proxy *url.URL) {
	if p == nil || proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failed, proxy.String())
}
