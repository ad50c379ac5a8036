// internal/engine/static/transport.go
package static

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	utls "github.com/refraction-networking/utls"
	"github.com/rs/zerolog/log"
	netproxy "golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/law-makers/racecrawl/internal/challenge"
	"github.com/law-makers/racecrawl/internal/engine"
	"github.com/law-makers/racecrawl/internal/engine/headers"
	"github.com/law-makers/racecrawl/internal/proxy"
	"github.com/law-makers/racecrawl/internal/retry"
	"github.com/law-makers/racecrawl/pkg/models"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// Options configures the HTTP transport.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Bypass dials TLS with a Chrome ClientHello instead of Go's own.
	Bypass       bool
	Session      *auth.Session
	Proxies      *proxy.Pool
	Retry        retry.Config
	ExtraHeaders map[string]string
}

// Transport fetches listing pages over plain HTTP with browser-like headers.
type Transport struct {
	opts Options
	jar  http.CookieJar

	mu      sync.Mutex
	clients map[string]*http.Client
	closed  bool
}

// New creates a Transport and seeds its cookie jar from opts.Session.
func New(opts Options) (*Transport, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if opts.Session != nil && opts.Session.Len() > 0 && opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		cookies := opts.Session.HTTPCookies()
		jar.SetCookies(base, cookies)
		log.Debug().Int("cookies", len(cookies)).Msg("Session cookies injected")
	}

	return &Transport{
		opts:    opts,
		jar:     jar,
		clients: make(map[string]*http.Client),
	}, nil
}

// Name returns the name of this transport
func (t *Transport) Name() string {
	return "http"
}

// SupportsChallengeDetection is false: there is no live page to poll.
func (t *Transport) SupportsChallengeDetection() bool {
	return false
}

// Close drops idle connections.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
	t.clients = map[string]*http.Client{}
	t.closed = true
	return nil
}

// Fetch retrieves target. Transient failures are retried; a certificate
// verification failure is retried once without verification. Any remaining
// failure yields an empty result.
func (t *Transport) Fetch(ctx context.Context, target, referer string) models.FetchResult {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return engine.Failed(target, engine.NewEngineError(engine.ErrCodeClosed, "fetch after close", engine.ErrClosed))
	}

	start := time.Now()
	referer = headers.RefererFor(target, referer)

	res, err := t.fetchWithRetry(ctx, target, referer, false)
	if err != nil && isCertificateError(err) && ctx.Err() == nil {
		log.Warn().Str("url", target).Msg("SSL verification failed, trying without verification")
		res, err = t.fetchWithRetry(ctx, target, referer, true)
	}
	if err != nil {
		return engine.Failed(target, err)
	}

	if kind := challenge.Detect(res.Title, res.Content); kind != challenge.KindNone {
		log.Warn().
			Str("url", target).
			Str("kind", string(kind)).
			Msg("Challenge page received over HTTP; browser mode can solve it")
	}

	log.Debug().
		Str("url", target).
		Int("status", res.StatusCode).
		Int64("response_time_ms", time.Since(start).Milliseconds()).
		Int("bytes", len(res.Content)).
		Msg("Fetch completed")

	return res
}

func (t *Transport) fetchWithRetry(ctx context.Context, target, referer string, insecure bool) (models.FetchResult, error) {
	var res models.FetchResult
	err := retry.WithRetry(ctx, t.opts.Retry, func() error {
		r, err := t.do(ctx, target, referer, insecure)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (t *Transport) do(ctx context.Context, target, referer string, insecure bool) (models.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.FetchResult{}, engine.NewEngineError(engine.ErrCodeNetworkError, "failed to create request", engine.ErrInvalidURL)
	}
	if t.opts.Bypass {
		req.Header = headers.Chrome(referer)
	} else {
		req.Header = headers.Browser(referer)
	}
	for k, v := range t.opts.ExtraHeaders {
		req.Header.Set(k, v)
	}

	proxyURL := t.opts.Proxies.Next()
	client, err := t.client(proxyURL, insecure)
	if err != nil {
		return models.FetchResult{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		if proxyURL != nil {
			t.opts.Proxies.MarkFailed(proxyURL)
		}
		switch {
		case isCertificateError(err):
			return models.FetchResult{}, engine.NewEngineError(engine.ErrCodeTLS, "certificate verification failed", fmt.Errorf("%w: %w", engine.ErrTLSError, err))
		case ctx.Err() != nil:
			return models.FetchResult{}, ctx.Err()
		case isTimeout(err):
			return models.FetchResult{}, engine.NewEngineError(engine.ErrCodeTimeout, "request timed out", err).WithRetry()
		default:
			return models.FetchResult{}, engine.NewEngineError(engine.ErrCodeNetworkError, "failed to fetch URL", err).WithRetry()
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return models.FetchResult{}, retry.NewHTTPError(resp.StatusCode, resp.Status, target)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return models.FetchResult{}, engine.NewEngineError(engine.ErrCodeDecode, "failed to read body", err).
			WithDetail("encoding", resp.Header.Get("Content-Encoding"))
	}

	if proxyURL != nil {
		t.opts.Proxies.MarkHealthy(proxyURL)
	}

	return models.FetchResult{
		URL:        target,
		Title:      pageTitle(body),
		Content:    string(body),
		StatusCode: resp.StatusCode,
	}, nil
}

// client returns a cached client for the proxy/verification combination.
// All clients share the cookie jar.
func (t *Transport) client(proxyURL *url.URL, insecure bool) (*http.Client, error) {
	key := "direct"
	if proxyURL != nil {
		key = proxyURL.String()
	}
	if insecure {
		key += "|insecure"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	dialer := &net.Dialer{Timeout: t.opts.Timeout, KeepAlive: 30 * time.Second}
	dial := dialer.DialContext

	tr := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: t.opts.Timeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: insecure},
	}

	if proxyURL != nil {
		switch proxyURL.Scheme {
		case "socks5", "socks5h":
			pd, err := netproxy.FromURL(proxyURL, dialer)
			if err != nil {
				return nil, engine.NewEngineError(engine.ErrCodeNetworkError, "invalid socks proxy", err)
			}
			cd, ok := pd.(netproxy.ContextDialer)
			if !ok {
				return nil, engine.NewEngineError(engine.ErrCodeNetworkError, "socks proxy cannot dial with context", engine.ErrNetworkError)
			}
			dial = cd.DialContext
		default:
			tr.Proxy = http.ProxyURL(proxyURL)
			if t.opts.Bypass {
				// net/http runs the TLS handshake itself after CONNECT.
				log.Debug().Str("proxy", proxyURL.Host).Msg("Chrome TLS fingerprint not applied through HTTP proxy")
			}
		}
	}
	tr.DialContext = dial

	if t.opts.Bypass {
		tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, dial, network, addr, insecure)
		}
	}

	c := &http.Client{
		Transport: tr,
		Jar:       t.jar,
		Timeout:   t.opts.Timeout,
	}
	t.clients[key] = c
	return c, nil
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via
// utls. ALPN is narrowed to HTTP/1.1 since net/http cannot speak h2 over a
// custom TLS conn.
func dialTLSChrome(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), network, addr string, insecure bool) (net.Conn, error) {
	rawConn, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	hello, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("chrome client hello: %w", err)
	}
	for _, ext := range hello.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
	}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(&hello); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("apply chrome hello: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// decodeBody reads the response body, undoing any Content-Encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return raw, nil
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		// Servers disagree on zlib-wrapped versus raw deflate.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			r = fr
		}
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", engine.ErrDecodeError, resp.Header.Get("Content-Encoding"))
	}

	return io.ReadAll(io.LimitReader(r, maxBodySize))
}

func pageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func isCertificateError(err error) bool {
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	var verifyErr *tls.CertificateVerificationError
	return errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &verifyErr)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
