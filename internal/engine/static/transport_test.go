// internal/engine/static/transport_test.go
package static

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/law-makers/racecrawl/internal/engine/headers"
	"github.com/law-makers/racecrawl/internal/retry"
)

const listingPage = `<!DOCTYPE html>
<html>
<head><title>Races 01-31-2026 to 02-01-2026</title></head>
<body>
	<div class="list-item"><div class="date">Jan 31, 2026</div><a class="thick">Frosty 10K</a><div class="location">Austin, TX</div></div>
</body>
</html>`

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func newTestTransport(t *testing.T, opts Options) *Transport {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	tr, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTransport_Fetch_BasicHTML(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	tr := newTestTransport(t, Options{})
	res := tr.Fetch(context.Background(), server.URL, "https://example.org/")

	require.False(t, res.Empty())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Races 01-31-2026 to 02-01-2026", res.Title)
	assert.Contains(t, res.Content, "Frosty 10K")

	assert.Contains(t, headers.UserAgents, got.Get("User-Agent"))
	assert.Equal(t, "https://example.org/", got.Get("Referer"))
	assert.Equal(t, "navigate", got.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "gzip, deflate, br", got.Get("Accept-Encoding"))
	assert.False(t, tr.SupportsChallengeDetection())
	assert.Equal(t, "http", tr.Name())
}

func TestTransport_Fetch_DecodesCompressedBodies(t *testing.T) {
	encoders := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write(b)
			zw.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			bw.Write(b)
			bw.Close()
			return buf.Bytes()
		},
	}

	for enc, encode := range encoders {
		t.Run(enc, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", enc)
				w.Header().Set("Content-Type", "text/html")
				w.Write(encode([]byte(listingPage)))
			}))
			defer server.Close()

			res := newTestTransport(t, Options{}).Fetch(context.Background(), server.URL, "")
			assert.Contains(t, res.Content, "Frosty 10K")
		})
	}
}

func TestTransport_Fetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	res := newTestTransport(t, Options{}).Fetch(context.Background(), server.URL, "")

	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, res.Content, "Frosty 10K")
}

func TestTransport_Fetch_GivesUpWithEmptyResult(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	res := newTestTransport(t, Options{}).Fetch(context.Background(), server.URL, "")

	assert.True(t, res.Empty())
	assert.Equal(t, server.URL, res.URL)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransport_Fetch_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	res := newTestTransport(t, Options{}).Fetch(context.Background(), server.URL, "")

	assert.True(t, res.Empty())
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_Fetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	res := newTestTransport(t, Options{}).Fetch(context.Background(), addr, "")
	assert.True(t, res.Empty())
}

func TestTransport_Fetch_FallsBackOnCertificateError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	res := newTestTransport(t, Options{}).Fetch(context.Background(), server.URL, "")

	assert.Contains(t, res.Content, "Frosty 10K")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_Fetch_ChallengePageStillReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`))
	}))
	defer server.Close()

	res := newTestTransport(t, Options{}).Fetch(context.Background(), server.URL, "")

	assert.Equal(t, "Just a moment...", res.Title)
	assert.False(t, res.Empty())
}

func TestTransport_Fetch_SendsSessionCookies(t *testing.T) {
	var cookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("cf_clearance"); err == nil {
			cookie = c.Value
		}
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	session := auth.NewSession([]auth.Cookie{{Name: "cf_clearance", Value: "token", Path: "/"}})
	tr := newTestTransport(t, Options{BaseURL: server.URL, Session: session})
	tr.Fetch(context.Background(), server.URL+"/classic/list/map/page-1", "")

	assert.Equal(t, "token", cookie)
}

func TestTransport_Fetch_ExtraHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Trace")
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	tr := newTestTransport(t, Options{ExtraHeaders: map[string]string{"X-Trace": "abc"}})
	tr.Fetch(context.Background(), server.URL, "")

	assert.Equal(t, "abc", got)
}

func TestTransport_Fetch_AfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	tr := newTestTransport(t, Options{})
	require.NoError(t, tr.Close())

	assert.True(t, tr.Fetch(context.Background(), server.URL, "").Empty())
}

func TestTransport_Fetch_BypassSendsChromeUserAgent(t *testing.T) {
	var agents []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	tr := newTestTransport(t, Options{Bypass: true})
	for i := 0; i < 10; i++ {
		tr.Fetch(context.Background(), server.URL, "")
	}

	require.Len(t, agents, 10)
	for _, ua := range agents {
		assert.Contains(t, ua, "Chrome/")
	}
}

func TestTransport_Client_LogsFingerprintLossThroughHTTPProxy(t *testing.T) {
	var buf bytes.Buffer
	origLogger, origLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = origLogger
		zerolog.SetGlobalLevel(origLevel)
	})

	tr := newTestTransport(t, Options{Bypass: true})
	proxyURL, err := url.Parse("http://127.0.0.1:3128")
	require.NoError(t, err)

	_, err = tr.client(proxyURL, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Chrome TLS fingerprint not applied")

	buf.Reset()
	socks, err := url.Parse("socks5://127.0.0.1:1080")
	require.NoError(t, err)
	_, err = tr.client(socks, false)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "Chrome TLS fingerprint not applied")
}
