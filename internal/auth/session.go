// internal/auth/session.go
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAlreadySaved is returned when a Store has already written its file in
// this run.
var ErrAlreadySaved = errors.New("session already saved this run")

// Cookie represents a browser cookie as stored in the session file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expiry   float64 `json:"expiry,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`

	// Extra holds fields of the session file this type does not model, so
	// they survive a load and save.
	Extra map[string]json.RawMessage `json:"-"`
}

// cookieJSON has Cookie's fields without its JSON methods.
type cookieJSON Cookie

var cookieKeys = []string{"name", "value", "domain", "path", "expiry", "httpOnly", "secure", "sameSite"}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (c *Cookie) UnmarshalJSON(data []byte) error {
	var known cookieJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range cookieKeys {
		delete(all, k)
	}
	*c = Cookie(known)
	c.Extra = nil
	if len(all) > 0 {
		c.Extra = all
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (c Cookie) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(cookieJSON(c))
	if err != nil || len(c.Extra) == 0 {
		return known, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(known, &all); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Expires returns the cookie expiry, or the zero time for session cookies.
func (c Cookie) Expires() time.Time {
	if c.Expiry <= 0 {
		return time.Time{}
	}
	sec := int64(c.Expiry)
	return time.Unix(sec, int64((c.Expiry-float64(sec))*1e9))
}

// HTTPCookie converts c for use with a net/http cookie jar.
func (c Cookie) HTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires(),
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		hc.SameSite = http.SameSiteStrictMode
	case "lax":
		hc.SameSite = http.SameSiteLaxMode
	case "none":
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}

// Session is the in-memory cookie state for one run. Cookies are keyed by
// name; Verified records whether the cookies have been seen to pass a
// challenge in this run and is never persisted.
type Session struct {
	mu       sync.RWMutex
	cookies  []Cookie
	loaded   bool
	verified bool
}

// NewSession returns a session holding cookies.
func NewSession(cookies []Cookie) *Session {
	s := &Session{}
	s.Set(cookies)
	return s
}

// Set merges cookies into the session, replacing any with the same name.
func (s *Session) Set(cookies []Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		replaced := false
		for i := range s.cookies {
			if s.cookies[i].Name == c.Name {
				if c.Extra == nil {
					c.Extra = s.cookies[i].Extra
				}
				s.cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.cookies = append(s.cookies, c)
		}
	}
}

// Cookies returns a copy of the stored cookies.
func (s *Session) Cookies() []Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// Get returns the cookie named name.
func (s *Session) Get(name string) (Cookie, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cookies {
		if c.Name == name {
			return c, true
		}
	}
	return Cookie{}, false
}

// Len returns the number of cookies.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies)
}

// Loaded reports whether the session came from a file.
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Verified reports whether the session passed a challenge in this run.
func (s *Session) Verified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified
}

// MarkVerified records that the session's cookies got past a challenge.
func (s *Session) MarkVerified() {
	s.mu.Lock()
	s.verified = true
	s.mu.Unlock()
}

// Invalidate drops the verified flag. The cookies themselves are kept so the
// site can refresh them.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.verified = false
	s.loaded = false
	s.mu.Unlock()
}

// HTTPCookies converts the session for a net/http cookie jar.
func (s *Session) HTTPCookies() []*http.Cookie {
	cookies := s.Cookies()
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.HTTPCookie())
	}
	return out
}

// Store reads and writes the session file. The file holds a JSON array of
// cookie objects and is written at most once per Store.
type Store struct {
	path  string
	mu    sync.Mutex
	saved bool
}

// NewStore creates a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file path.
func (st *Store) Path() string {
	return st.path
}

// Exists reports whether the session file is present.
func (st *Store) Exists() bool {
	_, err := os.Stat(st.path)
	return err == nil
}

// Load reads the session file. A missing file yields an empty session and
// no error; a malformed file yields an empty session and the parse error.
func (st *Store) Load() (*Session, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Session{}, nil
		}
		return &Session{}, fmt.Errorf("failed to load session file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return &Session{}, fmt.Errorf("failed to deserialize session: %w", err)
	}

	s := NewSession(cookies)
	s.loaded = s.Len() > 0
	log.Debug().Str("path", st.path).Int("cookies", s.Len()).Msg("Session loaded")
	return s, nil
}

// Save writes cookies to the session file. Only the first call per Store
// writes; later calls return ErrAlreadySaved.
func (st *Store) Save(cookies []Cookie) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.saved {
		return ErrAlreadySaved
	}

	if cookies == nil {
		cookies = []Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	if dir := filepath.Dir(st.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create session dir: %w", err)
		}
	}
	if err := os.WriteFile(st.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save session file: %w", err)
	}

	st.saved = true
	log.Info().Str("path", st.path).Int("cookies", len(cookies)).Msg("Session saved")
	return nil
}

// Saved reports whether Save has written the file in this run.
func (st *Store) Saved() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.saved
}

// Clear removes the session file.
func (st *Store) Clear() error {
	err := os.Remove(st.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
