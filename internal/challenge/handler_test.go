package challenge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/law-makers/racecrawl/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	challengeHTML = `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`
	listingHTML   = `<html><head><title>Races</title></head><body><div class="list-item">5K</div></body></html>`
)

type snapshot struct{ title, html string }

// fakePage replays scripted snapshots and locations; the last entry repeats.
type fakePage struct {
	snapshots []snapshot
	locations []string
	cookies   []auth.Cookie

	snapCalls int
	locCalls  int
}

func (p *fakePage) Snapshot(ctx context.Context) (string, string, error) {
	i := min(p.snapCalls, len(p.snapshots)-1)
	p.snapCalls++
	return p.snapshots[i].title, p.snapshots[i].html, nil
}

func (p *fakePage) Location(ctx context.Context) (string, error) {
	if len(p.locations) == 0 {
		return "https://runningintheusa.com/classic/list/map/page-1", nil
	}
	i := min(p.locCalls, len(p.locations)-1)
	p.locCalls++
	return p.locations[i], nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]auth.Cookie, error) {
	return p.cookies, nil
}

type fakeConfirmer struct {
	calls int
	err   error
}

func (c *fakeConfirmer) AwaitConfirmation(ctx context.Context, prompt string) error {
	c.calls++
	return c.err
}

// fakeClock advances only when the handler sleeps.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

func newTestHandler(t *testing.T, session *auth.Session, confirmer Confirmer) (*Handler, *fakeClock, *auth.Store) {
	t.Helper()
	store := auth.NewStore(filepath.Join(t.TempDir(), "scraper_session.json"))
	h := NewHandler(DefaultConfig(), session, store, confirmer)
	clock := &fakeClock{now: time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)}
	h.now = clock.Now
	h.sleep = clock.Sleep
	return h, clock, store
}

func TestCheck_CleanPageLeavesStateClean(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h, clock, store := newTestHandler(t, nil, confirmer)

	require.NoError(t, h.Check(context.Background(), &fakePage{snapshots: []snapshot{{"Races", listingHTML}}}))

	assert.Equal(t, StateClean, h.State())
	assert.Zero(t, clock.sleeps)
	assert.Zero(t, confirmer.calls)
	assert.False(t, store.Saved())
}

func TestCheck_AutoResolvesWithinTwoPolls(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h, clock, store := newTestHandler(t, nil, confirmer)
	page := &fakePage{
		snapshots: []snapshot{
			{"Just a moment...", challengeHTML},
			{"Just a moment...", challengeHTML},
			{"Races", listingHTML},
		},
		cookies: []auth.Cookie{{Name: "cf_clearance", Value: "ok"}},
	}

	require.NoError(t, h.Check(context.Background(), page))

	assert.Equal(t, 2, clock.sleeps)
	assert.Zero(t, confirmer.calls)
	assert.Equal(t, StateResolved, h.State())
	detections, auto, loops := h.Stats()
	assert.Equal(t, 1, detections)
	assert.Equal(t, 1, auto)
	assert.Zero(t, loops)
	assert.True(t, store.Saved())
	assert.False(t, h.ManualDone())
}

func TestCheck_TimeoutFallsBackToOperator(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h, clock, store := newTestHandler(t, nil, confirmer)
	page := &fakePage{
		snapshots: []snapshot{{"Just a moment...", challengeHTML}},
		cookies:   []auth.Cookie{{Name: "cf_clearance", Value: "manual"}},
	}

	require.NoError(t, h.Check(context.Background(), page))

	assert.Equal(t, 30, clock.sleeps)
	assert.Equal(t, 1, confirmer.calls)
	assert.Equal(t, StateResolved, h.State())
	assert.True(t, h.ManualDone())

	saved, err := store.Load()
	require.NoError(t, err)
	c, ok := saved.Get("cf_clearance")
	require.True(t, ok)
	assert.Equal(t, "manual", c.Value)
}

func TestCheck_ManualInterventionAtMostOncePerRun(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h, _, _ := newTestHandler(t, nil, confirmer)
	page := &fakePage{snapshots: []snapshot{{"Just a moment...", challengeHTML}}}

	require.NoError(t, h.Check(context.Background(), page))
	require.NoError(t, h.Check(context.Background(), page))

	assert.Equal(t, 1, confirmer.calls)
	detections, _, _ := h.Stats()
	assert.Equal(t, 2, detections)
}

func TestCheck_ParkedChallengeURLIsALoop(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h, clock, _ := newTestHandler(t, nil, confirmer)
	page := &fakePage{
		snapshots: []snapshot{{"Just a moment...", challengeHTML}},
		locations: []string{"https://runningintheusa.com/cdn-cgi/challenge-platform/h/b"},
	}

	require.NoError(t, h.Check(context.Background(), page))

	assert.Equal(t, 11, clock.sleeps)
	_, _, loops := h.Stats()
	assert.Equal(t, 1, loops)
	assert.Equal(t, 1, confirmer.calls)
}

func TestCheck_URLChurnIsALoop(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h, clock, _ := newTestHandler(t, nil, confirmer)

	var locations []string
	for i := 0; i < 20; i++ {
		locations = append(locations, fmt.Sprintf("https://runningintheusa.com/?__cf_chl_rt_tk=%d", i))
	}
	page := &fakePage{
		snapshots: []snapshot{{"Just a moment...", challengeHTML}},
		locations: locations,
	}

	require.NoError(t, h.Check(context.Background(), page))

	assert.Equal(t, 6, clock.sleeps)
	_, _, loops := h.Stats()
	assert.Equal(t, 1, loops)
}

func TestCheck_LoadedSessionIsInvalidatedOnChallenge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper_session.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"cf_clearance","value":"stale"}]`), 0o600))
	session, err := auth.NewStore(path).Load()
	require.NoError(t, err)
	require.True(t, session.Loaded())

	h, _, _ := newTestHandler(t, session, &fakeConfirmer{})
	page := &fakePage{
		snapshots: []snapshot{{"Just a moment...", challengeHTML}, {"Races", listingHTML}},
		cookies:   []auth.Cookie{{Name: "cf_clearance", Value: "fresh"}},
	}

	require.NoError(t, h.Check(context.Background(), page))

	assert.False(t, session.Loaded())
	assert.True(t, session.Verified())
	c, _ := session.Get("cf_clearance")
	assert.Equal(t, "fresh", c.Value)
}

func TestCheck_LoadedSessionVerifiedOnCleanPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper_session.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"cf_clearance","value":"good"}]`), 0o600))
	session, err := auth.NewStore(path).Load()
	require.NoError(t, err)

	h, _, _ := newTestHandler(t, session, &fakeConfirmer{})
	require.NoError(t, h.Check(context.Background(), &fakePage{snapshots: []snapshot{{"Races", listingHTML}}}))

	assert.True(t, session.Verified())
	assert.Equal(t, StateClean, h.State())
}

func TestCheck_CancelledWhileWaitingForOperator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	confirmer := &fakeConfirmer{err: context.Canceled}
	h, _, store := newTestHandler(t, nil, confirmer)
	page := &fakePage{snapshots: []snapshot{{"Just a moment...", challengeHTML}}}

	err := h.Check(ctx, page)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateManualPending, h.State())
	assert.False(t, store.Saved())
}

func TestCheck_WithoutConfirmerContinues(t *testing.T) {
	h, _, store := newTestHandler(t, nil, nil)
	page := &fakePage{snapshots: []snapshot{{"Just a moment...", challengeHTML}}}

	require.NoError(t, h.Check(context.Background(), page))
	assert.Equal(t, StateChallenged, h.State())
	assert.False(t, store.Saved())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "MANUAL_PENDING", StateManualPending.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestCheck_PollingStopsWhenContextEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = time.Hour
	cfg.PollInterval = time.Hour
	h := NewHandler(cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	begin := time.Now()
	err := h.Check(ctx, &fakePage{snapshots: []snapshot{{"Just a moment...", challengeHTML}}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 5*time.Second)
}
