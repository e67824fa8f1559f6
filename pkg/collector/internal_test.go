package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Send(context.Context, string, []byte) (int, error) { return 200, nil }

func newClockedCollector(t *testing.T, now *time.Time) *Collector {
	t.Helper()
	c, err := New("pk_test", Config{
		Endpoint:      "http://ingest.test",
		Transport:     nopTransport{},
		Beacon:        nopTransport{},
		IdentityStore: &MemoryIdentityStore{},
		FlushInterval: time.Minute,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return *now }
	t.Cleanup(c.Close)
	return c
}

func TestSessionRotatesAfterInactivity(t *testing.T) {
	now := time.Now()
	c := newClockedCollector(t, &now)

	c.Activity()
	first := c.identity

	// activity inside the TTL refreshes instead of rotating
	now = now.Add(20 * time.Minute)
	c.Activity()
	require.Equal(t, first.SessionID, c.identity.SessionID)

	// a gap longer than the TTL mints a new session on the next touch
	now = now.Add(31 * time.Minute)
	c.Activity()
	require.Equal(t, first.ClientID, c.identity.ClientID, "client id is permanent")
	require.NotEqual(t, first.SessionID, c.identity.SessionID)
}

func TestClientIDSurvivesRestart(t *testing.T) {
	store := &MemoryIdentityStore{}
	c1, err := New("pk_test", Config{
		Endpoint:      "http://ingest.test",
		IdentityStore: store,
	})
	require.NoError(t, err)
	c1.Activity()
	clientID := c1.identity.ClientID
	require.NotEmpty(t, clientID)
	c1.Close()

	c2, err := New("pk_test", Config{
		Endpoint:      "http://ingest.test",
		IdentityStore: store,
	})
	require.NoError(t, err)
	defer c2.Close()
	c2.Activity()
	require.Equal(t, clientID, c2.identity.ClientID)
}

func TestFileIdentityStoreRoundTrip(t *testing.T) {
	store := NewFileIdentityStore(filepath.Join(t.TempDir(), "nested", "identity.json"))

	// missing file is not an error, just an empty identity
	id, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, id.ClientID)

	want := Identity{ClientID: "c-1", SessionID: "s-1", LastActivity: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want.ClientID, got.ClientID)
	require.Equal(t, want.SessionID, got.SessionID)
	require.True(t, want.LastActivity.Equal(got.LastActivity))
}

func TestVitalsAggregation(t *testing.T) {
	now := time.Now()
	c := newClockedCollector(t, &now)

	// LCP: the most recent paint candidate wins
	c.ObserveLCP(1200)
	c.ObserveLCP(2400)

	// CLS: shifts accumulate until user input; shifts right after input
	// are excluded
	c.ObserveLayoutShift(0.05)
	c.ObserveLayoutShift(0.10)
	c.ObserveFirstInput(18)
	c.ObserveLayoutShift(0.50) // within the recent-input window
	now = now.Add(time.Second)
	c.ObserveLayoutShift(0.01)

	// FID: first input only
	c.ObserveFirstInput(99)

	c.ObserveNavigation(now, now.Add(230*time.Millisecond))

	record := c.vitals.take()
	require.NotNil(t, record)
	require.Equal(t, 2400.0, record["lcp"])
	require.Equal(t, 18.0, record["fid"])
	require.InDelta(t, 0.16, record["cls"].(float64), 1e-9)
	require.Equal(t, 230.0, record["ttfb"])

	// the aggregate is emitted exactly once per page lifetime
	require.Nil(t, c.vitals.take())
}

func TestVitalsEmptyAggregateNotEmitted(t *testing.T) {
	now := time.Now()
	c := newClockedCollector(t, &now)
	require.Nil(t, c.vitals.take())
}
