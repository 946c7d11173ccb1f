package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
)

type fakeConnections struct {
	conns        []*Connection
	tokenUpdates map[uuid.UUID]TokenSet
	synced       map[uuid.UUID]bool
}

func newFakeConnections(conns ...*Connection) *fakeConnections {
	for _, c := range conns {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	return &fakeConnections{
		conns:        conns,
		tokenUpdates: make(map[uuid.UUID]TokenSet),
		synced:       make(map[uuid.UUID]bool),
	}
}

func (f *fakeConnections) ListSyncEnabled(ctx context.Context) ([]*Connection, error) {
	var out []*Connection
	for _, c := range f.conns {
		if c.SyncEnabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConnections) UpdateTokens(ctx context.Context, id uuid.UUID, tokens TokenSet) error {
	f.tokenUpdates[id] = tokens
	return nil
}

func (f *fakeConnections) TouchLastSynced(ctx context.Context, id uuid.UUID) error {
	f.synced[id] = true
	return nil
}

type fakeSource struct {
	events      map[string][]Event // accessToken -> events
	refreshTo   TokenSet
	refreshErr  error
	listErr     error
	listedWith  []string
	refreshedRT []string
}

func (f *fakeSource) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	f.refreshedRT = append(f.refreshedRT, refreshToken)
	if f.refreshErr != nil {
		return TokenSet{}, f.refreshErr
	}
	return f.refreshTo, nil
}

func (f *fakeSource) ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error) {
	f.listedWith = append(f.listedWith, accessToken)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events[accessToken], nil
}

type fakeCreator struct {
	created []*meeting.Meeting
}

func (f *fakeCreator) Create(ctx context.Context, m *meeting.Meeting) error {
	for _, existing := range f.created {
		if existing.UserID == m.UserID && existing.Platform == m.Platform && existing.ExternalID == m.ExternalID {
			return rcerrors.ErrConflict
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	f.created = append(f.created, m)
	return nil
}

func validConnection(userID string) *Connection {
	return &Connection{
		UserID:      userID,
		Provider:    ProviderGoogle,
		AccessToken: "at-valid",
		SyncEnabled: true,
	}
}

func TestSweep_DiscoversMeetings(t *testing.T) {
	conn := validConnection("u1")
	conns := newFakeConnections(conn)
	source := &fakeSource{events: map[string][]Event{
		"at-valid": {
			{
				Summary:     "Planning",
				Description: "Join: https://foo.zoom.us/j/1234567890",
			},
			{
				Summary:     "Standup",
				EntryPoints: []string{"https://meet.google.com/abc-defg-hij"},
			},
			{Summary: "Lunch", Description: "no links here"},
		},
	}}
	creator := &fakeCreator{}
	s := NewScanner(conns, source, creator, logging.NewNopLogger(), 24*time.Hour)

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 2, stats.Discovered)
	assert.Zero(t, stats.Deduplicated)
	assert.Zero(t, stats.Failed)

	require.Len(t, creator.created, 2)
	first := creator.created[0]
	assert.Equal(t, meeting.StatusScheduled, first.Status)
	assert.Equal(t, meeting.PlatformZoom, first.Platform)
	assert.Equal(t, "1234567890", first.ExternalID)
	assert.Equal(t, "Planning", first.Topic)

	assert.True(t, conns.synced[conn.ID], "sweep completion recorded")
}

func TestSweep_SecondRunDeduplicates(t *testing.T) {
	conn := validConnection("u1")
	conns := newFakeConnections(conn)
	source := &fakeSource{events: map[string][]Event{
		"at-valid": {{Summary: "Planning", Description: "https://foo.zoom.us/j/1234567890"}},
	}}
	creator := &fakeCreator{}
	s := NewScanner(conns, source, creator, logging.NewNopLogger(), 24*time.Hour)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Discovered)
	assert.Equal(t, 1, stats.Deduplicated)
	assert.Len(t, creator.created, 1, "unchanged event set yields exactly one meeting")
}

func TestSweep_RefreshesExpiredToken(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	conn := validConnection("u1")
	conn.AccessToken = "at-stale"
	conn.RefreshToken = "rt-1"
	conn.TokenExpiresAt = &past

	conns := newFakeConnections(conn)
	source := &fakeSource{
		refreshTo: TokenSet{AccessToken: "at-fresh", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(time.Hour)},
		events:    map[string][]Event{"at-fresh": {}},
	}
	s := NewScanner(conns, source, &fakeCreator{}, logging.NewNopLogger(), 24*time.Hour)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"rt-1"}, source.refreshedRT)
	assert.Equal(t, []string{"at-fresh"}, source.listedWith, "listing uses the refreshed token")
	assert.Equal(t, "at-fresh", conns.tokenUpdates[conn.ID].AccessToken)
}

func TestSweep_RefreshFailureSkipsConnection(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	expired := validConnection("u1")
	expired.TokenExpiresAt = &past
	expired.RefreshToken = "rt-dead"

	healthy := validConnection("u2")

	conns := newFakeConnections(expired, healthy)
	source := &fakeSource{
		refreshErr: errors.New("invalid_grant"),
		events: map[string][]Event{
			"at-valid": {{Summary: "Sync", Description: "https://foo.zoom.us/j/9998887776"}},
		},
	}
	creator := &fakeCreator{}
	s := NewScanner(conns, source, creator, logging.NewNopLogger(), 24*time.Hour)

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err, "per-connection failures never abort the sweep")

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Discovered)
	require.Len(t, creator.created, 1)
	assert.Equal(t, "u2", creator.created[0].UserID)
	assert.False(t, conns.synced[expired.ID], "failed connection keeps its last_synced_at")
}

func TestSweep_SkipsDisabledConnections(t *testing.T) {
	disabled := validConnection("u1")
	disabled.SyncEnabled = false

	conns := newFakeConnections(disabled)
	source := &fakeSource{}
	s := NewScanner(conns, source, &fakeCreator{}, logging.NewNopLogger(), 24*time.Hour)

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Connections)
	assert.Empty(t, source.listedWith)
}

func TestExtractLinks_AllFields(t *testing.T) {
	links := extractLinks(Event{
		Description: "agenda at https://foo.zoom.us/j/1234567890",
		Location:    "https://meet.google.com/abc-defg-hij",
		EntryPoints: []string{"https://foo.zoom.us/j/1234567890"},
	})

	require.Len(t, links, 2, "duplicate URLs collapse")
	assert.Equal(t, meeting.PlatformZoom, links[0].Platform)
	assert.Equal(t, meeting.PlatformGoogleMeet, links[1].Platform)
}

func TestConnection_TokenExpired(t *testing.T) {
	now := time.Now()
	c := &Connection{}
	assert.False(t, c.TokenExpired(now), "no expiry recorded means usable")

	future := now.Add(time.Minute)
	c.TokenExpiresAt = &future
	assert.False(t, c.TokenExpired(now))

	past := now.Add(-time.Minute)
	c.TokenExpiresAt = &past
	assert.True(t, c.TokenExpired(now))
}
