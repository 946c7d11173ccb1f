package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapworks/recapd/pkg/calendar"
	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/launcher"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/transcript"
	"github.com/recapworks/recapd/pkg/webhook"
)

const (
	testWebhookSecret  = "whsec-test"
	testCallbackSecret = "cbsec-test"
	testBearerToken    = "api-token-good"
)

type fakeEventRouter struct {
	routed []webhook.Envelope
	err    error
}

func (f *fakeEventRouter) Route(ctx context.Context, env webhook.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.routed = append(f.routed, env)
	return nil
}

type fakeCallbacks struct {
	processed []webhook.CallbackRequest
	err       error
}

func (f *fakeCallbacks) Process(ctx context.Context, req webhook.CallbackRequest) error {
	if f.err != nil {
		return f.err
	}
	f.processed = append(f.processed, req)
	return nil
}

type fakeLauncher struct {
	result *launcher.Result
	err    error
	gotURL string
	gotUID string
}

func (f *fakeLauncher) Launch(ctx context.Context, userID, meetingURL string, provider meeting.BotProvider) (*launcher.Result, error) {
	f.gotUID = userID
	f.gotURL = meetingURL
	return f.result, f.err
}

type fakeMeetingReader struct {
	meetings map[uuid.UUID]*meeting.Meeting
}

func (f *fakeMeetingReader) GetByID(ctx context.Context, id uuid.UUID) (*meeting.Meeting, error) {
	m, ok := f.meetings[id]
	if !ok {
		return nil, rcerrors.ErrNotFound
	}
	return m, nil
}

type fakeTranscriptReader struct {
	transcripts map[uuid.UUID]*transcript.Transcript
}

func (f *fakeTranscriptReader) GetByMeetingID(ctx context.Context, meetingID uuid.UUID) (*transcript.Transcript, error) {
	t, ok := f.transcripts[meetingID]
	if !ok {
		return nil, rcerrors.ErrNotFound
	}
	return t, nil
}

type fakeConnWriter struct {
	upserted []*calendar.Connection
}

func (f *fakeConnWriter) Upsert(ctx context.Context, c *calendar.Connection) error {
	f.upserted = append(f.upserted, c)
	return nil
}

type fakeOAuth struct{}

func (fakeOAuth) AuthorizeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (fakeOAuth) Exchange(ctx context.Context, code string) (calendar.TokenSet, error) {
	if code != "good-code" {
		return calendar.TokenSet{}, rcerrors.ErrUpstream
	}
	return calendar.TokenSet{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (fakeOAuth) AccountInfo(ctx context.Context, accessToken string) (string, string, error) {
	return "host@example.com", "acct-1", nil
}

// fakeAuth admits the test bearer token as user u1.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testBearerToken {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, "u1")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type serverFixture struct {
	srv         *Server
	router      *fakeEventRouter
	callbacks   *fakeCallbacks
	launcher    *fakeLauncher
	meetings    *fakeMeetingReader
	transcripts *fakeTranscriptReader
	connections *fakeConnWriter
}

func newFixture() *serverFixture {
	f := &serverFixture{
		router:      &fakeEventRouter{},
		callbacks:   &fakeCallbacks{},
		launcher:    &fakeLauncher{result: &launcher.Result{MeetingID: uuid.New(), TaskARN: "arn:task/1"}},
		meetings:    &fakeMeetingReader{meetings: make(map[uuid.UUID]*meeting.Meeting)},
		transcripts: &fakeTranscriptReader{transcripts: make(map[uuid.UUID]*transcript.Transcript)},
		connections: &fakeConnWriter{},
	}
	reg := prometheus.NewRegistry()
	f.srv = New(Deps{
		Validator:      webhook.NewValidator(testWebhookSecret),
		Router:         f.router,
		Callbacks:      f.callbacks,
		Launcher:       f.launcher,
		Meetings:       f.meetings,
		Transcripts:    f.transcripts,
		Connections:    f.connections,
		Google:         fakeOAuth{},
		Auth:           fakeAuth,
		Metrics:        NewMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         logging.NewNopLogger(),
		CallbackSecret: testCallbackSecret,
		Health: []HealthCheck{
			{Name: "db", Check: func(ctx context.Context) error { return nil }},
		},
	})
	return f
}

func signBody(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func doRequest(f *serverFixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_Challenge(t *testing.T) {
	f := newFixture()
	body := `{"event":"endpoint.url_validation","payload":{"plainToken":"tok123"}}`
	req := httptest.NewRequest("POST", "/webhooks/platform", strings.NewReader(body))

	rec := doRequest(f, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhook.ChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok123", resp.PlainToken)
	assert.Equal(t, webhook.NewValidator(testWebhookSecret).EncryptedToken("tok123"), resp.EncryptedToken)
	assert.Empty(t, f.router.routed, "challenge deliveries are not routed")
}

func TestWebhook_SignedDelivery(t *testing.T) {
	f := newFixture()
	body := []byte(`{"event":"meeting.started","payload":{"object":{"id":"42"}}}`)
	ts := "1756700000"

	req := httptest.NewRequest("POST", "/webhooks/platform", strings.NewReader(string(body)))
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Signature", signBody(ts, body))

	rec := doRequest(f, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.router.routed, 1)
	assert.Equal(t, "meeting.started", f.router.routed[0].Event)
}

func TestWebhook_BadSignature(t *testing.T) {
	f := newFixture()
	body := []byte(`{"event":"meeting.started","payload":{"object":{"id":"42"}}}`)

	req := httptest.NewRequest("POST", "/webhooks/platform", strings.NewReader(string(body)))
	req.Header.Set("X-Request-Timestamp", "1756700000")
	req.Header.Set("X-Signature", "v0=deadbeef")

	rec := doRequest(f, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.router.routed, "no state is touched on auth failure")
}

func TestWebhook_SignatureCoversRawBody(t *testing.T) {
	f := newFixture()
	// Whitespace variants are different byte streams, so a signature for
	// one must not authorize the other.
	signed := []byte(`{"event":"meeting.started","payload":{"object":{"id":"42"}}}`)
	delivered := []byte(`{"event":"meeting.started", "payload":{"object":{"id":"42"}}}`)
	ts := "1756700000"

	req := httptest.NewRequest("POST", "/webhooks/platform", strings.NewReader(string(delivered)))
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Signature", signBody(ts, signed))

	rec := doRequest(f, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallback_RequiresSecret(t *testing.T) {
	f := newFixture()
	body := `{"meeting_id":"` + uuid.NewString() + `","status":"failed"}`

	req := httptest.NewRequest("POST", "/internal/bot-callback", strings.NewReader(body))
	req.Header.Set("X-Callback-Secret", "wrong")
	rec := doRequest(f, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.callbacks.processed)

	req = httptest.NewRequest("POST", "/internal/bot-callback", strings.NewReader(body))
	req.Header.Set("X-Callback-Secret", testCallbackSecret)
	rec = doRequest(f, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.callbacks.processed, 1)
	assert.Equal(t, "failed", f.callbacks.processed[0].Status)
}

func TestLaunch_RequiresAuth(t *testing.T) {
	f := newFixture()
	body := `{"meeting_url":"https://foo.zoom.us/j/1234567890"}`

	req := httptest.NewRequest("POST", "/api/meetings/bot", strings.NewReader(body))
	rec := doRequest(f, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no default identity for unauthenticated requests")

	req = httptest.NewRequest("POST", "/api/meetings/bot", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec = doRequest(f, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "u1", f.launcher.gotUID, "identity comes from the token, not the body")
	assert.Equal(t, "https://foo.zoom.us/j/1234567890", f.launcher.gotURL)
	assert.Contains(t, rec.Body.String(), "arn:task/1")
}

func TestLaunch_ValidationError(t *testing.T) {
	f := newFixture()
	f.launcher.result = nil
	f.launcher.err = rcerrors.ErrValidation

	req := httptest.NewRequest("POST", "/api/meetings/bot",
		strings.NewReader(`{"meeting_url":"https://example.com/meeting"}`))
	req.Header.Set("Authorization", "Bearer "+testBearerToken)

	rec := doRequest(f, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMeeting_OwnershipScoped(t *testing.T) {
	f := newFixture()
	mine := &meeting.Meeting{ID: uuid.New(), UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusCompleted}
	theirs := &meeting.Meeting{ID: uuid.New(), UserID: "u2", Platform: meeting.PlatformZoom, ExternalID: "43", Status: meeting.StatusCompleted}
	f.meetings.meetings[mine.ID] = mine
	f.meetings.meetings[theirs.ID] = theirs

	req := httptest.NewRequest("GET", "/api/meetings/"+mine.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec := doRequest(f, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	req = httptest.NewRequest("GET", "/api/meetings/"+theirs.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec = doRequest(f, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign meetings read as absent")
}

func TestGetTranscript(t *testing.T) {
	f := newFixture()
	m := &meeting.Meeting{ID: uuid.New(), UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusCompleted}
	f.meetings.meetings[m.ID] = m
	f.transcripts.transcripts[m.ID] = &transcript.Transcript{
		MeetingID: m.ID,
		Content:   "Alice: hello",
		WordCount: 2,
		Source:    transcript.SourceZoomRecording,
	}

	req := httptest.NewRequest("GET", "/api/meetings/"+m.ID.String()+"/transcript", nil)
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec := doRequest(f, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"word_count":2`)
}

func TestOAuthFlow(t *testing.T) {
	f := newFixture()

	rec := doRequest(f, httptest.NewRequest("GET", "/calendar/oauth/authorize?user_id=u1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example.com/auth?state=u1", rec.Header().Get("Location"))

	rec = doRequest(f, httptest.NewRequest("GET", "/calendar/oauth/callback?state=u1&code=good-code", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.connections.upserted, 1)
	conn := f.connections.upserted[0]
	assert.Equal(t, "u1", conn.UserID)
	assert.Equal(t, calendar.ProviderGoogle, conn.Provider)
	assert.Equal(t, "acct-1", conn.AccountID)
	assert.True(t, conn.SyncEnabled)
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := doRequest(f, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.srv.health = append(f.srv.health, HealthCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rec = doRequest(f, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
