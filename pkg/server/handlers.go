package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recapworks/recapd/pkg/calendar"
	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/launcher"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/transcript"
	"github.com/recapworks/recapd/pkg/webhook"
)

// maxWebhookBody bounds inbound payload reads.
const maxWebhookBody = 1 << 20

// EventRouter dispatches validated platform events.
type EventRouter interface {
	Route(ctx context.Context, env webhook.Envelope) error
}

// CallbackHandler processes worker callbacks.
type CallbackHandler interface {
	Process(ctx context.Context, req webhook.CallbackRequest) error
}

// BotLauncher launches bots against meeting URLs.
type BotLauncher interface {
	Launch(ctx context.Context, userID, meetingURL string, provider meeting.BotProvider) (*launcher.Result, error)
}

// MeetingReader serves meeting lookups for the API surface.
type MeetingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*meeting.Meeting, error)
}

// TranscriptReader serves transcript lookups for the API surface.
type TranscriptReader interface {
	GetByMeetingID(ctx context.Context, meetingID uuid.UUID) (*transcript.Transcript, error)
}

// ConnectionWriter persists OAuth connections from the callback handler.
type ConnectionWriter interface {
	Upsert(ctx context.Context, c *calendar.Connection) error
}

// OAuthProvider is the calendar provider's OAuth surface.
type OAuthProvider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (calendar.TokenSet, error)
	AccountInfo(ctx context.Context, accessToken string) (email, accountID string, err error)
}

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) handlePlatformWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var env webhook.Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	// Challenge mode answers with the HMAC echo and skips signature
	// comparison entirely.
	if env.Event == string(webhook.EventURLValidation) {
		s.handleChallenge(w, env)
		return
	}

	err = s.validator.Verify(
		r.Header.Get("X-Request-Timestamp"),
		rawBody,
		r.Header.Get("X-Signature"))
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues(env.Event, "unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	if err := s.router.Route(r.Context(), env); err != nil {
		s.metrics.WebhookEvents.WithLabelValues(env.Event, "error").Inc()
		s.logger.Error("Webhook routing failed",
			logging.Err(err),
			logging.F("event", env.Event))
		writeDomainError(w, err)
		return
	}

	s.metrics.WebhookEvents.WithLabelValues(env.Event, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChallenge(w http.ResponseWriter, env webhook.Envelope) {
	var payload webhook.ChallengePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.PlainToken == "" {
		writeError(w, http.StatusBadRequest, "malformed challenge payload")
		return
	}

	writeJSON(w, http.StatusOK, webhook.ChallengeResponse{
		PlainToken:     payload.PlainToken,
		EncryptedToken: s.validator.EncryptedToken(payload.PlainToken),
	})
}

func (s *Server) handleBotCallback(w http.ResponseWriter, r *http.Request) {
	if !webhook.SecretEqual(s.callbackSecret, r.Header.Get("X-Callback-Secret")) {
		writeError(w, http.StatusUnauthorized, "invalid callback secret")
		return
	}

	var req webhook.CallbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if err := s.callbacks.Process(r.Context(), req); err != nil {
		s.metrics.Callbacks.WithLabelValues(req.Status, "error").Inc()
		writeDomainError(w, err)
		return
	}

	s.metrics.Callbacks.WithLabelValues(req.Status, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type launchBotRequest struct {
	MeetingURL  string `json:"meeting_url"`
	BotProvider string `json:"bot_provider,omitempty"`
}

func (s *Server) handleLaunchBot(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req launchBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.MeetingURL == "" {
		writeError(w, http.StatusBadRequest, "meeting_url is required")
		return
	}

	provider := meeting.BotProvider(req.BotProvider)
	result, err := s.launcher.Launch(r.Context(), userID, req.MeetingURL, provider)
	if err != nil {
		s.metrics.Launches.WithLabelValues(req.BotProvider, "error").Inc()
		writeDomainError(w, err)
		return
	}

	s.metrics.Launches.WithLabelValues(req.BotProvider, "ok").Inc()
	writeJSON(w, http.StatusCreated, result)
}

type meetingResponse struct {
	ID           uuid.UUID  `json:"id"`
	Platform     string     `json:"platform"`
	ExternalID   string     `json:"external_id"`
	Status       string     `json:"status"`
	Topic        string     `json:"topic,omitempty"`
	BotProvider  string     `json:"bot_provider"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	m, ok := s.ownedMeeting(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, meetingResponse{
		ID:           m.ID,
		Platform:     string(m.Platform),
		ExternalID:   m.ExternalID,
		Status:       string(m.Status),
		Topic:        m.Topic,
		BotProvider:  string(m.BotProvider),
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	})
}

type transcriptResponse struct {
	MeetingID       uuid.UUID            `json:"meeting_id"`
	Content         string               `json:"content"`
	Segments        []transcript.Segment `json:"segments,omitempty"`
	WordCount       int                  `json:"word_count"`
	DurationSeconds int                  `json:"duration_seconds"`
	Source          string               `json:"source"`
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	m, ok := s.ownedMeeting(w, r)
	if !ok {
		return
	}

	t, err := s.transcripts.GetByMeetingID(r.Context(), m.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transcriptResponse{
		MeetingID:       t.MeetingID,
		Content:         t.Content,
		Segments:        t.Segments,
		WordCount:       t.WordCount,
		DurationSeconds: t.DurationSeconds,
		Source:          string(t.Source),
	})
}

// ownedMeeting loads the path meeting and enforces ownership. Foreign
// meetings read as absent rather than forbidden.
func (s *Server) ownedMeeting(w http.ResponseWriter, r *http.Request) (*meeting.Meeting, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid meeting id")
		return nil, false
	}

	m, err := s.meetings.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if m.UserID != UserIDFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return m, true
}

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	http.Redirect(w, r, s.google.AuthorizeURL(userID), http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if userID == "" || code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}

	tokens, err := s.google.Exchange(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	email, accountID, err := s.google.AccountInfo(r.Context(), tokens.AccessToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn := &calendar.Connection{
		UserID:         userID,
		Provider:       calendar.ProviderGoogle,
		AccountEmail:   email,
		AccountID:      accountID,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: &tokens.ExpiresAt,
		SyncEnabled:    true,
	}
	if err := s.connections.Upsert(r.Context(), conn); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "connected",
		"account_email": email,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for _, hc := range s.health {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[hc.Name] = "ok"
		}
	}
	writeJSON(w, status, checks)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case rcerrors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case rcerrors.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, err.Error())
	case rcerrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found")
	case rcerrors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
