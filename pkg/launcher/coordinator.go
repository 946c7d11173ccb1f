package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
)

// CoordinatorSecretHeader authenticates requests to the coordinator service.
const CoordinatorSecretHeader = "X-Coordinator-Secret"

// CoordinatorConfig configures the managed-provider coordinator client.
type CoordinatorConfig struct {
	Endpoint string
	Secret   string
	// Timeout bounds a single session-creation request; default 30s.
	Timeout time.Duration
}

// HTTPCoordinator delegates bot session creation to the remote coordinator
// service, which owns the worker fleet for the managed provider.
type HTTPCoordinator struct {
	cfg    CoordinatorConfig
	client *http.Client
}

// NewHTTPCoordinator creates a coordinator client.
func NewHTTPCoordinator(cfg CoordinatorConfig) *HTTPCoordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPCoordinator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type createSessionRequest struct {
	MeetingURL  string `json:"meeting_url"`
	MeetingID   string `json:"meeting_id"`
	UserID      string `json:"user_id"`
	CallbackURL string `json:"callback_url"`
}

// CreateSession asks the coordinator for a managed bot session and returns
// the session id and streaming credentials.
func (c *HTTPCoordinator) CreateSession(ctx context.Context, req TaskRequest) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{
		MeetingURL:  req.MeetingURL,
		MeetingID:   req.MeetingID.String(),
		UserID:      req.UserID,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(CoordinatorSecretHeader, c.cfg.Secret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinator request: %v", rcerrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: coordinator returned status %d: %s",
			rcerrors.ErrUpstream, resp.StatusCode, snippet)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: decode coordinator response: %v", rcerrors.ErrUpstream, err)
	}
	if session.SessionID == "" {
		return nil, fmt.Errorf("%w: coordinator returned no session id", rcerrors.ErrUpstream)
	}
	return &session, nil
}

var _ Coordinator = (*HTTPCoordinator)(nil)
