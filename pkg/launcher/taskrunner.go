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
	"github.com/recapworks/recapd/pkg/meeting"
)

// TaskRunnerConfig configures the native task-launch client.
type TaskRunnerConfig struct {
	// Endpoint is the base URL of the task-runner API.
	Endpoint string
	// Token authenticates requests when set.
	Token string
	// Templates maps a platform onto its worker task template name.
	Templates map[meeting.Platform]string
	// Timeout bounds a single launch request; default 30s.
	Timeout time.Duration
}

// HTTPTaskRunner submits worker tasks over the task-runner HTTP API. The
// worker receives its parameters as environment variables and reports its
// outcome to the callback URL.
type HTTPTaskRunner struct {
	cfg    TaskRunnerConfig
	client *http.Client
}

// NewHTTPTaskRunner creates a task-runner client.
func NewHTTPTaskRunner(cfg TaskRunnerConfig) *HTTPTaskRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPTaskRunner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type launchTaskRequest struct {
	Template    string            `json:"template"`
	Environment map[string]string `json:"environment"`
}

type launchTaskResponse struct {
	TaskARN string `json:"task_arn"`
}

// Launch submits one worker task and returns its opaque handle.
func (r *HTTPTaskRunner) Launch(ctx context.Context, req TaskRequest) (string, error) {
	template, ok := r.cfg.Templates[req.Platform]
	if !ok {
		return "", fmt.Errorf("%w: no task template for platform %s", rcerrors.ErrValidation, req.Platform)
	}

	body, err := json.Marshal(launchTaskRequest{
		Template: template,
		Environment: map[string]string{
			"MEETING_URL":     req.MeetingURL,
			"MEETING_ID":      req.MeetingID.String(),
			"USER_ID":         req.UserID,
			"CALLBACK_URL":    req.CallbackURL,
			"CALLBACK_SECRET": req.CallbackSecret,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode launch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.Endpoint+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build launch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: task runner request: %v", rcerrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: task runner returned status %d: %s",
			rcerrors.ErrUpstream, resp.StatusCode, snippet)
	}

	var launched launchTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&launched); err != nil {
		return "", fmt.Errorf("%w: decode task runner response: %v", rcerrors.ErrUpstream, err)
	}
	if launched.TaskARN == "" {
		return "", fmt.Errorf("%w: task runner returned no task handle", rcerrors.ErrUpstream)
	}
	return launched.TaskARN, nil
}

var _ TaskRunner = (*HTTPTaskRunner)(nil)
