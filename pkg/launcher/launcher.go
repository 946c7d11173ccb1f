// Package launcher classifies meeting URLs and launches ephemeral bot
// workers against them. A launch is two-phase: the meeting record is
// persisted first (intent), then the worker task is requested, so an
// observer always sees the meeting before the bot exists.
package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
)

// MeetingStore is the slice of the meeting repository the launcher needs.
type MeetingStore interface {
	Create(ctx context.Context, m *meeting.Meeting) error
	Transition(ctx context.Context, id uuid.UUID, from, to meeting.Status, update meeting.TransitionUpdate) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)
	SetTaskARN(ctx context.Context, id uuid.UUID, taskARN string) error
	SetSession(ctx context.Context, id uuid.UUID, sessionID string) error
}

// TaskRequest carries everything a worker task needs to join a meeting and
// report back.
type TaskRequest struct {
	MeetingURL     string
	MeetingID      uuid.UUID
	UserID         string
	Platform       meeting.Platform
	CallbackURL    string
	CallbackSecret string
}

// TaskRunner submits an ephemeral worker task and returns its opaque handle.
type TaskRunner interface {
	Launch(ctx context.Context, req TaskRequest) (string, error)
}

// Session is what the managed-provider coordinator hands back.
type Session struct {
	SessionID string `json:"session_id"`
	RTMPURL   string `json:"rtmp_url"`
	StreamKey string `json:"stream_key"`
}

// Coordinator creates managed bot sessions on the remote coordinator service.
type Coordinator interface {
	CreateSession(ctx context.Context, req TaskRequest) (*Session, error)
}

// Result is returned to the launch caller. TaskARN is set on the native path,
// the session fields on the managed path.
type Result struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	TaskARN   string    `json:"task_arn,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	RTMPURL   string    `json:"rtmp_url,omitempty"`
	StreamKey string    `json:"stream_key,omitempty"`
}

// Launcher creates meeting records and requests worker tasks for them.
type Launcher struct {
	meetings    MeetingStore
	runner      TaskRunner
	coordinator Coordinator
	logger      logging.Logger
	tracer      trace.Tracer

	callbackURL    string
	callbackSecret string
	maxAttempts    int
	baseBackoff    time.Duration
}

// Options tune the launcher's external-call behavior.
type Options struct {
	CallbackURL    string
	CallbackSecret string
	// MaxAttempts bounds task-submission retries; default 3.
	MaxAttempts int
	// BaseBackoff is the first retry delay, doubled per attempt; default 1s.
	BaseBackoff time.Duration
}

// New creates a Launcher. coordinator may be nil when the managed provider is
// not configured.
func New(meetings MeetingStore, runner TaskRunner, coordinator Coordinator, logger logging.Logger, opts Options) *Launcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	return &Launcher{
		meetings:       meetings,
		runner:         runner,
		coordinator:    coordinator,
		logger:         logger.With(logging.F("component", "launcher")),
		tracer:         otel.Tracer("recapd/launcher"),
		callbackURL:    opts.CallbackURL,
		callbackSecret: opts.CallbackSecret,
		maxAttempts:    opts.MaxAttempts,
		baseBackoff:    opts.BaseBackoff,
	}
}

// Launch classifies meetingURL, persists a bot_joining meeting for userID,
// and submits the worker task. Submission retries with exponential backoff;
// when every attempt fails the meeting is transitioned to failed with the
// launch error recorded, and the error is returned to the caller.
//
// Launching against a calendar-discovered meeting (status scheduled) adopts
// that record instead of failing on the duplicate.
func (l *Launcher) Launch(ctx context.Context, userID, meetingURL string, provider meeting.BotProvider) (*Result, error) {
	ctx, span := l.tracer.Start(ctx, "launcher.launch",
		trace.WithAttributes(attribute.String("bot.provider", string(provider))))
	defer span.End()

	link, err := meeting.ClassifyURL(meetingURL)
	if err != nil {
		return nil, err
	}

	if provider == "" {
		provider = meeting.BotProviderNative
	}
	if provider == meeting.BotProviderManaged && l.coordinator == nil {
		return nil, fmt.Errorf("%w: managed bot provider is not configured", rcerrors.ErrValidation)
	}

	m := &meeting.Meeting{
		UserID:      userID,
		Platform:    link.Platform,
		ExternalID:  link.ExternalID,
		Status:      meeting.StatusBotJoining,
		BotProvider: provider,
	}
	if err := l.meetings.Create(ctx, m); err != nil {
		if !rcerrors.IsConflict(err) {
			return nil, fmt.Errorf("create meeting: %w", err)
		}
		if err := l.adoptExisting(ctx, m); err != nil {
			return nil, err
		}
	}

	req := TaskRequest{
		MeetingURL:     meetingURL,
		MeetingID:      m.ID,
		UserID:         userID,
		Platform:       link.Platform,
		CallbackURL:    l.callbackURL,
		CallbackSecret: l.callbackSecret,
	}

	result := &Result{MeetingID: m.ID}
	switch provider {
	case meeting.BotProviderManaged:
		session, err := l.submitManaged(ctx, req)
		if err != nil {
			return nil, l.failLaunch(ctx, m.ID, err)
		}
		result.SessionID = session.SessionID
		result.RTMPURL = session.RTMPURL
		result.StreamKey = session.StreamKey

		// Handle persistence is best-effort; the session already exists.
		if err := l.meetings.SetSession(ctx, m.ID, session.SessionID); err != nil {
			l.logger.Warn("Failed to persist session id",
				logging.Err(err),
				logging.F("meeting_id", m.ID.String()))
		}
	default:
		taskARN, err := l.submitNative(ctx, req)
		if err != nil {
			return nil, l.failLaunch(ctx, m.ID, err)
		}
		result.TaskARN = taskARN

		if err := l.meetings.SetTaskARN(ctx, m.ID, taskARN); err != nil {
			l.logger.Warn("Failed to persist task handle",
				logging.Err(err),
				logging.F("meeting_id", m.ID.String()),
				logging.F("task_arn", taskARN))
		}
	}

	l.logger.Info("Bot launched",
		logging.F("meeting_id", m.ID.String()),
		logging.F("platform", string(link.Platform)),
		logging.F("provider", string(provider)))

	return result, nil
}

// adoptExisting handles the duplicate-create case: m already holds the
// existing row. A scheduled meeting moves forward into bot_joining; anything
// else already has (or had) a bot and the launch is rejected.
func (l *Launcher) adoptExisting(ctx context.Context, m *meeting.Meeting) error {
	if m.Status != meeting.StatusScheduled {
		return fmt.Errorf("%w: meeting %s already tracked with status %s",
			rcerrors.ErrConflict, m.ID, m.Status)
	}

	applied, err := l.meetings.Transition(ctx, m.ID,
		meeting.StatusScheduled, meeting.StatusBotJoining, meeting.TransitionUpdate{})
	if err != nil {
		return fmt.Errorf("adopt scheduled meeting: %w", err)
	}
	if !applied {
		// Lost a race with another launch against the same record.
		return fmt.Errorf("%w: meeting %s is being launched concurrently",
			rcerrors.ErrConflict, m.ID)
	}
	m.Status = meeting.StatusBotJoining
	return nil
}

func (l *Launcher) submitNative(ctx context.Context, req TaskRequest) (string, error) {
	var taskARN string
	err := l.withRetry(ctx, "task submission", func() error {
		var err error
		taskARN, err = l.runner.Launch(ctx, req)
		return err
	})
	return taskARN, err
}

func (l *Launcher) submitManaged(ctx context.Context, req TaskRequest) (*Session, error) {
	var session *Session
	err := l.withRetry(ctx, "session creation", func() error {
		var err error
		session, err = l.coordinator.CreateSession(ctx, req)
		return err
	})
	return session, err
}

// withRetry runs fn up to maxAttempts times with exponential backoff.
func (l *Launcher) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	backoff := l.baseBackoff

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		l.logger.Warn("Launch attempt failed",
			logging.Err(lastErr),
			logging.F("operation", op),
			logging.F("attempt", attempt),
			logging.F("max_attempts", l.maxAttempts))

		if attempt == l.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v",
		rcerrors.ErrUpstream, op, l.maxAttempts, lastErr)
}

// failLaunch records a terminal launch failure on the meeting. A meeting must
// not sit in bot_joining forever when no worker will ever call back.
func (l *Launcher) failLaunch(ctx context.Context, id uuid.UUID, launchErr error) error {
	if _, err := l.meetings.MarkFailed(ctx, id, launchErr.Error()); err != nil {
		l.logger.Error("Failed to mark meeting failed after launch error",
			logging.Err(err),
			logging.F("meeting_id", id.String()))
	}
	return launchErr
}
