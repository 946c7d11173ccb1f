package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/notify"
	"github.com/recapworks/recapd/pkg/transcript"
)

// MeetingStore is the slice of the meeting repository the router needs.
type MeetingStore interface {
	FindByExternalID(ctx context.Context, platform meeting.Platform, externalID string) (*meeting.Meeting, error)
	Create(ctx context.Context, m *meeting.Meeting) error
	Transition(ctx context.Context, id uuid.UUID, from, to meeting.Status, update meeting.TransitionUpdate) (bool, error)
}

// TranscriptStore persists formatted transcripts.
type TranscriptStore interface {
	Create(ctx context.Context, t *transcript.Transcript) error
}

// ConnectionResolver maps a platform host account onto an owning user, for
// recordings of meetings this service never saw launched.
type ConnectionResolver interface {
	ResolveUserByAccount(ctx context.Context, provider, accountID string) (string, error)
}

// Downloader fetches a recording artifact by its download URL.
type Downloader interface {
	Download(ctx context.Context, url, token string) (io.ReadCloser, error)
}

// Notifier publishes lifecycle notifications. Implementations must never
// block on or surface delivery errors.
type Notifier interface {
	Notify(ctx context.Context, userID string, event notify.Event, meetingID uuid.UUID)
}

// Router dispatches validated platform events onto meeting state transitions.
type Router struct {
	meetings    MeetingStore
	transcripts TranscriptStore
	connections ConnectionResolver
	downloader  Downloader
	notifier    Notifier
	logger      logging.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewRouter creates an event router.
func NewRouter(meetings MeetingStore, transcripts TranscriptStore, connections ConnectionResolver, downloader Downloader, notifier Notifier, logger logging.Logger) *Router {
	return &Router{
		meetings:    meetings,
		transcripts: transcripts,
		connections: connections,
		downloader:  downloader,
		notifier:    notifier,
		logger:      logger.With(logging.F("component", "webhook_router")),
		tracer:      otel.Tracer("recapd/webhook"),
		now:         time.Now,
	}
}

// Route dispatches one envelope. Unknown event types, unknown meetings, and
// replayed deliveries all return nil: asynchronous delivery ordering cannot be
// guaranteed, so a miss is a skip, never a failure.
func (r *Router) Route(ctx context.Context, env Envelope) error {
	ctx, span := r.tracer.Start(ctx, "webhook.route",
		trace.WithAttributes(attribute.String("webhook.event", env.Event)))
	defer span.End()

	eventType, ok := ParseEventType(env.Event)
	if !ok {
		r.logger.Debug("Ignoring unrecognized event type",
			logging.F("event", env.Event))
		return nil
	}

	switch eventType {
	case EventMeetingStarted:
		return r.handleMeetingStarted(ctx, env)
	case EventMeetingEnded:
		return r.handleMeetingEnded(ctx, env)
	case EventRecordingCompleted:
		return r.handleRecordingCompleted(ctx, env)
	case EventURLValidation:
		// Challenge mode is answered at the HTTP layer; nothing to route.
		return nil
	default:
		return nil
	}
}

func (r *Router) handleMeetingStarted(ctx context.Context, env Envelope) error {
	payload, err := decodePayload(env)
	if err != nil {
		return err
	}

	m, err := r.meetings.FindByExternalID(ctx, meeting.PlatformZoom, payload.Object.ID)
	if rcerrors.IsNotFound(err) {
		r.logger.Debug("meeting.started for untracked meeting, skipping",
			logging.F("external_id", payload.Object.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("meeting lookup: %w", err)
	}

	now := r.now()
	applied, err := r.meetings.Transition(ctx, m.ID,
		meeting.StatusBotJoining, meeting.StatusInProgress,
		meeting.TransitionUpdate{StartedAt: &now})
	if err != nil {
		return fmt.Errorf("transition to in_progress: %w", err)
	}
	if applied {
		r.notifier.Notify(ctx, m.UserID, notify.EventBotJoined, m.ID)
	}
	return nil
}

func (r *Router) handleMeetingEnded(ctx context.Context, env Envelope) error {
	payload, err := decodePayload(env)
	if err != nil {
		return err
	}

	m, err := r.meetings.FindByExternalID(ctx, meeting.PlatformZoom, payload.Object.ID)
	if rcerrors.IsNotFound(err) {
		r.logger.Debug("meeting.ended for untracked meeting, skipping",
			logging.F("external_id", payload.Object.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("meeting lookup: %w", err)
	}

	now := r.now()
	_, err = r.meetings.Transition(ctx, m.ID,
		meeting.StatusInProgress, meeting.StatusProcessing,
		meeting.TransitionUpdate{EndedAt: &now})
	if err != nil {
		return fmt.Errorf("transition to processing: %w", err)
	}
	return nil
}

func (r *Router) handleRecordingCompleted(ctx context.Context, env Envelope) error {
	payload, err := decodePayload(env)
	if err != nil {
		return err
	}

	file, ok := payload.Object.TranscriptFile()
	if !ok {
		r.logger.Debug("Recording has no transcript artifact, skipping",
			logging.F("external_id", payload.Object.ID),
			logging.F("file_count", len(payload.Object.RecordingFiles)))
		return nil
	}

	m, err := r.meetings.FindByExternalID(ctx, meeting.PlatformZoom, payload.Object.ID)
	if rcerrors.IsNotFound(err) {
		m, err = r.createFromRecording(ctx, payload)
		if err != nil {
			return err
		}
		if m == nil {
			// No connection claims this host; drop the event.
			return nil
		}
	} else if err != nil {
		return fmt.Errorf("meeting lookup: %w", err)
	}

	result, err := r.fetchAndFormat(ctx, file, env.DownloadToken)
	if err != nil {
		return err
	}

	t := &transcript.Transcript{
		MeetingID:       m.ID,
		Content:         result.Text,
		Segments:        result.Segments,
		WordCount:       result.WordCount,
		DurationSeconds: result.DurationSeconds,
		Source:          transcript.SourceZoomRecording,
	}
	if err := r.transcripts.Create(ctx, t); err != nil && !rcerrors.IsConflict(err) {
		return fmt.Errorf("store transcript: %w", err)
	}

	// The recording can outrun any of the lifecycle webhooks, or arrive for
	// a calendar-discovered meeting that never launched; walk whatever
	// states remain between here and completed.
	applied, err := advanceToCompleted(ctx, r.meetings, m.ID, r.now())
	if err != nil {
		return err
	}
	if applied {
		r.notifier.Notify(ctx, m.UserID, notify.EventTranscriptReady, m.ID)
	}
	return nil
}

// createFromRecording handles the webhook-first flow: a recording arrived for
// a meeting that was never launched or calendar-discovered. The owning user is
// resolved through the host's stored platform connection; with no match the
// event is dropped. Returns (nil, nil) on drop.
func (r *Router) createFromRecording(ctx context.Context, payload *MeetingPayload) (*meeting.Meeting, error) {
	accountID := payload.Object.HostID
	if accountID == "" {
		accountID = payload.AccountID
	}
	if accountID == "" {
		r.logger.Warn("Recording event carries no host identifier, dropping",
			logging.F("external_id", payload.Object.ID))
		return nil, nil
	}

	userID, err := r.connections.ResolveUserByAccount(ctx, "zoom", accountID)
	if rcerrors.IsNotFound(err) {
		r.logger.Info("No connection for recording host, dropping event",
			logging.F("account_id", accountID),
			logging.F("external_id", payload.Object.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve host account: %w", err)
	}

	m := &meeting.Meeting{
		UserID:      userID,
		Platform:    meeting.PlatformZoom,
		ExternalID:  payload.Object.ID,
		Status:      meeting.StatusProcessing,
		Topic:       payload.Object.Topic,
		BotProvider: meeting.BotProviderNative,
	}
	err = r.meetings.Create(ctx, m)
	if rcerrors.IsConflict(err) {
		// Lost the race to a concurrent delivery; m now holds its row.
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create meeting from recording: %w", err)
	}

	r.logger.Info("Meeting created from recording event",
		logging.F("meeting_id", m.ID.String()),
		logging.F("user_id", userID),
		logging.F("external_id", m.ExternalID))
	return m, nil
}

func (r *Router) fetchAndFormat(ctx context.Context, file RecordingFile, token string) (*transcript.FormatResult, error) {
	body, err := r.downloader.Download(ctx, file.DownloadURL, token)
	if err != nil {
		return nil, fmt.Errorf("%w: download transcript file: %v", rcerrors.ErrUpstream, err)
	}
	defer body.Close()

	result, err := transcript.Format(body)
	if err != nil {
		return nil, fmt.Errorf("format transcript: %w", err)
	}
	return result, nil
}

func decodePayload(env Envelope) (*MeetingPayload, error) {
	var payload MeetingPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed event payload: %v", rcerrors.ErrValidation, err)
	}
	if payload.Object.ID == "" {
		return nil, fmt.Errorf("%w: event payload missing meeting id", rcerrors.ErrValidation)
	}
	return &payload, nil
}
