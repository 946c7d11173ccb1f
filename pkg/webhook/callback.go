package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/notify"
	"github.com/recapworks/recapd/pkg/transcript"
)

// CallbackStatus values a worker may report.
const (
	CallbackStatusCompleted = "completed"
	CallbackStatusFailed    = "failed"
)

// CallbackRequest is the body a worker posts when its job finishes.
type CallbackRequest struct {
	MeetingID       string               `json:"meeting_id"`
	UserID          string               `json:"user_id"`
	Status          string               `json:"status"`
	Transcript      string               `json:"transcript,omitempty"`
	SpeakerSegments []transcript.Segment `json:"speaker_segments,omitempty"`
	WordCount       int                  `json:"word_count,omitempty"`
	DurationSeconds int                  `json:"duration_seconds,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
}

// CallbackMeetings is the slice of the meeting repository the callback
// processor needs.
type CallbackMeetings interface {
	GetByID(ctx context.Context, id uuid.UUID) (*meeting.Meeting, error)
	Transition(ctx context.Context, id uuid.UUID, from, to meeting.Status, update meeting.TransitionUpdate) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)
}

// CallbackProcessor handles worker job-outcome callbacks. Semantically the
// callback is a webhook under a different authentication scheme; processing
// follows the same skip-on-miss, no-op-on-replay rules.
type CallbackProcessor struct {
	meetings    CallbackMeetings
	transcripts TranscriptStore
	notifier    Notifier
	logger      logging.Logger
	now         func() time.Time
}

// NewCallbackProcessor creates a callback processor.
func NewCallbackProcessor(meetings CallbackMeetings, transcripts TranscriptStore, notifier Notifier, logger logging.Logger) *CallbackProcessor {
	return &CallbackProcessor{
		meetings:    meetings,
		transcripts: transcripts,
		notifier:    notifier,
		logger:      logger.With(logging.F("component", "callback_processor")),
		now:         time.Now,
	}
}

// Process applies one worker callback.
func (p *CallbackProcessor) Process(ctx context.Context, req CallbackRequest) error {
	meetingID, err := uuid.Parse(req.MeetingID)
	if err != nil {
		return fmt.Errorf("%w: invalid meeting_id %q", rcerrors.ErrValidation, req.MeetingID)
	}

	m, err := p.meetings.GetByID(ctx, meetingID)
	if rcerrors.IsNotFound(err) {
		p.logger.Warn("Callback for unknown meeting, skipping",
			logging.F("meeting_id", req.MeetingID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("meeting lookup: %w", err)
	}

	switch req.Status {
	case CallbackStatusFailed:
		return p.processFailure(ctx, m, req)
	case CallbackStatusCompleted:
		return p.processCompletion(ctx, m, req)
	default:
		return fmt.Errorf("%w: unknown callback status %q", rcerrors.ErrValidation, req.Status)
	}
}

func (p *CallbackProcessor) processFailure(ctx context.Context, m *meeting.Meeting, req CallbackRequest) error {
	msg := req.ErrorMessage
	if msg == "" {
		msg = "worker reported failure"
	}

	applied, err := p.meetings.MarkFailed(ctx, m.ID, msg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if applied {
		p.notifier.Notify(ctx, m.UserID, notify.EventBotFailed, m.ID)
	}
	return nil
}

func (p *CallbackProcessor) processCompletion(ctx context.Context, m *meeting.Meeting, req CallbackRequest) error {
	if req.Transcript == "" {
		return fmt.Errorf("%w: completed callback without transcript", rcerrors.ErrValidation)
	}

	t, err := p.buildTranscript(m, req)
	if err != nil {
		return err
	}
	if err := p.transcripts.Create(ctx, t); err != nil && !rcerrors.IsConflict(err) {
		return fmt.Errorf("store transcript: %w", err)
	}

	applied, err := advanceToCompleted(ctx, p.meetings, m.ID, p.now())
	if err != nil {
		return err
	}
	if applied {
		p.notifier.Notify(ctx, m.UserID, notify.EventTranscriptReady, m.ID)
	}
	return nil
}

// buildTranscript normalizes the worker payload. Workers stream raw caption
// text; when the payload carries no segment breakdown the formatter derives
// one, which also yields the canonical word count.
func (p *CallbackProcessor) buildTranscript(m *meeting.Meeting, req CallbackRequest) (*transcript.Transcript, error) {
	t := &transcript.Transcript{
		MeetingID:       m.ID,
		Content:         req.Transcript,
		Segments:        req.SpeakerSegments,
		WordCount:       req.WordCount,
		DurationSeconds: req.DurationSeconds,
		Source:          transcript.SourceLiveBot,
	}
	if m.Platform == meeting.PlatformGoogleMeet {
		t.Source = transcript.SourceGoogleMeetBot
	}

	if len(t.Segments) == 0 {
		result, err := transcript.Format(strings.NewReader(req.Transcript))
		if err != nil {
			return nil, fmt.Errorf("format callback transcript: %w", err)
		}
		t.Content = result.Text
		t.Segments = result.Segments
		if t.WordCount == 0 {
			t.WordCount = result.WordCount
		}
		if t.DurationSeconds == 0 {
			t.DurationSeconds = result.DurationSeconds
		}
	}
	return t, nil
}

// meetingTransitioner is the store slice the catch-up walk needs; both the
// router's and the callback processor's stores satisfy it.
type meetingTransitioner interface {
	Transition(ctx context.Context, id uuid.UUID, from, to meeting.Status, update meeting.TransitionUpdate) (bool, error)
}

// advanceToCompleted walks a meeting forward through the remaining transition
// chain. A transcript can arrive before the platform's lifecycle webhooks
// (worker callbacks race meeting.ended; recordings can surface for meetings
// still scheduled or bot_joining), so every intermediate state is caught up
// here, stamping start and end times on the steps that record them. Each step
// is a conditional update and silently no-ops on replays. Returns true only
// when the final step to completed applied.
func advanceToCompleted(ctx context.Context, store meetingTransitioner, id uuid.UUID, now time.Time) (bool, error) {
	steps := []struct {
		from, to meeting.Status
		update   meeting.TransitionUpdate
	}{
		{meeting.StatusScheduled, meeting.StatusBotJoining, meeting.TransitionUpdate{}},
		{meeting.StatusBotJoining, meeting.StatusInProgress, meeting.TransitionUpdate{StartedAt: &now}},
		{meeting.StatusInProgress, meeting.StatusProcessing, meeting.TransitionUpdate{EndedAt: &now}},
		{meeting.StatusProcessing, meeting.StatusCompleted, meeting.TransitionUpdate{}},
	}

	completed := false
	for _, step := range steps {
		applied, err := store.Transition(ctx, id, step.from, step.to, step.update)
		if err != nil {
			return false, fmt.Errorf("transition %s to %s: %w", step.from, step.to, err)
		}
		if applied && step.to == meeting.StatusCompleted {
			completed = true
		}
	}
	return completed, nil
}
