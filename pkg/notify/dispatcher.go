package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
)

// PreferenceStore loads notification preferences (default-allow on miss).
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string) (*Preference, error)
}

// UserDirectory resolves user delivery addresses.
type UserDirectory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

// MeetingTopics resolves meeting topics for message rendering.
type MeetingTopics interface {
	MeetingTopic(ctx context.Context, meetingID uuid.UUID) (string, error)
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Dispatcher sends preference-gated notifications.
type Dispatcher struct {
	prefs  PreferenceStore
	users  UserDirectory
	topics MeetingTopics
	mailer Mailer
	logger logging.Logger
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(prefs PreferenceStore, users UserDirectory, topics MeetingTopics, mailer Mailer, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		prefs:  prefs,
		users:  users,
		topics: topics,
		mailer: mailer,
		logger: logger.With(logging.F("component", "notify_dispatcher")),
	}
}

// Dispatch looks up the user's preferences and, when the event is enabled,
// renders and delivers the notification email. A disabled toggle returns
// ResultSuppressed without error. meetingID may be uuid.Nil when the event
// has no meeting context; a failed topic lookup falls back to a generic
// label rather than failing the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, event Event, meetingID uuid.UUID) (Result, error) {
	pref, err := d.prefs.GetPreference(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("preference lookup: %w", err)
	}

	if !pref.Allows(event) {
		d.logger.Debug("Notification suppressed by preference",
			logging.F("user_id", userID),
			logging.F("event", string(event)))
		return ResultSuppressed, nil
	}

	email, err := d.users.UserEmail(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("email lookup for user %s: %w", userID, err)
	}

	topic := ""
	if meetingID != uuid.Nil {
		topic, err = d.topics.MeetingTopic(ctx, meetingID)
		if err != nil {
			// Topic is cosmetic; render with the generic label.
			d.logger.Warn("Meeting topic lookup failed, using generic label",
				logging.Err(err),
				logging.F("meeting_id", meetingID.String()))
			topic = ""
		}
	}

	subject, body, err := renderContent(event, topic)
	if err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}

	if err := d.mailer.Send(ctx, email, subject, body); err != nil {
		return "", fmt.Errorf("%w: mail delivery: %v", rcerrors.ErrUpstream, err)
	}

	d.logger.Info("Notification sent",
		logging.F("user_id", userID),
		logging.F("event", string(event)))

	return ResultSent, nil
}
