package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
)

type fakePrefs struct {
	pref *Preference
	err  error
}

func (f *fakePrefs) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.pref == nil {
		return DefaultPreference(userID), nil
	}
	return f.pref, nil
}

type fakeUsers struct {
	email string
	err   error
}

func (f *fakeUsers) UserEmail(ctx context.Context, userID string) (string, error) {
	return f.email, f.err
}

type fakeTopics struct {
	topic string
	err   error
}

func (f *fakeTopics) MeetingTopic(ctx context.Context, meetingID uuid.UUID) (string, error) {
	return f.topic, f.err
}

type fakeMailer struct {
	sent    []string
	subject string
	body    string
	err     error
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	f.subject = subject
	f.body = body
	return nil
}

func newTestDispatcher(prefs *fakePrefs, users *fakeUsers, topics *fakeTopics, mailer *fakeMailer) *Dispatcher {
	return NewDispatcher(prefs, users, topics, mailer, logging.NewNopLogger())
}

func TestDispatch_SendsWhenEnabled(t *testing.T) {
	mailer := &fakeMailer{}
	d := newTestDispatcher(
		&fakePrefs{},
		&fakeUsers{email: "user@example.com"},
		&fakeTopics{topic: "Weekly Sync"},
		mailer,
	)

	result, err := d.Dispatch(context.Background(), "u1", EventTranscriptReady, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, ResultSent, result)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "user@example.com", mailer.sent[0])
	assert.Contains(t, mailer.subject, "Weekly Sync")
	assert.Contains(t, mailer.body, "Weekly Sync")
}

func TestDispatch_SuppressedByPreference(t *testing.T) {
	mailer := &fakeMailer{}
	pref := DefaultPreference("u1")
	pref.EmailOnTranscriptReady = false

	d := newTestDispatcher(
		&fakePrefs{pref: pref},
		&fakeUsers{email: "user@example.com"},
		&fakeTopics{},
		mailer,
	)

	result, err := d.Dispatch(context.Background(), "u1", EventTranscriptReady, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, ResultSuppressed, result)
	assert.Empty(t, mailer.sent, "no email may be sent when the toggle is off")
}

func TestDispatch_DefaultAllowWhenNoRecord(t *testing.T) {
	mailer := &fakeMailer{}
	d := newTestDispatcher(
		&fakePrefs{}, // returns DefaultPreference
		&fakeUsers{email: "user@example.com"},
		&fakeTopics{topic: "Standup"},
		mailer,
	)

	result, err := d.Dispatch(context.Background(), "u1", EventBotJoined, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, ResultSent, result)
	assert.Len(t, mailer.sent, 1)
}

func TestDispatch_TopicLookupFallsBackToGenericLabel(t *testing.T) {
	mailer := &fakeMailer{}
	d := newTestDispatcher(
		&fakePrefs{},
		&fakeUsers{email: "user@example.com"},
		&fakeTopics{err: rcerrors.ErrNotFound},
		mailer,
	)

	result, err := d.Dispatch(context.Background(), "u1", EventTranscriptReady, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, ResultSent, result)
	assert.Contains(t, mailer.subject, "your meeting")
}

func TestDispatch_NoMeetingContext(t *testing.T) {
	topics := &fakeTopics{err: errors.New("must not be called")}
	mailer := &fakeMailer{}
	d := newTestDispatcher(&fakePrefs{}, &fakeUsers{email: "u@example.com"}, topics, mailer)

	result, err := d.Dispatch(context.Background(), "u1", EventBotFailed, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSent, result)
	assert.Contains(t, mailer.subject, "your meeting")
}

func TestDispatch_MailerFailureIsUpstream(t *testing.T) {
	d := newTestDispatcher(
		&fakePrefs{},
		&fakeUsers{email: "user@example.com"},
		&fakeTopics{},
		&fakeMailer{err: errors.New("connection refused")},
	)

	_, err := d.Dispatch(context.Background(), "u1", EventTranscriptReady, uuid.Nil)
	assert.True(t, rcerrors.IsUpstream(err))
}

func TestDispatch_UnknownUser(t *testing.T) {
	d := newTestDispatcher(
		&fakePrefs{},
		&fakeUsers{err: rcerrors.ErrNotFound},
		&fakeTopics{},
		&fakeMailer{},
	)

	_, err := d.Dispatch(context.Background(), "ghost", EventTranscriptReady, uuid.Nil)
	assert.True(t, rcerrors.IsNotFound(err))
}

func TestPreference_Allows(t *testing.T) {
	p := DefaultPreference("u1")
	assert.True(t, p.Allows(EventBotJoined))
	assert.True(t, p.Allows(EventTranscriptReady))
	assert.True(t, p.Allows(EventBotFailed))

	p.EmailOnBotFailed = false
	assert.False(t, p.Allows(EventBotFailed))
	assert.True(t, p.Allows(EventTranscriptReady))
}

func TestJob_Priority(t *testing.T) {
	assert.Greater(t, Job{Event: EventBotFailed}.GetPriority(), Job{Event: EventTranscriptReady}.GetPriority())
	assert.Equal(t, "notification", Job{}.GetMessageType())
}
