package webhook

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/notify"
	"github.com/recapworks/recapd/pkg/transcript"
)

// memMeetings is an in-memory MeetingStore/CallbackMeetings with the same
// conditional-update semantics as the SQL repository.
type memMeetings struct {
	byID map[uuid.UUID]*meeting.Meeting
}

func newMemMeetings(ms ...*meeting.Meeting) *memMeetings {
	s := &memMeetings{byID: make(map[uuid.UUID]*meeting.Meeting)}
	for _, m := range ms {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		s.byID[m.ID] = m
	}
	return s
}

func (s *memMeetings) FindByExternalID(ctx context.Context, platform meeting.Platform, externalID string) (*meeting.Meeting, error) {
	for _, m := range s.byID {
		if m.Platform == platform && m.ExternalID == externalID {
			return m, nil
		}
	}
	return nil, rcerrors.ErrNotFound
}

func (s *memMeetings) GetByID(ctx context.Context, id uuid.UUID) (*meeting.Meeting, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, rcerrors.ErrNotFound
	}
	return m, nil
}

func (s *memMeetings) Create(ctx context.Context, m *meeting.Meeting) error {
	for _, existing := range s.byID {
		if existing.UserID == m.UserID && existing.Platform == m.Platform && existing.ExternalID == m.ExternalID {
			*m = *existing
			return rcerrors.ErrConflict
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.byID[m.ID] = m
	return nil
}

func (s *memMeetings) Transition(ctx context.Context, id uuid.UUID, from, to meeting.Status, update meeting.TransitionUpdate) (bool, error) {
	m, ok := s.byID[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	if update.StartedAt != nil {
		m.StartedAt = update.StartedAt
	}
	if update.EndedAt != nil {
		m.EndedAt = update.EndedAt
	}
	if update.ErrorMessage != "" {
		m.ErrorMessage = update.ErrorMessage
	}
	return true, nil
}

func (s *memMeetings) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	m, ok := s.byID[id]
	if !ok || m.Status.Terminal() {
		return false, nil
	}
	m.Status = meeting.StatusFailed
	m.ErrorMessage = errorMessage
	return true, nil
}

type memTranscripts struct {
	stored []*transcript.Transcript
}

func (s *memTranscripts) Create(ctx context.Context, t *transcript.Transcript) error {
	for _, existing := range s.stored {
		if existing.MeetingID == t.MeetingID {
			return rcerrors.ErrConflict
		}
	}
	s.stored = append(s.stored, t)
	return nil
}

type memResolver struct {
	users map[string]string // accountID -> userID
}

func (r *memResolver) ResolveUserByAccount(ctx context.Context, provider, accountID string) (string, error) {
	userID, ok := r.users[accountID]
	if !ok {
		return "", rcerrors.ErrNotFound
	}
	return userID, nil
}

type memDownloader struct {
	content string
	calls   int
}

func (d *memDownloader) Download(ctx context.Context, url, token string) (io.ReadCloser, error) {
	d.calls++
	return io.NopCloser(strings.NewReader(d.content)), nil
}

type notifyCall struct {
	userID string
	event  notify.Event
}

type memNotifier struct {
	calls []notifyCall
}

func (n *memNotifier) Notify(ctx context.Context, userID string, event notify.Event, meetingID uuid.UUID) {
	n.calls = append(n.calls, notifyCall{userID: userID, event: event})
}

const sampleCaptions = `WEBVTT

1
00:00:01.000 --> 00:00:04.000
Alice Johnson: Let's get started with the roadmap.

2
00:00:04.500 --> 00:00:08.000
Bob Lee: Sounds good to me.
`

func envelopeFor(t *testing.T, event string, payload MeetingPayload) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: event, Payload: raw}
}

func newTestRouter(meetings *memMeetings, transcripts *memTranscripts, resolver *memResolver, dl *memDownloader, notifier *memNotifier) *Router {
	return NewRouter(meetings, transcripts, resolver, dl, notifier, logging.NewNopLogger())
}

func TestRoute_MeetingStarted(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "1234567890", Status: meeting.StatusBotJoining}
	meetings := newMemMeetings(m)
	notifier := &memNotifier{}
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{}, notifier)

	env := envelopeFor(t, "meeting.started", MeetingPayload{Object: MeetingObject{ID: "1234567890"}})
	require.NoError(t, r.Route(context.Background(), env))

	assert.Equal(t, meeting.StatusInProgress, m.Status)
	require.NotNil(t, m.StartedAt)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.EventBotJoined, notifier.calls[0].event)
}

func TestRoute_MeetingStartedReplayIsNoOp(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "1234567890", Status: meeting.StatusBotJoining}
	meetings := newMemMeetings(m)
	notifier := &memNotifier{}
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{}, notifier)

	env := envelopeFor(t, "meeting.started", MeetingPayload{Object: MeetingObject{ID: "1234567890"}})
	require.NoError(t, r.Route(context.Background(), env))
	require.NoError(t, r.Route(context.Background(), env))

	assert.Equal(t, meeting.StatusInProgress, m.Status)
	assert.Len(t, notifier.calls, 1, "redelivery must not re-notify")
}

func TestRoute_MeetingStartedUnknownMeeting(t *testing.T) {
	meetings := newMemMeetings()
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{}, &memNotifier{})

	env := envelopeFor(t, "meeting.started", MeetingPayload{Object: MeetingObject{ID: "999"}})
	assert.NoError(t, r.Route(context.Background(), env))
}

func TestRoute_MeetingEnded(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusInProgress}
	meetings := newMemMeetings(m)
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{}, &memNotifier{})

	env := envelopeFor(t, "meeting.ended", MeetingPayload{Object: MeetingObject{ID: "42"}})
	require.NoError(t, r.Route(context.Background(), env))

	assert.Equal(t, meeting.StatusProcessing, m.Status)
	assert.NotNil(t, m.EndedAt)
}

func TestRoute_UnrecognizedEventIsNoOp(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusInProgress}
	meetings := newMemMeetings(m)
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{}, &memNotifier{})

	require.NoError(t, r.Route(context.Background(), Envelope{Event: "meeting.participant_joined", Payload: []byte(`{}`)}))
	assert.Equal(t, meeting.StatusInProgress, m.Status)
}

func TestRoute_RecordingWithoutTranscriptArtifact(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusProcessing}
	meetings := newMemMeetings(m)
	transcripts := &memTranscripts{}
	dl := &memDownloader{content: sampleCaptions}
	r := newTestRouter(meetings, transcripts, &memResolver{}, dl, &memNotifier{})

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID: "42",
		RecordingFiles: []RecordingFile{
			{FileType: "MP4", DownloadURL: "https://example.com/video"},
			{FileType: "M4A", DownloadURL: "https://example.com/audio"},
		},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	assert.Empty(t, transcripts.stored, "no transcript row without a TRANSCRIPT or CC file")
	assert.Equal(t, meeting.StatusProcessing, m.Status, "status must not change")
	assert.Zero(t, dl.calls)
}

func TestRoute_RecordingCompleted(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusProcessing}
	meetings := newMemMeetings(m)
	transcripts := &memTranscripts{}
	notifier := &memNotifier{}
	r := newTestRouter(meetings, transcripts, &memResolver{}, &memDownloader{content: sampleCaptions}, notifier)

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID: "42",
		RecordingFiles: []RecordingFile{
			{FileType: "MP4", DownloadURL: "https://example.com/video"},
			{FileType: "TRANSCRIPT", DownloadURL: "https://example.com/vtt"},
		},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	require.Len(t, transcripts.stored, 1)
	stored := transcripts.stored[0]
	assert.Equal(t, m.ID, stored.MeetingID)
	assert.Equal(t, transcript.SourceZoomRecording, stored.Source)
	assert.Contains(t, stored.Content, "Alice Johnson:")
	assert.Positive(t, stored.WordCount)

	assert.Equal(t, meeting.StatusCompleted, m.Status)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.EventTranscriptReady, notifier.calls[0].event)
}

func TestRoute_RecordingCatchesUpMissedEnd(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusInProgress}
	meetings := newMemMeetings(m)
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{content: sampleCaptions}, &memNotifier{})

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID:             "42",
		RecordingFiles: []RecordingFile{{FileType: "CC", DownloadURL: "https://example.com/cc"}},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	assert.Equal(t, meeting.StatusCompleted, m.Status)
	assert.NotNil(t, m.EndedAt)
}

func TestRoute_RecordingCompletesMeetingThatNeverStarted(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusBotJoining}
	meetings := newMemMeetings(m)
	transcripts := &memTranscripts{}
	notifier := &memNotifier{}
	r := newTestRouter(meetings, transcripts, &memResolver{}, &memDownloader{content: sampleCaptions}, notifier)

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID:             "42",
		RecordingFiles: []RecordingFile{{FileType: "TRANSCRIPT", DownloadURL: "https://example.com/vtt"}},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	require.Len(t, transcripts.stored, 1)
	assert.Equal(t, meeting.StatusCompleted, m.Status, "recording must carry the meeting all the way to completed")
	assert.NotNil(t, m.StartedAt)
	assert.NotNil(t, m.EndedAt)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.EventTranscriptReady, notifier.calls[0].event)
}

func TestRoute_RecordingCompletesScheduledMeeting(t *testing.T) {
	m := &meeting.Meeting{UserID: "u1", Platform: meeting.PlatformZoom, ExternalID: "42", Status: meeting.StatusScheduled}
	meetings := newMemMeetings(m)
	notifier := &memNotifier{}
	r := newTestRouter(meetings, &memTranscripts{}, &memResolver{}, &memDownloader{content: sampleCaptions}, notifier)

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID:             "42",
		RecordingFiles: []RecordingFile{{FileType: "CC", DownloadURL: "https://example.com/cc"}},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	assert.Equal(t, meeting.StatusCompleted, m.Status, "calendar-discovered meetings complete from their recording")
	assert.NotNil(t, m.StartedAt)
	assert.NotNil(t, m.EndedAt)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, notify.EventTranscriptReady, notifier.calls[0].event)
}

func TestRoute_WebhookFirstRecording(t *testing.T) {
	meetings := newMemMeetings()
	transcripts := &memTranscripts{}
	resolver := &memResolver{users: map[string]string{"host-abc": "u7"}}
	notifier := &memNotifier{}
	r := newTestRouter(meetings, transcripts, resolver, &memDownloader{content: sampleCaptions}, notifier)

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID:             "555000111",
		HostID:         "host-abc",
		Topic:          "Quarterly Review",
		RecordingFiles: []RecordingFile{{FileType: "TRANSCRIPT", DownloadURL: "https://example.com/vtt"}},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	created, err := meetings.FindByExternalID(context.Background(), meeting.PlatformZoom, "555000111")
	require.NoError(t, err)
	assert.Equal(t, "u7", created.UserID)
	assert.Equal(t, "Quarterly Review", created.Topic)
	assert.Equal(t, meeting.StatusCompleted, created.Status)
	assert.Len(t, transcripts.stored, 1)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "u7", notifier.calls[0].userID)
}

func TestRoute_WebhookFirstNoConnectionDropsEvent(t *testing.T) {
	meetings := newMemMeetings()
	transcripts := &memTranscripts{}
	r := newTestRouter(meetings, transcripts, &memResolver{}, &memDownloader{content: sampleCaptions}, &memNotifier{})

	env := envelopeFor(t, "recording.completed", MeetingPayload{Object: MeetingObject{
		ID:             "555000111",
		HostID:         "host-unknown",
		RecordingFiles: []RecordingFile{{FileType: "TRANSCRIPT", DownloadURL: "https://example.com/vtt"}},
	}})
	require.NoError(t, r.Route(context.Background(), env))

	assert.Empty(t, meetings.byID)
	assert.Empty(t, transcripts.stored)
}

func TestRoute_MalformedPayload(t *testing.T) {
	r := newTestRouter(newMemMeetings(), &memTranscripts{}, &memResolver{}, &memDownloader{}, &memNotifier{})

	err := r.Route(context.Background(), Envelope{Event: "meeting.started", Payload: []byte(`{"object":{}}`)})
	assert.True(t, rcerrors.IsValidation(err))
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		input string
		want  EventType
		ok    bool
	}{
		{"meeting.started", EventMeetingStarted, true},
		{"meeting.ended", EventMeetingEnded, true},
		{"recording.completed", EventRecordingCompleted, true},
		{"endpoint.url_validation", EventURLValidation, true},
		{"meeting.participant_left", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseEventType(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestTranscriptFile(t *testing.T) {
	obj := MeetingObject{RecordingFiles: []RecordingFile{
		{FileType: "MP4", DownloadURL: "a"},
		{FileType: "cc", DownloadURL: "b"},
		{FileType: "TRANSCRIPT", DownloadURL: "c"},
	}}
	f, ok := obj.TranscriptFile()
	require.True(t, ok)
	assert.Equal(t, "b", f.DownloadURL, "first transcript-bearing file wins, case-insensitive")

	_, ok = MeetingObject{}.TranscriptFile()
	assert.False(t, ok)
}
