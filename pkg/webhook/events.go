package webhook

import (
	"encoding/json"
	"strings"
)

// EventType is the closed set of platform event types the router understands.
// Anything outside this set is a forward-compatible no-op.
type EventType string

const (
	// EventURLValidation is the CRC connectivity challenge.
	EventURLValidation EventType = "endpoint.url_validation"

	// EventMeetingStarted signals the conference has begun.
	EventMeetingStarted EventType = "meeting.started"

	// EventMeetingEnded signals the conference has finished.
	EventMeetingEnded EventType = "meeting.ended"

	// EventRecordingCompleted signals recording artifacts are downloadable.
	EventRecordingCompleted EventType = "recording.completed"
)

// ParseEventType maps a wire event string onto the closed enum. The second
// return is false for unrecognized types, which callers must treat as a no-op
// rather than an error.
func ParseEventType(s string) (EventType, bool) {
	switch et := EventType(s); et {
	case EventURLValidation, EventMeetingStarted, EventMeetingEnded, EventRecordingCompleted:
		return et, true
	default:
		return "", false
	}
}

// Envelope is the outer shape of every platform delivery.
type Envelope struct {
	Event         string          `json:"event"`
	EventTS       int64           `json:"event_ts,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	DownloadToken string          `json:"download_token,omitempty"`
}

// ChallengePayload carries the plain verification token of a CRC challenge.
type ChallengePayload struct {
	PlainToken string `json:"plainToken"`
}

// ChallengeResponse is the body returned for a CRC challenge.
type ChallengeResponse struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}

// MeetingPayload wraps the meeting object of lifecycle and recording events.
type MeetingPayload struct {
	AccountID string        `json:"account_id,omitempty"`
	Object    MeetingObject `json:"object"`
}

// MeetingObject is the platform's view of a conference.
type MeetingObject struct {
	ID             string          `json:"id"`
	UUID           string          `json:"uuid,omitempty"`
	HostID         string          `json:"host_id,omitempty"`
	Topic          string          `json:"topic,omitempty"`
	StartTime      string          `json:"start_time,omitempty"`
	EndTime        string          `json:"end_time,omitempty"`
	Duration       int             `json:"duration,omitempty"`
	RecordingFiles []RecordingFile `json:"recording_files,omitempty"`
}

// RecordingFile is one downloadable artifact of a recording.completed event.
type RecordingFile struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	FileExtension string `json:"file_extension,omitempty"`
	RecordingType string `json:"recording_type,omitempty"`
	DownloadURL   string `json:"download_url"`
}

// TranscriptFile returns the first transcript-bearing artifact in the file
// list. Recording events without one carry nothing this service can ingest.
func (o MeetingObject) TranscriptFile() (RecordingFile, bool) {
	for _, f := range o.RecordingFiles {
		switch strings.ToUpper(f.FileType) {
		case "TRANSCRIPT", "CC":
			return f, true
		}
	}
	return RecordingFile{}, false
}
