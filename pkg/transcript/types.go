// Package transcript converts raw caption tracks into speaker-segmented
// prose and stores the resulting transcript records.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies where a transcript came from.
type Source string

const (
	SourceZoomRecording Source = "zoom_recording"
	SourceLiveBot       Source = "live_bot"
	SourceGoogleMeetBot Source = "google_meet_bot"
)

// Segment is one contiguous block of speech attributed to a single speaker.
type Segment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int    `json:"start_ms,omitempty"`
	EndMs   int    `json:"end_ms,omitempty"`
}

// Transcript belongs to exactly one meeting and is immutable once created.
type Transcript struct {
	ID              uuid.UUID
	MeetingID       uuid.UUID
	Content         string
	Segments        []Segment
	WordCount       int
	DurationSeconds int
	Source          Source
	CreatedAt       time.Time
}
