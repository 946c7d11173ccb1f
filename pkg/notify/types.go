// Package notify sends preference-gated email notifications on meeting
// lifecycle milestones. Lifecycle code publishes jobs to the durable queue;
// the consumer drives the dispatcher, so delivery is retried at least once
// and never fails the operation that triggered it.
package notify

import (
	"time"
)

// Event identifies a notification trigger.
type Event string

const (
	// EventBotJoined fires when the bot enters a meeting.
	EventBotJoined Event = "bot_joined"

	// EventTranscriptReady fires when a transcript is stored.
	EventTranscriptReady Event = "transcript_ready"

	// EventBotFailed fires when a meeting fails.
	EventBotFailed Event = "bot_failed"
)

// Result reports the outcome of a dispatch attempt.
type Result string

const (
	// ResultSent means an email was delivered to the transport.
	ResultSent Result = "sent"

	// ResultSuppressed means the user's preferences disabled this event.
	// Suppression is a successful outcome, not an error.
	ResultSuppressed Result = "suppressed"
)

// Preference holds one user's notification toggles. An absent record implies
// every notification enabled (default-allow).
type Preference struct {
	UserID                 string
	EmailOnBotJoined       bool
	EmailOnTranscriptReady bool
	EmailOnBotFailed       bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DefaultPreference returns the default-allow preference used when no record
// exists for a user.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:                 userID,
		EmailOnBotJoined:       true,
		EmailOnTranscriptReady: true,
		EmailOnBotFailed:       true,
	}
}

// Allows reports whether the preference permits the given event.
func (p *Preference) Allows(event Event) bool {
	switch event {
	case EventBotJoined:
		return p.EmailOnBotJoined
	case EventTranscriptReady:
		return p.EmailOnTranscriptReady
	case EventBotFailed:
		return p.EmailOnBotFailed
	default:
		// Unknown events stay deliverable; gating is per known toggle.
		return true
	}
}

// Job is the queue message carrying one notification request.
type Job struct {
	UserID    string `json:"user_id"`
	Event     Event  `json:"event"`
	MeetingID string `json:"meeting_id,omitempty"`
}

// GetMessageType identifies the job type for queue consumers.
func (j Job) GetMessageType() string {
	return "notification"
}

// GetPriority orders notification jobs; failures jump the line so users hear
// about broken meetings first.
func (j Job) GetPriority() int {
	if j.Event == EventBotFailed {
		return 10
	}
	return 5
}
