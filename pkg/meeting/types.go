// Package meeting defines the meeting lifecycle domain: the persisted Meeting
// record, its status state machine, meeting-URL classification, and the
// PostgreSQL repository all other components coordinate through.
package meeting

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the conferencing platform a meeting belongs to.
type Platform string

const (
	PlatformZoom       Platform = "zoom"
	PlatformGoogleMeet Platform = "google_meet"
)

// BotProvider identifies which launch path created the bot for a meeting.
type BotProvider string

const (
	// BotProviderNative submits an ephemeral worker task directly to the
	// task runner.
	BotProviderNative BotProvider = "native"

	// BotProviderManaged delegates session creation to the remote
	// coordinator service.
	BotProviderManaged BotProvider = "managed"
)

// Meeting is the persisted record tracking one real-world conferencing
// session and its processing status. External identity is unique per
// (user, platform, external id); the repository enforces this at the
// storage layer.
type Meeting struct {
	ID          uuid.UUID
	UserID      string
	Platform    Platform
	ExternalID  string
	Status      Status
	Topic       string
	BotProvider BotProvider

	// TaskARN is the opaque worker task handle for the native provider.
	TaskARN string

	// SessionID is the coordinator session handle for the managed provider.
	SessionID string

	StartedAt    *time.Time
	EndedAt      *time.Time
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}
