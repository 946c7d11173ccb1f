// Package calendar discovers upcoming meetings from connected calendars and
// inserts them idempotently, and manages the OAuth connections that make the
// discovery possible.
package calendar

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the calendar or conferencing account a connection
// belongs to.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderZoom   Provider = "zoom"
)

// Connection is one user's authorization for a provider account. Token
// fields hold plaintext in memory; the repository encrypts them at rest.
type Connection struct {
	ID             uuid.UUID
	UserID         string
	Provider       Provider
	AccountEmail   string
	AccountID      string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	SyncEnabled    bool
	LastSyncedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenExpired reports whether the access token needs a refresh before use.
func (c *Connection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && !c.TokenExpiresAt.After(now)
}

// TokenSet is the result of an OAuth exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Event is one calendar entry within the sweep window. Fields carry the text
// the link extractor searches.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	// EntryPoints holds conferencing URLs attached as structured metadata
	// rather than free text.
	EntryPoints []string
}
