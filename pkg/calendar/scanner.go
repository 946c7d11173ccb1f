package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
)

// ConnectionStore is the slice of the connection repository the scanner needs.
type ConnectionStore interface {
	ListSyncEnabled(ctx context.Context) ([]*Connection, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, tokens TokenSet) error
	TouchLastSynced(ctx context.Context, id uuid.UUID) error
}

// EventSource refreshes tokens and lists calendar events for a connection.
type EventSource interface {
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
	ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error)
}

// MeetingCreator inserts discovered meetings.
type MeetingCreator interface {
	Create(ctx context.Context, m *meeting.Meeting) error
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Connections  int
	Failed       int
	Discovered   int
	Deduplicated int
}

// Scanner sweeps sync-enabled connections for upcoming meetings.
type Scanner struct {
	connections ConnectionStore
	source      EventSource
	meetings    MeetingCreator
	logger      logging.Logger
	window      time.Duration
	now         func() time.Time
}

// NewScanner creates a Scanner. window is the forward discovery horizon;
// zero or negative defaults to 24 hours.
func NewScanner(connections ConnectionStore, source EventSource, meetings MeetingCreator, logger logging.Logger, window time.Duration) *Scanner {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Scanner{
		connections: connections,
		source:      source,
		meetings:    meetings,
		logger:      logger.With(logging.F("component", "calendar_scanner")),
		window:      window,
		now:         time.Now,
	}
}

// Sweep visits every sync-enabled connection once. Per-connection failures
// are logged and counted but never abort the remaining connections.
func (s *Scanner) Sweep(ctx context.Context) (SweepStats, error) {
	conns, err := s.connections.ListSyncEnabled(ctx)
	if err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Connections: len(conns)}
	for _, conn := range conns {
		discovered, deduplicated, err := s.sweepConnection(ctx, conn)
		if err != nil {
			stats.Failed++
			s.logger.Warn("Connection sweep failed",
				logging.Err(err),
				logging.F("connection_id", conn.ID.String()),
				logging.F("user_id", conn.UserID))
			continue
		}
		stats.Discovered += discovered
		stats.Deduplicated += deduplicated
	}

	s.logger.Info("Calendar sweep finished",
		logging.F("connections", stats.Connections),
		logging.F("failed", stats.Failed),
		logging.F("discovered", stats.Discovered),
		logging.F("deduplicated", stats.Deduplicated))
	return stats, nil
}

func (s *Scanner) sweepConnection(ctx context.Context, conn *Connection) (discovered, deduplicated int, err error) {
	now := s.now()

	accessToken := conn.AccessToken
	if conn.TokenExpired(now) {
		tokens, err := s.source.Refresh(ctx, conn.RefreshToken)
		if err != nil {
			return 0, 0, err
		}
		accessToken = tokens.AccessToken

		// The sweep proceeds on the fresh token even if persisting it
		// fails; the next sweep will just refresh again.
		if err := s.connections.UpdateTokens(ctx, conn.ID, tokens); err != nil {
			s.logger.Warn("Failed to persist refreshed tokens",
				logging.Err(err),
				logging.F("connection_id", conn.ID.String()))
		}
	}

	events, err := s.source.ListEvents(ctx, accessToken, now, now.Add(s.window))
	if err != nil {
		return 0, 0, err
	}

	for _, event := range events {
		for _, link := range extractLinks(event) {
			m := &meeting.Meeting{
				UserID:      conn.UserID,
				Platform:    link.Platform,
				ExternalID:  link.ExternalID,
				Status:      meeting.StatusScheduled,
				Topic:       event.Summary,
				BotProvider: meeting.BotProviderNative,
			}
			err := s.meetings.Create(ctx, m)
			switch {
			case rcerrors.IsConflict(err):
				deduplicated++
			case err != nil:
				return discovered, deduplicated, err
			default:
				discovered++
				s.logger.Debug("Meeting discovered from calendar",
					logging.F("meeting_id", m.ID.String()),
					logging.F("platform", string(link.Platform)),
					logging.F("external_id", link.ExternalID))
			}
		}
	}

	if err := s.connections.TouchLastSynced(ctx, conn.ID); err != nil {
		s.logger.Warn("Failed to record sweep completion",
			logging.Err(err),
			logging.F("connection_id", conn.ID.String()))
	}
	return discovered, deduplicated, nil
}

// extractLinks searches the event's free-text fields and structured
// conferencing entry points for platform meeting URLs.
func extractLinks(event Event) []meeting.Link {
	parts := []string{event.Description, event.Location}
	parts = append(parts, event.EntryPoints...)
	return meeting.FindLinks(strings.Join(parts, "\n"))
}
