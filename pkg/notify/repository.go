package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
)

// Repository provides database operations for notification preferences and
// the user/meeting lookups the dispatcher needs.
type Repository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRepository creates a new notification repository.
func NewRepository(pool *pgxpool.Pool, logger logging.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger.With(logging.F("component", "notify_repository")),
	}
}

// GetPreference loads a user's notification preference. A missing record
// returns the default-allow preference, not an error.
func (r *Repository) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	query := `
		SELECT user_id, email_on_bot_joined, email_on_transcript_ready,
			email_on_bot_failed, created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`

	var p Preference
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.EmailOnBotJoined,
		&p.EmailOnTranscriptReady,
		&p.EmailOnBotFailed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultPreference(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification preference: %w", err)
	}
	return &p, nil
}

// UpsertPreference stores a user's notification toggles.
func (r *Repository) UpsertPreference(ctx context.Context, p *Preference) error {
	query := `
		INSERT INTO notification_preferences (
			user_id, email_on_bot_joined, email_on_transcript_ready,
			email_on_bot_failed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email_on_bot_joined = EXCLUDED.email_on_bot_joined,
			email_on_transcript_ready = EXCLUDED.email_on_transcript_ready,
			email_on_bot_failed = EXCLUDED.email_on_bot_failed,
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		p.UserID, p.EmailOnBotJoined, p.EmailOnTranscriptReady, p.EmailOnBotFailed)
	if err != nil {
		return fmt.Errorf("failed to upsert notification preference: %w", err)
	}
	return nil
}

// UserEmail resolves a user's delivery address.
func (r *Repository) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx,
		`SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", rcerrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve user email: %w", err)
	}
	return email, nil
}

// MeetingTopic resolves a meeting's topic for message rendering.
func (r *Repository) MeetingTopic(ctx context.Context, meetingID uuid.UUID) (string, error) {
	var topic string
	err := r.pool.QueryRow(ctx,
		`SELECT topic FROM meetings WHERE id = $1`, meetingID).Scan(&topic)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", rcerrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve meeting topic: %w", err)
	}
	return topic, nil
}
