package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
)

// Repository provides database operations for meeting records.
type Repository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRepository creates a new meeting repository.
func NewRepository(pool *pgxpool.Pool, logger logging.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger.With(logging.F("component", "meeting_repository")),
	}
}

const meetingColumns = `
	id, user_id, platform, external_id, status, topic, bot_provider,
	task_arn, session_id, started_at, ended_at, error_message,
	created_at, updated_at
`

// Create inserts a new meeting record. The unique index on
// (user_id, platform, external_id) makes concurrent creation safe: when a row
// already exists the insert is a no-op and ErrConflict is returned with the
// existing record loaded into m.
func (r *Repository) Create(ctx context.Context, m *Meeting) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", rcerrors.ErrValidation, m.Status)
	}

	query := `
		INSERT INTO meetings (
			id, user_id, platform, external_id, status, topic, bot_provider,
			task_arn, session_id, started_at, ended_at, error_message,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			NOW(), NOW()
		)
		ON CONFLICT (user_id, platform, external_id) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		m.ID,
		m.UserID,
		m.Platform,
		m.ExternalID,
		m.Status,
		m.Topic,
		m.BotProvider,
		m.TaskARN,
		m.SessionID,
		m.StartedAt,
		m.EndedAt,
		m.ErrorMessage,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	// ON CONFLICT case: load the row that won the race.
	if errors.Is(err, pgx.ErrNoRows) {
		existing, lookupErr := r.GetByExternalID(ctx, m.UserID, m.Platform, m.ExternalID)
		if lookupErr != nil {
			return fmt.Errorf("failed to load meeting after conflict: %w", lookupErr)
		}
		*m = *existing
		return fmt.Errorf("meeting already tracked: %w", rcerrors.ErrConflict)
	}

	if err != nil {
		r.logger.Error("Failed to create meeting",
			logging.Err(err),
			logging.F("user_id", m.UserID),
			logging.F("platform", string(m.Platform)),
			logging.F("external_id", m.ExternalID))
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	r.logger.Debug("Meeting created",
		logging.F("meeting_id", m.ID.String()),
		logging.F("platform", string(m.Platform)),
		logging.F("external_id", m.ExternalID),
		logging.F("status", string(m.Status)))

	return nil
}

// GetByID retrieves a meeting by its id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	return r.scanMeeting(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalID retrieves a meeting by its owner-scoped external identity.
func (r *Repository) GetByExternalID(ctx context.Context, userID string, platform Platform, externalID string) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings
		WHERE user_id = $1 AND platform = $2 AND external_id = $3`
	return r.scanMeeting(r.pool.QueryRow(ctx, query, userID, platform, externalID))
}

// FindByExternalID retrieves a meeting by platform and external id without a
// user scope. Webhook events carry no user identity, so this is the lookup the
// event router uses; a miss returns ErrNotFound, which callers treat as a
// silent skip.
func (r *Repository) FindByExternalID(ctx context.Context, platform Platform, externalID string) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings
		WHERE platform = $1 AND external_id = $2
		ORDER BY created_at DESC
		LIMIT 1`
	return r.scanMeeting(r.pool.QueryRow(ctx, query, platform, externalID))
}

// TransitionUpdate carries the fields a status transition records alongside
// the new status.
type TransitionUpdate struct {
	StartedAt    *time.Time
	EndedAt      *time.Time
	ErrorMessage string
}

// Transition applies a compare-and-swap status update: the row changes only if
// its current status equals the expected prior status. It returns false when
// the condition did not hold, which callers treat as an idempotent no-op for
// replayed or racing events.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to Status, update TransitionUpdate) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", rcerrors.ErrInvalidState, from, to)
	}

	query := `
		UPDATE meetings SET
			status = $3,
			started_at = COALESCE($4, started_at),
			ended_at = COALESCE($5, ended_at),
			error_message = CASE WHEN $6 <> '' THEN $6 ELSE error_message END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from, to,
		update.StartedAt, update.EndedAt, update.ErrorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to transition meeting: %w", err)
	}

	applied := tag.RowsAffected() == 1
	if applied {
		r.logger.Info("Meeting status transition",
			logging.F("meeting_id", id.String()),
			logging.F("from", string(from)),
			logging.F("to", string(to)))
	} else {
		r.logger.Debug("Transition skipped, status precondition not met",
			logging.F("meeting_id", id.String()),
			logging.F("expected", string(from)),
			logging.F("target", string(to)))
	}

	return applied, nil
}

// MarkFailed transitions a meeting to failed from any non-terminal status,
// recording the error detail. Terminal meetings are left untouched.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	query := `
		UPDATE meetings SET
			status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5)
	`

	tag, err := r.pool.Exec(ctx, query, id, StatusFailed, errorMessage,
		StatusCompleted, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to mark meeting failed: %w", err)
	}

	applied := tag.RowsAffected() == 1
	if applied {
		r.logger.Warn("Meeting marked failed",
			logging.F("meeting_id", id.String()),
			logging.F("error_message", errorMessage))
	}
	return applied, nil
}

// SetTaskARN stores the worker task handle returned by the task runner.
// Called after a successful launch; its failure must not undo the launch,
// so callers log rather than propagate errors.
func (r *Repository) SetTaskARN(ctx context.Context, id uuid.UUID, taskARN string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE meetings SET task_arn = $2, updated_at = NOW() WHERE id = $1`,
		id, taskARN)
	if err != nil {
		return fmt.Errorf("failed to set task handle: %w", err)
	}
	return nil
}

// SetSession stores the coordinator session id for managed-provider meetings.
func (r *Repository) SetSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE meetings SET session_id = $2, updated_at = NOW() WHERE id = $1`,
		id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set session id: %w", err)
	}
	return nil
}

// scanMeeting scans a single meeting row, mapping pgx.ErrNoRows to the
// domain ErrNotFound.
func (r *Repository) scanMeeting(row pgx.Row) (*Meeting, error) {
	var m Meeting
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Platform,
		&m.ExternalID,
		&m.Status,
		&m.Topic,
		&m.BotProvider,
		&m.TaskARN,
		&m.SessionID,
		&m.StartedAt,
		&m.EndedAt,
		&m.ErrorMessage,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rcerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan meeting: %w", err)
	}
	return &m, nil
}
