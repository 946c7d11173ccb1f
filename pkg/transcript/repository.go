package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
	"github.com/recapworks/recapd/pkg/logging"
)

// Repository provides database operations for transcripts.
type Repository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRepository creates a new transcript repository.
func NewRepository(pool *pgxpool.Pool, logger logging.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger.With(logging.F("component", "transcript_repository")),
	}
}

// Create stores a transcript for a meeting. Transcripts are 1:1 with meetings
// and immutable: a second insert for the same meeting is a no-op returning
// ErrConflict, which replayed delivery events treat as already-done.
func (r *Repository) Create(ctx context.Context, t *Transcript) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	segmentsJSON, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	query := `
		INSERT INTO transcripts (
			id, meeting_id, content, segments, word_count, duration_seconds,
			source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (meeting_id) DO NOTHING
		RETURNING created_at
	`

	err = r.pool.QueryRow(ctx, query,
		t.ID,
		t.MeetingID,
		t.Content,
		segmentsJSON,
		t.WordCount,
		t.DurationSeconds,
		t.Source,
	).Scan(&t.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("Transcript already stored for meeting",
			logging.F("meeting_id", t.MeetingID.String()))
		return fmt.Errorf("transcript exists: %w", rcerrors.ErrConflict)
	}

	if err != nil {
		r.logger.Error("Failed to store transcript",
			logging.Err(err),
			logging.F("meeting_id", t.MeetingID.String()))
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	r.logger.Info("Transcript stored",
		logging.F("meeting_id", t.MeetingID.String()),
		logging.F("word_count", t.WordCount),
		logging.F("source", string(t.Source)))

	return nil
}

// GetByMeetingID retrieves the transcript for a meeting.
func (r *Repository) GetByMeetingID(ctx context.Context, meetingID uuid.UUID) (*Transcript, error) {
	query := `
		SELECT id, meeting_id, content, segments, word_count, duration_seconds,
			source, created_at
		FROM transcripts
		WHERE meeting_id = $1
	`

	var (
		t            Transcript
		segmentsJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, meetingID).Scan(
		&t.ID,
		&t.MeetingID,
		&t.Content,
		&segmentsJSON,
		&t.WordCount,
		&t.DurationSeconds,
		&t.Source,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rcerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	if len(segmentsJSON) > 0 {
		if err := json.Unmarshal(segmentsJSON, &t.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	}

	return &t, nil
}
