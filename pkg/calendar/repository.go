package calendar

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
	"github.com/recapworks/recapd/pkg/tokencipher"
)

// Repository provides database operations for calendar connections. OAuth
// tokens are encrypted before they touch a row and decrypted on read.
type Repository struct {
	pool   *pgxpool.Pool
	cipher *tokencipher.Cipher
	logger logging.Logger
}

// NewRepository creates a connection repository.
func NewRepository(pool *pgxpool.Pool, cipher *tokencipher.Cipher, logger logging.Logger) *Repository {
	return &Repository{
		pool:   pool,
		cipher: cipher,
		logger: logger.With(logging.F("component", "calendar_repository")),
	}
}

// Upsert stores a connection, replacing the tokens of an existing
// (user, provider) pair. Used by the OAuth callback.
func (r *Repository) Upsert(ctx context.Context, c *Connection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	access, refresh, err := r.sealTokens(c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO calendar_connections (
			id, user_id, provider, account_email, account_id,
			access_token, refresh_token, token_expires_at, sync_enabled,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			account_email = EXCLUDED.account_email,
			account_id = EXCLUDED.account_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			sync_enabled = EXCLUDED.sync_enabled,
			updated_at = NOW()
		RETURNING id
	`
	err = r.pool.QueryRow(ctx, query,
		c.ID, c.UserID, c.Provider, c.AccountEmail, c.AccountID,
		access, refresh, c.TokenExpiresAt, c.SyncEnabled,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	r.logger.Info("Calendar connection stored",
		logging.F("user_id", c.UserID),
		logging.F("provider", string(c.Provider)),
		logging.F("account_email", c.AccountEmail))
	return nil
}

// ListSyncEnabled returns every connection the sweep should visit.
func (r *Repository) ListSyncEnabled(ctx context.Context) ([]*Connection, error) {
	query := `
		SELECT id, user_id, provider, account_email, account_id,
			access_token, refresh_token, token_expires_at, sync_enabled,
			last_synced_at, created_at, updated_at
		FROM calendar_connections
		WHERE sync_enabled = TRUE
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		c, err := r.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// UpdateTokens persists a refreshed token set.
func (r *Repository) UpdateTokens(ctx context.Context, id uuid.UUID, tokens TokenSet) error {
	access, refresh, err := r.sealTokens(tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE calendar_connections SET
			access_token = $2,
			refresh_token = $3,
			token_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1
	`, id, access, refresh, tokens.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// TouchLastSynced records a completed sweep for the connection.
func (r *Repository) TouchLastSynced(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_connections SET last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to touch last_synced_at: %w", err)
	}
	return nil
}

// ResolveUserByAccount maps a provider host account onto its owning user.
// The webhook router uses this for recordings of meetings never launched or
// discovered; a miss returns ErrNotFound and the caller drops the event.
func (r *Repository) ResolveUserByAccount(ctx context.Context, provider, accountID string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx, `
		SELECT user_id FROM calendar_connections
		WHERE provider = $1 AND account_id = $2
		ORDER BY created_at
		LIMIT 1
	`, provider, accountID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", rcerrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve account: %w", err)
	}
	return userID, nil
}

func (r *Repository) sealTokens(access, refresh string) (string, string, error) {
	sealedAccess, err := r.cipher.Encrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	sealedRefresh, err := r.cipher.Encrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return sealedAccess, sealedRefresh, nil
}

func (r *Repository) scanConnection(row pgx.Row) (*Connection, error) {
	var (
		c               Connection
		access, refresh string
		expiresAt       *time.Time
	)
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Provider,
		&c.AccountEmail,
		&c.AccountID,
		&access,
		&refresh,
		&expiresAt,
		&c.SyncEnabled,
		&c.LastSyncedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rcerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}
	c.TokenExpiresAt = expiresAt

	if c.AccessToken, err = r.cipher.Decrypt(access); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if c.RefreshToken, err = r.cipher.Decrypt(refresh); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &c, nil
}
