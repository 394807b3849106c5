package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/shopauth/internal/authkit"
)

const uniqueViolationCode = "23505"

var _ authkit.RefreshTokenStore = (*PostgresRefreshTokenStore)(nil)

// PostgresRefreshTokenStore persists refresh token records in PostgreSQL through pgx.
type PostgresRefreshTokenStore struct {
	pool  *pgxpool.Pool
	clock authkit.Clock
}

// NewPostgresRefreshTokenStore constructs a Postgres store.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{pool: pool, clock: authkit.NewSystemClock()}
}

// CreateRecord inserts a new active record keyed by the token hash.
func (store *PostgresRefreshTokenStore) CreateRecord(ctx context.Context, token string, userID string, expiresAt time.Time) (authkit.RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.pgx: %w", authkit.ErrRefreshTokenEmpty)
	}
	record := authkit.RefreshTokenRecord{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Unix(expiresAt.UTC().Unix(), 0).UTC(),
		CreatedAt: time.Unix(store.clock.Now().Unix(), 0).UTC(),
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_unix, is_revoked, revoked_at_unix, created_at_unix)
VALUES ($1, $2, $3, $4, FALSE, 0, $5)
`, record.ID, userID, authkit.HashRefreshToken(token), record.ExpiresAt.Unix(), record.CreatedAt.Unix())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.pgx: %w", authkit.ErrRefreshTokenDuplicate)
		}
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.pgx: %w", err)
	}
	return record, nil
}

// FindActiveByToken locates a non-revoked record by the token hash.
func (store *PostgresRefreshTokenStore) FindActiveByToken(ctx context.Context, token string) (authkit.RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pgx: %w", authkit.ErrRefreshTokenEmpty)
	}
	var (
		record      authkit.RefreshTokenRecord
		expiresUnix int64
		createdUnix int64
	)
	row := store.pool.QueryRow(ctx, `
SELECT id, user_id, expires_unix, created_at_unix
FROM refresh_tokens
WHERE token_hash = $1 AND is_revoked = FALSE
`, authkit.HashRefreshToken(token))
	if err := row.Scan(&record.ID, &record.UserID, &expiresUnix, &createdUnix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pgx: %w", authkit.ErrRefreshTokenNotFound)
		}
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pgx: %w", err)
	}
	record.Token = token
	record.ExpiresAt = time.Unix(expiresUnix, 0).UTC()
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return record, nil
}

// MarkRevoked flips is_revoked with a conditional update; the affected row count picks the winner.
func (store *PostgresRefreshTokenStore) MarkRevoked(ctx context.Context, record authkit.RefreshTokenRecord) error {
	tag, err := store.pool.Exec(ctx, `
UPDATE refresh_tokens
SET is_revoked = TRUE, revoked_at_unix = $1
WHERE id = $2 AND is_revoked = FALSE
`, store.clock.Now().Unix(), record.ID)
	if err != nil {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := store.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, record.ID).Scan(&exists); err != nil {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", err)
	}
	if !exists {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", authkit.ErrRefreshTokenNotFound)
	}
	return fmt.Errorf("refresh_store.revoke.pgx: %w", authkit.ErrRefreshTokenAlreadyRevoked)
}

// RevokeAllForUser revokes every active record owned by userID.
func (store *PostgresRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := store.pool.Exec(ctx, `
UPDATE refresh_tokens
SET is_revoked = TRUE, revoked_at_unix = $1
WHERE user_id = $2 AND is_revoked = FALSE
`, store.clock.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("refresh_store.revoke_all.pgx: %w", err)
	}
	return nil
}
