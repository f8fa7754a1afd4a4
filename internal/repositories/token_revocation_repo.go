package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRevocationRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{pool: db.Pool}
}

const revokedColumns = `id, jti, token_kind, user_id, revoked_at, expires_at, reason`

func scanRevoked(row rowScanner) (*models.RevokedToken, error) {
	var t models.RevokedToken
	err := row.Scan(&t.ID, &t.JTI, &t.Kind, &t.UserID, &t.RevokedAt, &t.ExpiresAt, &t.Reason)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// RevokeToken adds jti to the blacklist. When jti is already present the
// original record is returned unchanged.
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, t *models.RevokedToken) (*models.RevokedToken, error) {
	insert := `
		INSERT INTO revoked_tokens (jti, token_kind, user_id, revoked_at, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (jti) DO NOTHING
		RETURNING ` + revokedColumns

	rec, err := scanRevoked(r.pool.QueryRow(ctx, insert,
		t.JTI, t.Kind, t.UserID, t.RevokedAt, t.ExpiresAt, t.Reason,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	return scanRevoked(r.pool.QueryRow(ctx, `SELECT `+revokedColumns+` FROM revoked_tokens WHERE jti = $1`, t.JTI))
}

// IsTokenRevoked checks if a token is in the revocation blacklist
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// CleanupExpiredTokens removes blacklist rows for tokens that can no longer validate.
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
