package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefreshTokenRepository struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: db.Pool}
}

const refreshColumns = `id, user_id, token_hash, expires_at, created_at, ip_address, user_agent, is_revoked, revoked_at`

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt,
		&t.IPAddress, &t.UserAgent, &t.IsRevoked, &t.RevokedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) (*models.RefreshToken, error) {
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + refreshColumns

	return scanRefreshToken(r.pool.QueryRow(ctx, query,
		t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt, t.IPAddress, t.UserAgent,
	))
}

// GetByHash finds a token by the exact hash of its secret.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshToken(r.pool.QueryRow(ctx, query, tokenHash))
}

// Revoke marks one token revoked. Revoking an already revoked token is a no-op.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2 WHERE id = $1 AND NOT is_revoked`

	_, err := r.pool.Exec(ctx, query, id, at)
	return database.MapPostgresError(err)
}

// RevokeAllForUser revokes every live token of the user and returns how many
// rows changed.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND NOT is_revoked`

	result, err := r.pool.Exec(ctx, query, userID, at)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteRevokedExpired removes rows that are both revoked and past expiry.
func (r *RefreshTokenRepository) DeleteRevokedExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE is_revoked AND expires_at < $1`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
