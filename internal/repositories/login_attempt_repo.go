package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: db.Pool}
}

const loginAttemptColumns = `id, identity, ip_address, user_agent, success, failure_reason, attempted_at`

func scanLoginAttempt(row rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	err := row.Scan(&a.ID, &a.Identity, &a.IPAddress, &a.UserAgent, &a.Success, &a.FailureReason, &a.AttemptedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

// Create inserts an immutable attempt row.
func (r *LoginAttemptRepository) Create(ctx context.Context, attempt *models.LoginAttempt) (*models.LoginAttempt, error) {
	query := `
		INSERT INTO login_attempts (identity, ip_address, user_agent, success, failure_reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + loginAttemptColumns

	return scanLoginAttempt(r.pool.QueryRow(ctx, query,
		attempt.Identity, attempt.IPAddress, attempt.UserAgent,
		attempt.Success, attempt.FailureReason, attempt.AttemptedAt,
	))
}

// CountFailuresSince counts failures at or after since that are not older
// than the identity's reset marker.
func (r *LoginAttemptRepository) CountFailuresSince(ctx context.Context, identity string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts a
		WHERE a.identity = $1
		  AND a.success = FALSE
		  AND a.attempted_at >= GREATEST($2::timestamptz,
		        COALESCE((SELECT reset_at FROM login_failure_resets WHERE identity = $1), $2::timestamptz))
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, identity, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// ListSince returns attempts for identity newest first.
func (r *LoginAttemptRepository) ListSince(ctx context.Context, identity string, since time.Time) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE identity = $1 AND attempted_at >= $2
		ORDER BY attempted_at DESC
	`

	rows, err := r.pool.Query(ctx, query, identity, since)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collect(rows, scanLoginAttempt)
}

// MarkReset moves the failure-counting window start for identity to at.
func (r *LoginAttemptRepository) MarkReset(ctx context.Context, identity string, at time.Time) error {
	query := `
		INSERT INTO login_failure_resets (identity, reset_at) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET reset_at = GREATEST(login_failure_resets.reset_at, EXCLUDED.reset_at)
	`

	_, err := r.pool.Exec(ctx, query, identity, at)
	return database.MapPostgresError(err)
}

// DeleteBefore purges attempts older than cutoff along with stale reset markers.
func (r *LoginAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM login_failure_resets WHERE reset_at < $1`, cutoff); err != nil {
		return result.RowsAffected(), database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
