package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountLockoutRepository persists lock episodes. The partial unique index
// uq_account_lockouts_active guarantees at most one active row per account.
type AccountLockoutRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountLockoutRepository(db *database.DB) *AccountLockoutRepository {
	return &AccountLockoutRepository{db: db, pool: db.Pool}
}

const lockoutColumns = `id, account_id, locked_at, locked_until, reason, unlock_code, unlock_code_expires_at, is_active, unlocked_at`

func scanLockout(row rowScanner) (*models.AccountLockout, error) {
	var l models.AccountLockout
	err := row.Scan(
		&l.ID, &l.AccountID, &l.LockedAt, &l.LockedUntil, &l.Reason,
		&l.UnlockCode, &l.UnlockCodeExpiresAt, &l.IsActive, &l.UnlockedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &l, nil
}

// Create closes any lapsed active lockout for the account and inserts l. When
// another active lockout is still in place (a concurrent flow won the race),
// that row is returned with created=false and l is discarded.
func (r *AccountLockoutRepository) Create(ctx context.Context, l *models.AccountLockout) (*models.AccountLockout, bool, error) {
	var (
		result  *models.AccountLockout
		created bool
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE account_lockouts SET is_active = FALSE, unlocked_at = $2
			WHERE account_id = $1 AND is_active AND locked_until <= $2
		`, l.AccountID, l.LockedAt)
		if err != nil {
			return database.MapPostgresError(err)
		}

		inserted, err := scanLockout(tx.QueryRow(ctx, `
			INSERT INTO account_lockouts (account_id, locked_at, locked_until, reason, unlock_code, unlock_code_expires_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			ON CONFLICT (account_id) WHERE is_active DO NOTHING
			RETURNING `+lockoutColumns,
			l.AccountID, l.LockedAt, l.LockedUntil, l.Reason, l.UnlockCode, l.UnlockCodeExpiresAt,
		))
		if err == nil {
			result, created = inserted, true
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		existing, err := scanLockout(tx.QueryRow(ctx,
			`SELECT `+lockoutColumns+` FROM account_lockouts WHERE account_id = $1 AND is_active`,
			l.AccountID,
		))
		if err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// GetActive returns the active lockout row regardless of locked_until.
func (r *AccountLockoutRepository) GetActive(ctx context.Context, accountID string) (*models.AccountLockout, error) {
	query := `SELECT ` + lockoutColumns + ` FROM account_lockouts WHERE account_id = $1 AND is_active`
	return scanLockout(r.pool.QueryRow(ctx, query, accountID))
}

// Deactivate closes lockout id. It returns ErrNotFound when the row was
// already inactive, so only one caller ever succeeds.
func (r *AccountLockoutRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE account_lockouts SET is_active = FALSE, unlocked_at = $2 WHERE id = $1 AND is_active`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// History lists the account's lock episodes newest first.
func (r *AccountLockoutRepository) History(ctx context.Context, accountID string, limit int) ([]*models.AccountLockout, error) {
	query := `
		SELECT ` + lockoutColumns + ` FROM account_lockouts
		WHERE account_id = $1
		ORDER BY locked_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collect(rows, scanLockout)
}

// DeactivateLapsed closes active lockouts whose lock and code have both expired.
func (r *AccountLockoutRepository) DeactivateLapsed(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE account_lockouts SET is_active = FALSE, unlocked_at = $1
		WHERE is_active AND locked_until <= $1 AND unlock_code_expires_at <= $1
	`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
