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

// RateLimitRepository stores fixed request windows. uq_rate_limit_current
// keeps a single current window per (identity, endpoint).
type RateLimitRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db, pool: db.Pool}
}

const windowColumns = `id, identity, endpoint, window_start, window_end, request_count, blocked_until, is_current`

func scanWindow(row rowScanner) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	err := row.Scan(&w.ID, &w.Identity, &w.Endpoint, &w.WindowStart, &w.WindowEnd, &w.RequestCount, &w.BlockedUntil, &w.IsCurrent)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &w, nil
}

// GetLive returns the current window that has not ended at now.
func (r *RateLimitRepository) GetLive(ctx context.Context, identity, endpoint string, now time.Time) (*models.RateLimitWindow, error) {
	query := `
		SELECT ` + windowColumns + ` FROM rate_limit_windows
		WHERE identity = $1 AND endpoint = $2 AND is_current AND window_end > $3
	`
	return scanWindow(r.pool.QueryRow(ctx, query, identity, endpoint, now))
}

// CreateWindow retires ended windows and opens a new one with a count of 1.
// created is false when a concurrent request opened the window first.
func (r *RateLimitRepository) CreateWindow(ctx context.Context, identity, endpoint string, start, end time.Time) (*models.RateLimitWindow, bool, error) {
	var (
		window  *models.RateLimitWindow
		created bool
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE rate_limit_windows SET is_current = FALSE
			WHERE identity = $1 AND endpoint = $2 AND is_current AND window_end <= $3
		`, identity, endpoint, start)
		if err != nil {
			return database.MapPostgresError(err)
		}

		w, err := scanWindow(tx.QueryRow(ctx, `
			INSERT INTO rate_limit_windows (identity, endpoint, window_start, window_end, request_count, is_current)
			VALUES ($1, $2, $3, $4, 1, TRUE)
			ON CONFLICT DO NOTHING
			RETURNING `+windowColumns,
			identity, endpoint, start, end,
		))
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		window, created = w, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return window, created, nil
}

// Increment counts one request against a live, unblocked window. When the new
// count exceeds max the window is blocked until blockUntil and its end is
// stretched so the ban outlives the window. ErrNotFound means the window was
// blocked or ended concurrently.
func (r *RateLimitRepository) Increment(ctx context.Context, id string, now time.Time, max int, blockUntil time.Time) (*models.RateLimitWindow, error) {
	query := `
		UPDATE rate_limit_windows
		SET request_count = request_count + 1,
		    blocked_until = CASE WHEN request_count + 1 > $3 THEN $4::timestamptz ELSE blocked_until END,
		    window_end    = CASE WHEN request_count + 1 > $3 THEN GREATEST(window_end, $4::timestamptz) ELSE window_end END
		WHERE id = $1
		  AND is_current
		  AND window_end > $2
		  AND (blocked_until IS NULL OR blocked_until <= $2)
		RETURNING ` + windowColumns

	return scanWindow(r.pool.QueryRow(ctx, query, id, now, max, blockUntil))
}

// ListCurrent returns the identity's current windows across endpoints.
func (r *RateLimitRepository) ListCurrent(ctx context.Context, identity string) ([]*models.RateLimitWindow, error) {
	query := `
		SELECT ` + windowColumns + ` FROM rate_limit_windows
		WHERE identity = $1 AND is_current
		ORDER BY endpoint
	`

	rows, err := r.pool.Query(ctx, query, identity)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collect(rows, scanWindow)
}

// Delete removes the identity's windows, limited to endpoint when it is set.
func (r *RateLimitRepository) Delete(ctx context.Context, identity, endpoint string) (int64, error) {
	query := `DELETE FROM rate_limit_windows WHERE identity = $1 AND ($2 = '' OR endpoint = $2)`

	result, err := r.pool.Exec(ctx, query, identity, endpoint)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteEndedBefore purges windows that ended before cutoff.
func (r *RateLimitRepository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_windows WHERE window_end < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
