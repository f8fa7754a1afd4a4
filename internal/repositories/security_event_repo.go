package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository is the append-only store behind the audit log.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const eventColumns = `id, event_kind, user_id, identity, ip_address, user_agent, detail, created_at`

func scanEvent(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := row.Scan(&e.ID, &e.Kind, &e.UserID, &e.Identity, &e.IPAddress, &e.UserAgent, &e.Detail, &e.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	detail := e.Detail
	if detail == nil {
		detail = models.EventDetail{}
	}

	query := `
		INSERT INTO security_events (event_kind, user_id, identity, ip_address, user_agent, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query, e.Kind, e.UserID, e.Identity, e.IPAddress, e.UserAgent, detail, e.CreatedAt)
	return database.MapPostgresError(err)
}

// ListByUser returns the user's events newest first.
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM security_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collect(rows, scanEvent)
}

// ListByKindSince returns events of kind recorded at or after since.
func (r *SecurityEventRepository) ListByKindSince(ctx context.Context, kind models.EventKind, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM security_events
		WHERE event_kind = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, kind, since, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return collect(rows, scanEvent)
}

func (r *SecurityEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
