package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/pkg/logger"
)

// SecurityEventRepository persists the security journal.
type SecurityEventRepository interface {
	Create(ctx context.Context, e *models.SecurityEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
	ListByKindSince(ctx context.Context, kind models.EventKind, since time.Time, limit int) ([]*models.SecurityEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   SecurityEventRepository
	audit  *logger.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditService(repo SecurityEventRepository, audit *logger.AuditLogger, log *slog.Logger) *AuditService {
	return &AuditService{repo: repo, audit: audit, logger: log, now: time.Now}
}

func (s *AuditService) SetClock(now func() time.Time) { s.now = now }

// Log writes event to the log stream and the journal table. A failed insert
// is logged and otherwise ignored.
func (s *AuditService) Log(ctx context.Context, event models.SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	s.audit.Log(ctx, logger.AuditEvent{
		Kind:      string(event.Kind),
		UserID:    deref(event.UserID),
		Identity:  deref(event.Identity),
		IPAddress: deref(event.IPAddress),
		UserAgent: deref(event.UserAgent),
		Detail:    event.Detail,
		At:        event.CreatedAt,
	})

	if err := s.repo.Create(ctx, &event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_kind", string(event.Kind)),
			slog.Any("error", err),
		)
	}
}

// UserHistory returns a user's events, newest first.
func (s *AuditService) UserHistory(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// FailedLogins returns login_failed events recorded since the given time.
func (s *AuditService) FailedLogins(ctx context.Context, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByKindSince(ctx, models.EventLoginFailed, since, limit)
}

// Purge drops events older than retention.
func (s *AuditService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return s.repo.DeleteBefore(ctx, s.now().Add(-retention))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
