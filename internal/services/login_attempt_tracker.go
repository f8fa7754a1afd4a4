package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/pkg/sanitize"
)

// LoginAttemptRepository stores the immutable login attempt history.
type LoginAttemptRepository interface {
	Create(ctx context.Context, attempt *models.LoginAttempt) (*models.LoginAttempt, error)
	CountFailuresSince(ctx context.Context, identity string, since time.Time) (int, error)
	ListSince(ctx context.Context, identity string, since time.Time) ([]*models.LoginAttempt, error)
	MarkReset(ctx context.Context, identity string, at time.Time) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginAttemptTracker records login outcomes and answers "how many recent
// failures" for the lockout logic.
type LoginAttemptTracker struct {
	repo   LoginAttemptRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewLoginAttemptTracker(repo LoginAttemptRepository, logger *slog.Logger) *LoginAttemptTracker {
	return &LoginAttemptTracker{repo: repo, logger: logger, now: time.Now}
}

func (t *LoginAttemptTracker) SetClock(now func() time.Time) { t.now = now }

// Record appends one attempt. A failed write is returned as ErrStorage.
func (t *LoginAttemptTracker) Record(ctx context.Context, identity string, succeeded bool, ip, userAgent string, reason *models.FailureReason) (*models.LoginAttempt, error) {
	if succeeded {
		reason = nil
	}

	attempt, err := t.repo.Create(ctx, &models.LoginAttempt{
		Identity:      sanitize.Email(identity),
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       succeeded,
		FailureReason: reason,
		AttemptedAt:   t.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: record login attempt: %v", models.ErrStorage, err)
	}
	return attempt, nil
}

// CountRecentFailures counts failures for identity within window, ignoring
// anything before the last reset.
func (t *LoginAttemptTracker) CountRecentFailures(ctx context.Context, identity string, window time.Duration) (int, error) {
	n, err := t.repo.CountFailuresSince(ctx, sanitize.Email(identity), t.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("%w: count failures: %v", models.ErrStorage, err)
	}
	return n, nil
}

// RecentAttempts lists attempts within since, newest first. since defaults
// to 24h.
func (t *LoginAttemptTracker) RecentAttempts(ctx context.Context, identity string, since time.Duration) ([]*models.LoginAttempt, error) {
	if since <= 0 {
		since = 24 * time.Hour
	}
	return t.repo.ListSince(ctx, sanitize.Email(identity), t.now().Add(-since))
}

// ResetFailures starts the failure count afresh without touching history.
func (t *LoginAttemptTracker) ResetFailures(ctx context.Context, identity string) error {
	if err := t.repo.MarkReset(ctx, sanitize.Email(identity), t.now()); err != nil {
		return fmt.Errorf("%w: reset failures: %v", models.ErrStorage, err)
	}
	return nil
}

// Purge deletes attempts older than olderThan.
func (t *LoginAttemptTracker) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := t.repo.DeleteBefore(ctx, t.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Info("purged login attempts", slog.Int64("deleted", n))
	}
	return n, nil
}
