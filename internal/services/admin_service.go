package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
)

// AdminUserReader loads accounts targeted by admin actions.
type AdminUserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// LockoutView is an account's lockout state as shown to administrators.
// Unlock codes are never part of it.
type LockoutView struct {
	Locked  bool                     `json:"locked"`
	Active  *models.AccountLockout   `json:"active,omitempty"`
	History []*models.AccountLockout `json:"history"`
}

// ActivityEntry is a single item in a failed-login feed.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    *string   `json:"user_id,omitempty"`
	Identity  *string   `json:"identity,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// AdminService backs the /admin/security endpoints.
type AdminService struct {
	users    AdminUserReader
	lockouts *LockoutManager
	audit    *AuditService
	limiter  *RateLimiter
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdminService(users AdminUserReader, lockouts *LockoutManager, audit *AuditService, limiter *RateLimiter, logger *slog.Logger) *AdminService {
	return &AdminService{
		users:    users,
		lockouts: lockouts,
		audit:    audit,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AdminService) SetClock(now func() time.Time) { s.now = now }

// UserEvents returns the security journal of one account.
func (s *AdminService) UserEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.audit.UserHistory(ctx, userID, limit)
}

// UserLockouts returns the lockout in force, if any, and recent episodes.
func (s *AdminService) UserLockouts(ctx context.Context, userID string, limit int) (*LockoutView, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	active, err := s.lockouts.GetActiveLockout(ctx, userID)
	if err != nil {
		return nil, err
	}

	history, err := s.lockouts.History(ctx, userID, limit)
	if err != nil {
		s.logger.Error("admin: failed to load lockout history", slog.String("user_id", userID), slog.Any("error", err))
		return nil, err
	}
	if history == nil {
		history = []*models.AccountLockout{}
	}

	return &LockoutView{Locked: active != nil, Active: active, History: history}, nil
}

// UnlockUser force-unlocks an account on behalf of actorID. ErrNotFound is
// returned when the account does not exist or is not locked.
func (s *AdminService) UnlockUser(ctx context.Context, actorID, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.lockouts.Unlock(ctx, user); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("admin: unlock failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		return err
	}

	s.logger.Info("admin unlocked account",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID),
	)
	return nil
}

// FailedLogins returns the login_failed feed for the last since duration.
func (s *AdminService) FailedLogins(ctx context.Context, since time.Duration, limit int) ([]ActivityEntry, error) {
	if since <= 0 {
		since = 24 * time.Hour
	}

	events, err := s.audit.FailedLogins(ctx, s.now().Add(-since), limit)
	if err != nil {
		s.logger.Error("admin: failed to load failed logins", slog.Any("error", err))
		return nil, err
	}

	entries := make([]ActivityEntry, 0, len(events))
	for _, e := range events {
		entry := ActivityEntry{
			Timestamp: e.CreatedAt,
			UserID:    e.UserID,
			Identity:  e.Identity,
			IPAddress: e.IPAddress,
		}
		if reason, ok := e.Detail["reason"].(string); ok {
			entry.Reason = reason
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RateLimitStats returns identity's current windows.
func (s *AdminService) RateLimitStats(ctx context.Context, identity string) ([]*models.RateLimitWindow, error) {
	windows, err := s.limiter.Stats(ctx, identity)
	if err != nil {
		return nil, err
	}
	if windows == nil {
		windows = []*models.RateLimitWindow{}
	}
	return windows, nil
}

// ResetRateLimit clears identity's windows, optionally for one endpoint.
func (s *AdminService) ResetRateLimit(ctx context.Context, actorID, identity, endpoint string) (int64, error) {
	n, err := s.limiter.Reset(ctx, identity, endpoint)
	if err != nil {
		return 0, err
	}
	s.logger.Info("admin reset rate limit",
		slog.String("actor_id", actorID),
		slog.String("identity", identity),
		slog.String("endpoint", endpoint),
	)
	return n, nil
}
