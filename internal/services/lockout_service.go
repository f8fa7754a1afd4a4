package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/metrics"
	"github.com/BradenHooton/torneo/internal/models"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
	"github.com/BradenHooton/torneo/pkg/logger"
)

// LockoutRepository persists lock episodes.
type LockoutRepository interface {
	Create(ctx context.Context, l *models.AccountLockout) (*models.AccountLockout, bool, error)
	GetActive(ctx context.Context, accountID string) (*models.AccountLockout, error)
	Deactivate(ctx context.Context, id string, at time.Time) error
	History(ctx context.Context, accountID string, limit int) ([]*models.AccountLockout, error)
	DeactivateLapsed(ctx context.Context, now time.Time) (int64, error)
}

// FailureCounter is the part of LoginAttemptTracker the lockout logic reads.
type FailureCounter interface {
	CountRecentFailures(ctx context.Context, identity string, window time.Duration) (int, error)
	ResetFailures(ctx context.Context, identity string) error
}

// SecurityAuditor receives security journal entries.
type SecurityAuditor interface {
	Log(ctx context.Context, event models.SecurityEvent)
}

type LockoutConfig struct {
	MaxAttempts      int
	FailureWindow    time.Duration
	LockoutDuration  time.Duration
	CodeValidity     time.Duration
	SendLockoutEmail bool
}

// LockoutResult is the outcome of EvaluateFailures.
type LockoutResult struct {
	Locked            bool
	Lockout           *models.AccountLockout
	FailureCount      int
	AttemptsRemaining int
}

// LockoutManager moves accounts between unlocked and locked.
type LockoutManager struct {
	repo     LockoutRepository
	failures FailureCounter
	notifier Notifier
	audit    SecurityAuditor
	cfg      LockoutConfig
	logger   *slog.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

func NewLockoutManager(repo LockoutRepository, failures FailureCounter, notifier Notifier, audit SecurityAuditor, cfg LockoutConfig, log *slog.Logger) *LockoutManager {
	return &LockoutManager{
		repo:     repo,
		failures: failures,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
		newCode:  pkgauth.UnlockCode,
	}
}

func (m *LockoutManager) SetClock(now func() time.Time) { m.now = now }

// EvaluateFailures locks account once its recent failures reach MaxAttempts.
func (m *LockoutManager) EvaluateFailures(ctx context.Context, account *models.User) (*LockoutResult, error) {
	count, err := m.failures.CountRecentFailures(ctx, account.Email, m.cfg.FailureWindow)
	if err != nil {
		return nil, err
	}

	if count < m.cfg.MaxAttempts {
		return &LockoutResult{
			FailureCount:      count,
			AttemptsRemaining: m.cfg.MaxAttempts - count,
		}, nil
	}

	lockout, _, err := m.Lock(ctx, account, models.LockoutTooManyFailures)
	if err != nil {
		return nil, err
	}

	return &LockoutResult{Locked: true, Lockout: lockout, FailureCount: count}, nil
}

// Lock opens a lock episode. created is false when the account was already
// locked, in which case the existing lockout is returned and no new code is
// sent.
func (m *LockoutManager) Lock(ctx context.Context, account *models.User, reason models.LockoutReason) (*models.AccountLockout, bool, error) {
	code, err := m.newCode()
	if err != nil {
		return nil, false, err
	}

	now := m.now()
	lockout, created, err := m.repo.Create(ctx, &models.AccountLockout{
		AccountID:           account.ID,
		LockedAt:            now,
		LockedUntil:         now.Add(m.cfg.LockoutDuration),
		Reason:              reason,
		UnlockCode:          code,
		UnlockCodeExpiresAt: now.Add(m.cfg.CodeValidity),
		IsActive:            true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: create lockout: %v", models.ErrStorage, err)
	}
	if !created {
		return lockout, false, nil
	}

	metrics.Lockouts.WithLabelValues(string(reason)).Inc()
	m.logger.Warn("account locked",
		slog.String("user_id", account.ID),
		slog.String("email", logger.SanitizedEmail(account.Email)),
		slog.String("reason", string(reason)),
		slog.Time("locked_until", lockout.LockedUntil),
	)
	m.logEvent(ctx, models.EventAccountLocked, account, models.EventDetail{
		"reason":       string(reason),
		"locked_until": lockout.LockedUntil.UTC().Format(time.RFC3339),
	})

	if m.cfg.SendLockoutEmail && m.notifier != nil {
		if err := m.notifier.SendUnlockCode(ctx, account.Email, account.Name, lockout.UnlockCode, lockout.LockedUntil, lockout.UnlockCodeExpiresAt); err != nil {
			m.logger.Error("failed to dispatch unlock code",
				slog.String("user_id", account.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return lockout, true, nil
}

// VerifyAndUnlock redeems an unlock code. Any mismatch, expired code or
// missing lockout yields ErrInvalidOrExpiredCode.
func (m *LockoutManager) VerifyAndUnlock(ctx context.Context, account *models.User, code string) error {
	lockout, err := m.repo.GetActive(ctx, account.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("%w: load lockout: %v", models.ErrStorage, err)
	}

	now := m.now()
	if !lockout.CodeUsable(now) || subtle.ConstantTimeCompare([]byte(lockout.UnlockCode), []byte(code)) != 1 {
		return models.ErrInvalidOrExpiredCode
	}

	if err := m.repo.Deactivate(ctx, lockout.ID, now); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("%w: deactivate lockout: %v", models.ErrStorage, err)
	}

	m.afterUnlock(ctx, account, "code")
	return nil
}

// Unlock force-unlocks account without a code. It returns ErrNotFound when
// no lockout is active.
func (m *LockoutManager) Unlock(ctx context.Context, account *models.User) error {
	lockout, err := m.repo.GetActive(ctx, account.ID)
	if err != nil {
		return err
	}
	if err := m.repo.Deactivate(ctx, lockout.ID, m.now()); err != nil {
		return err
	}

	m.afterUnlock(ctx, account, "admin")
	return nil
}

func (m *LockoutManager) afterUnlock(ctx context.Context, account *models.User, method string) {
	if err := m.failures.ResetFailures(ctx, account.Email); err != nil {
		m.logger.Error("failed to reset login failures after unlock",
			slog.String("user_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	metrics.Unlocks.WithLabelValues(method).Inc()
	m.logEvent(ctx, models.EventAccountUnlocked, account, models.EventDetail{"method": method})
}

// GetActiveLockout returns the lockout in force for accountID, or nil when
// the account is not locked.
func (m *LockoutManager) GetActiveLockout(ctx context.Context, accountID string) (*models.AccountLockout, error) {
	lockout, err := m.repo.GetActive(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load lockout: %v", models.ErrStorage, err)
	}
	if !lockout.InForce(m.now()) {
		return nil, nil
	}
	return lockout, nil
}

func (m *LockoutManager) IsLocked(ctx context.Context, accountID string) (bool, error) {
	lockout, err := m.GetActiveLockout(ctx, accountID)
	if err != nil {
		return false, err
	}
	return lockout != nil, nil
}

func (m *LockoutManager) History(ctx context.Context, accountID string, limit int) ([]*models.AccountLockout, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.repo.History(ctx, accountID, limit)
}

// CloseLapsed deactivates lockouts whose lock and code have both expired.
func (m *LockoutManager) CloseLapsed(ctx context.Context) (int64, error) {
	return m.repo.DeactivateLapsed(ctx, m.now())
}

func (m *LockoutManager) logEvent(ctx context.Context, kind models.EventKind, account *models.User, detail models.EventDetail) {
	if m.audit == nil {
		return
	}
	m.audit.Log(ctx, models.SecurityEvent{
		Kind:      kind,
		UserID:    &account.ID,
		Identity:  &account.Email,
		Detail:    detail,
		CreatedAt: m.now(),
	})
}
