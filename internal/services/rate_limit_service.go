package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/metrics"
	"github.com/BradenHooton/torneo/internal/models"
)

// Endpoint names used as rate-limit buckets.
const (
	EndpointLogin              = "login"
	EndpointRefresh            = "refresh"
	EndpointUnlock             = "unlock"
	EndpointRegister           = "register"
	EndpointResendVerification = "resend-verification"
	EndpointChangePassword     = "change-password"
	EndpointDefault            = "default"
)

const checkAttempts = 3

// RateLimitRepository stores fixed request windows.
type RateLimitRepository interface {
	GetLive(ctx context.Context, identity, endpoint string, now time.Time) (*models.RateLimitWindow, error)
	CreateWindow(ctx context.Context, identity, endpoint string, start, end time.Time) (*models.RateLimitWindow, bool, error)
	Increment(ctx context.Context, id string, now time.Time, max int, blockUntil time.Time) (*models.RateLimitWindow, error)
	ListCurrent(ctx context.Context, identity string) ([]*models.RateLimitWindow, error)
	Delete(ctx context.Context, identity, endpoint string) (int64, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultPolicies returns the per-endpoint budgets. base applies to every
// endpoint without an override.
func DefaultPolicies(base models.RateLimitPolicy) map[string]models.RateLimitPolicy {
	ban := base.Ban
	return map[string]models.RateLimitPolicy{
		EndpointLogin:              {MaxRequests: 10, Window: 15 * time.Minute, Ban: ban},
		EndpointRefresh:            {MaxRequests: 30, Window: 15 * time.Minute, Ban: ban},
		EndpointUnlock:             {MaxRequests: 5, Window: 15 * time.Minute, Ban: ban},
		EndpointRegister:           {MaxRequests: 10, Window: time.Hour, Ban: ban},
		EndpointResendVerification: {MaxRequests: 5, Window: time.Hour, Ban: ban},
		EndpointChangePassword:     {MaxRequests: 5, Window: 15 * time.Minute, Ban: ban},
		EndpointDefault:            base,
	}
}

// RateLimiter enforces fixed-window budgets per (identity, endpoint) using
// the database as the shared counter.
type RateLimiter struct {
	repo     RateLimitRepository
	policies map[string]models.RateLimitPolicy
	logger   *slog.Logger
	now      func() time.Time
}

func NewRateLimiter(repo RateLimitRepository, policies map[string]models.RateLimitPolicy, logger *slog.Logger) *RateLimiter {
	if _, ok := policies[EndpointDefault]; !ok {
		policies[EndpointDefault] = models.RateLimitPolicy{MaxRequests: 100, Window: 15 * time.Minute, Ban: 30 * time.Minute}
	}
	return &RateLimiter{repo: repo, policies: policies, logger: logger, now: time.Now}
}

func (l *RateLimiter) SetClock(now func() time.Time) { l.now = now }

// Policy returns the budget for endpoint, falling back to the default one.
func (l *RateLimiter) Policy(endpoint string) models.RateLimitPolicy {
	if p, ok := l.policies[endpoint]; ok {
		return p
	}
	return l.policies[EndpointDefault]
}

// Check counts one request and decides whether it may proceed. Store errors
// let the request through with Remaining set to -1.
func (l *RateLimiter) Check(ctx context.Context, identity, endpoint string) models.RateDecision {
	policy := l.Policy(endpoint)

	decision, err := l.check(ctx, identity, endpoint, policy)
	if err != nil {
		l.logger.Error("rate limiter unavailable, allowing request",
			slog.String("identity", identity),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "error").Inc()
		return models.RateDecision{Allowed: true, Remaining: -1}
	}

	if decision.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "denied").Inc()
	}
	return decision
}

func (l *RateLimiter) check(ctx context.Context, identity, endpoint string, policy models.RateLimitPolicy) (models.RateDecision, error) {
	for range checkAttempts {
		now := l.now()

		window, err := l.repo.GetLive(ctx, identity, endpoint, now)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.RateDecision{}, err
		}

		if window == nil {
			window, created, err := l.repo.CreateWindow(ctx, identity, endpoint, now, now.Add(policy.Window))
			if err != nil {
				return models.RateDecision{}, err
			}
			if created {
				return allowed(window, policy), nil
			}
			// Another request opened the window first; count against it.
			continue
		}

		if window.IsBlocked(now) {
			return denied(identity, endpoint, window, l.logger), nil
		}

		updated, err := l.repo.Increment(ctx, window.ID, now, policy.MaxRequests, now.Add(policy.Ban))
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.RateDecision{}, err
		}

		if updated.IsBlocked(now) {
			l.logger.Warn("rate limit exceeded",
				slog.String("identity", identity),
				slog.String("endpoint", endpoint),
				slog.Int("count", updated.RequestCount),
				slog.Time("blocked_until", *updated.BlockedUntil),
			)
			return models.RateDecision{Allowed: false, Remaining: 0, ResetAt: updated.BlockedUntil}, nil
		}
		return allowed(updated, policy), nil
	}

	return models.RateDecision{}, errors.New("rate limit window kept changing")
}

func allowed(w *models.RateLimitWindow, policy models.RateLimitPolicy) models.RateDecision {
	reset := w.WindowEnd
	return models.RateDecision{
		Allowed:   true,
		Remaining: max(policy.MaxRequests-w.RequestCount, 0),
		ResetAt:   &reset,
	}
}

func denied(identity, endpoint string, w *models.RateLimitWindow, log *slog.Logger) models.RateDecision {
	log.Debug("request blocked by rate limit",
		slog.String("identity", identity),
		slog.String("endpoint", endpoint),
	)
	reset := *w.BlockedUntil
	return models.RateDecision{Allowed: false, Remaining: 0, ResetAt: &reset}
}

// RateLimitIdentity keys authenticated callers by user and everyone else by
// client address.
func RateLimitIdentity(claims *models.TokenClaims, ip string) string {
	if claims != nil && claims.UserID != "" {
		return "user:" + claims.UserID
	}
	return "ip:" + ip
}

// Reset clears identity's windows; endpoint narrows it to one bucket.
func (l *RateLimiter) Reset(ctx context.Context, identity, endpoint string) (int64, error) {
	n, err := l.repo.Delete(ctx, identity, endpoint)
	if err != nil {
		return 0, err
	}
	l.logger.Info("rate limit reset",
		slog.String("identity", identity),
		slog.String("endpoint", endpoint),
		slog.Int64("windows", n),
	)
	return n, nil
}

// Stats returns identity's current windows.
func (l *RateLimiter) Stats(ctx context.Context, identity string) ([]*models.RateLimitWindow, error) {
	return l.repo.ListCurrent(ctx, identity)
}

// Purge deletes windows that ended more than olderThan ago.
func (l *RateLimiter) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return l.repo.DeleteEndedBefore(ctx, l.now().Add(-olderThan))
}
