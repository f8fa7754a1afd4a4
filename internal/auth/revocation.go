package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/metrics"
	"github.com/BradenHooton/torneo/internal/models"
)

// CleanupStats reports rows removed by CleanupExpired.
type CleanupStats struct {
	RevokedTokens int64
	RefreshTokens int64
}

// Revoke blacklists jti until expiresAt. Repeated calls return the first
// record and never fail because the jti is already present.
func (tm *TokenManager) Revoke(ctx context.Context, jti string, kind models.TokenKind, userID string, expiresAt time.Time, reason string) (*models.RevokedToken, error) {
	rec, err := tm.revoked.RevokeToken(ctx, &models.RevokedToken{
		JTI:       jti,
		Kind:      kind,
		UserID:    userID,
		RevokedAt: tm.now(),
		ExpiresAt: expiresAt,
		Reason:    reason,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: revoke token: %v", models.ErrStorage, err)
	}

	if tm.cache != nil {
		if err := tm.cache.MarkRevoked(ctx, jti, expiresAt.Sub(tm.now())); err != nil {
			tm.logger.Warn("revocation cache write failed", slog.String("error", err.Error()))
		}
	}

	metrics.TokensRevoked.WithLabelValues(string(kind)).Inc()
	return rec, nil
}

// IsRevoked reports whether jti is blacklisted. Cache failures fall through
// to the store; store failures are returned to the caller.
func (tm *TokenManager) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if tm.cache != nil {
		revoked, found, err := tm.cache.Get(ctx, jti)
		if err != nil {
			tm.logger.Warn("revocation cache read failed", slog.String("error", err.Error()))
		} else if found {
			return revoked, nil
		}
	}

	revoked, err := tm.revoked.IsTokenRevoked(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("%w: check revocation: %v", models.ErrStorage, err)
	}

	if tm.cache != nil && !revoked {
		if err := tm.cache.MarkNotRevoked(ctx, jti); err != nil {
			tm.logger.Warn("revocation cache write failed", slog.String("error", err.Error()))
		}
	}

	return revoked, nil
}

// CleanupExpired drops blacklist entries past their expiry and refresh rows
// that are both revoked and expired.
func (tm *TokenManager) CleanupExpired(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	now := tm.now()

	n, err := tm.revoked.CleanupExpiredTokens(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("cleanup revoked tokens: %w", err)
	}
	stats.RevokedTokens = n

	n, err = tm.refresh.DeleteRevokedExpired(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	stats.RefreshTokens = n

	return stats, nil
}
