package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/metrics"
	"github.com/BradenHooton/torneo/internal/models"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
)

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AccessGrant is returned when a refresh token is exchanged.
type AccessGrant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Issue signs an access token and persists a new refresh token for user.
// Nothing is returned unless the refresh record was stored.
func (tm *TokenManager) Issue(ctx context.Context, user *models.User, ip, userAgent string) (*TokenPair, error) {
	access, _, err := tm.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	secret, err := pkgauth.OpaqueToken(pkgauth.RefreshTokenBytes)
	if err != nil {
		return nil, err
	}

	now := tm.now()
	record, err := tm.refresh.Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(secret),
		ExpiresAt: now.Add(tm.cfg.RefreshTTL),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: store refresh token: %v", models.ErrStorage, err)
	}

	metrics.TokensIssued.WithLabelValues(string(models.TokenKindAccess)).Inc()
	metrics.TokensIssued.WithLabelValues(string(models.TokenKindRefresh)).Inc()
	tm.logEvent(ctx, models.EventLoginSuccess, user.ID, ip, userAgent, nil)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		TokenType:        "Bearer",
		ExpiresIn:        int(tm.cfg.AccessTTL.Seconds()),
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The role in the
// new token is read from the account at this moment.
func (tm *TokenManager) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*AccessGrant, error) {
	if refreshToken == "" {
		return nil, models.ErrInvalidRefreshToken
	}

	record, err := tm.refresh.GetByHash(ctx, pkgauth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("%w: load refresh token: %v", models.ErrStorage, err)
	}

	now := tm.now()
	if !record.IsValid(now) {
		return nil, models.ErrInvalidRefreshToken
	}

	user, err := tm.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("%w: load user: %v", models.ErrStorage, err)
	}
	if !user.Active {
		return nil, models.ErrInvalidRefreshToken
	}

	if record.IPAddress != "" && ip != "" && record.IPAddress != ip {
		tm.logEvent(ctx, models.EventSuspiciousActivity, user.ID, ip, userAgent, models.EventDetail{
			"reason":    "refresh_ip_mismatch",
			"issued_ip": record.IPAddress,
			"policy":    tm.cfg.RefreshIPPolicy,
		})

		if tm.cfg.RefreshIPPolicy == RefreshIPPolicyRevoke {
			if err := tm.refresh.Revoke(ctx, record.ID, now); err != nil {
				tm.logger.Error("failed to revoke refresh token after ip mismatch",
					slog.String("user_id", user.ID), slog.String("error", err.Error()))
			}
			metrics.TokensRevoked.WithLabelValues(string(models.TokenKindRefresh)).Inc()
			return nil, models.ErrInvalidRefreshToken
		}
	}

	access, _, err := tm.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(string(models.TokenKindAccess)).Inc()

	return &AccessGrant{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(tm.cfg.AccessTTL.Seconds()),
	}, nil
}

// RevokeRefreshToken revokes a single refresh token owned by userID. Unknown
// tokens and tokens owned by someone else yield ErrInvalidRefreshToken.
func (tm *TokenManager) RevokeRefreshToken(ctx context.Context, refreshToken, userID string) error {
	record, err := tm.refresh.GetByHash(ctx, pkgauth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidRefreshToken
		}
		return fmt.Errorf("%w: load refresh token: %v", models.ErrStorage, err)
	}
	if record.UserID != userID {
		return models.ErrInvalidRefreshToken
	}

	if err := tm.refresh.Revoke(ctx, record.ID, tm.now()); err != nil {
		return fmt.Errorf("%w: revoke refresh token: %v", models.ErrStorage, err)
	}
	if _, err := tm.Revoke(ctx, record.ID, models.TokenKindRefresh, userID, record.ExpiresAt, "logout"); err != nil {
		return err
	}
	return nil
}

// RevokeAllForUser revokes every live refresh token of the user and returns
// how many were revoked. Outstanding access tokens expire on their own.
func (tm *TokenManager) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	n, err := tm.refresh.RevokeAllForUser(ctx, userID, tm.now())
	if err != nil {
		return 0, fmt.Errorf("%w: revoke refresh tokens: %v", models.ErrStorage, err)
	}

	metrics.TokensRevoked.WithLabelValues(string(models.TokenKindRefresh)).Add(float64(n))
	tm.logEvent(ctx, models.EventTokenRevoked, userID, "", "", models.EventDetail{
		"scope":  "all",
		"count":  n,
		"reason": reason,
	})
	return n, nil
}
