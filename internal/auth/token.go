package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RefreshStore persists refresh token records.
type RefreshStore interface {
	Create(ctx context.Context, t *models.RefreshToken) (*models.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteRevokedExpired(ctx context.Context, now time.Time) (int64, error)
}

// RevocationStore is the jti blacklist.
type RevocationStore interface {
	RevokeToken(ctx context.Context, t *models.RevokedToken) (*models.RevokedToken, error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// RevocationCache sits in front of RevocationStore when configured.
type RevocationCache interface {
	Get(ctx context.Context, jti string) (revoked bool, found bool, err error)
	MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error
	MarkNotRevoked(ctx context.Context, jti string) error
}

// UserFetcher loads the current state of an account.
type UserFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuditSink receives security events raised while issuing or revoking tokens.
type AuditSink interface {
	Log(ctx context.Context, event models.SecurityEvent)
}

// IP policies applied when a refresh token is used from a new address.
const (
	RefreshIPPolicyLog    = "log"
	RefreshIPPolicyRevoke = "revoke"
)

type TokenConfig struct {
	Secret          string
	Issuer          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RefreshIPPolicy string
	Leeway          time.Duration
}

// TokenManager issues, validates and revokes access and refresh credentials.
type TokenManager struct {
	cfg     TokenConfig
	refresh RefreshStore
	revoked RevocationStore
	users   UserFetcher
	audit   AuditSink
	cache   RevocationCache
	logger  *slog.Logger
	now     func() time.Time
}

func NewTokenManager(cfg TokenConfig, refresh RefreshStore, revoked RevocationStore, users UserFetcher, audit AuditSink, logger *slog.Logger) *TokenManager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.RefreshIPPolicy == "" {
		cfg.RefreshIPPolicy = RefreshIPPolicyLog
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenManager{
		cfg:     cfg,
		refresh: refresh,
		revoked: revoked,
		users:   users,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (tm *TokenManager) SetClock(now func() time.Time) { tm.now = now }

// SetCache puts a revocation cache in front of the blacklist.
func (tm *TokenManager) SetCache(c RevocationCache) { tm.cache = c }

func (tm *TokenManager) AccessTTL() time.Duration { return tm.cfg.AccessTTL }

// GenerateAccessToken signs a new access token carrying a snapshot of the
// user's identity and role.
func (tm *TokenManager) GenerateAccessToken(user *models.User) (string, *models.TokenClaims, error) {
	now := tm.now()

	claims := &models.TokenClaims{
		Kind:   models.TokenKindAccess,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    tm.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.cfg.AccessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tm.cfg.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, claims, nil
}

// ValidateAccessToken verifies signature, issuer and lifetime. Expired tokens
// yield ErrTokenExpired; every other failure yields ErrTokenInvalid.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tm.cfg.Leeway),
	}
	if tm.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(tm.cfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
	}

	if !token.Valid || claims.Kind != models.TokenKindAccess || claims.UserID == "" || claims.ID == "" {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}

func (tm *TokenManager) logEvent(ctx context.Context, kind models.EventKind, userID, ip, ua string, detail models.EventDetail) {
	if tm.audit == nil {
		return
	}
	tm.audit.Log(ctx, models.SecurityEvent{
		Kind:      kind,
		UserID:    optional(userID),
		IPAddress: optional(ip),
		UserAgent: optional(ua),
		Detail:    detail,
		CreatedAt: tm.now(),
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
