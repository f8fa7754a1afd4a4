package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/torneo/internal/models"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
)

type contextKey string

const UserContextKey contextKey = "user"

// Token error codes returned in the "error" field of 401 responses.
const (
	CodeTokenMissing = "TOKEN_MISSING"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenRevoked = "TOKEN_REVOKED"
)

// AccessVerifier is the subset of TokenManager the middleware needs.
type AccessVerifier interface {
	ValidateAccessToken(token string) (*models.TokenClaims, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type RevocationConfig struct {
	// FailClosed rejects requests with 503 when revocation status is unknown.
	FailClosed bool
}

// Authenticate validates the bearer token, checks the blacklist and stores the
// claims in the request context.
func Authenticate(verifier AccessVerifier, cfg RevocationConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteError(w, http.StatusUnauthorized, CodeTokenMissing, "Authorization token is required")
				return
			}

			claims, err := VerifyAccessToken(r.Context(), verifier, token)
			switch {
			case err == nil:
			case errors.Is(err, models.ErrStorage):
				logger.Error("revocation check failed",
					slog.String("user_id", claims.UserID),
					slog.String("error", err.Error()),
				)
				if cfg.FailClosed {
					pkghttp.WriteServiceUnavailable(w, "Unable to verify token status")
					return
				}
			case errors.Is(err, models.ErrTokenRevoked):
				pkghttp.WriteError(w, http.StatusUnauthorized, CodeTokenRevoked, "Token has been revoked")
				return
			case errors.Is(err, models.ErrTokenExpired):
				pkghttp.WriteError(w, http.StatusUnauthorized, CodeTokenExpired, "Token has expired")
				return
			default:
				pkghttp.WriteError(w, http.StatusUnauthorized, CodeTokenInvalid, "Token is invalid")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// VerifyAccessToken validates token and checks the blacklist. A blacklisted
// token yields ErrTokenRevoked. When the blacklist cannot be read the parsed
// claims are returned together with an error wrapping ErrStorage.
func VerifyAccessToken(ctx context.Context, verifier AccessVerifier, token string) (*models.TokenClaims, error) {
	claims, err := verifier.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}

	revoked, err := verifier.IsRevoked(ctx, claims.ID)
	if err != nil {
		if !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: check revocation: %v", models.ErrStorage, err)
		}
		return claims, err
	}
	if revoked {
		return nil, models.ErrTokenRevoked
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole admits requests whose token role is one of roles. It must run
// after Authenticate.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if !allowed[claims.Role] {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	return ClaimsFromContext(r.Context())
}

func ClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(UserContextKey).(*models.TokenClaims)
	return claims
}
