package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/services"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	"github.com/go-chi/httprate"
)

// Limiter decides whether a request may proceed.
type Limiter interface {
	Check(ctx context.Context, identity, endpoint string) models.RateDecision
}

// TokenPeeker validates a bearer token without consulting the blacklist. It
// lets the limiter key authenticated callers by user before authentication
// has run.
type TokenPeeker interface {
	ValidateAccessToken(token string) (*models.TokenClaims, error)
}

// RateLimiter builds the persistent per-endpoint rate-limit stage.
type RateLimiter struct {
	limiter  Limiter
	peeker   TokenPeeker
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

func NewRateLimiter(limiter Limiter, peeker TokenPeeker, ipConfig *pkghttp.IPConfig) *RateLimiter {
	return &RateLimiter{limiter: limiter, peeker: peeker, ipConfig: ipConfig, now: time.Now}
}

// For returns the middleware for one endpoint bucket.
func (rl *RateLimiter) For(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := services.RateLimitIdentity(rl.claims(r), pkghttp.Client(r, rl.ipConfig).IP)

			decision := rl.limiter.Check(r.Context(), identity, endpoint)
			if decision.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			}
			if err := decision.Err(); err != nil {
				pkghttp.WriteRateLimited(w, decision.ResetAt, rl.now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) claims(r *http.Request) *models.TokenClaims {
	if rl.peeker == nil {
		return nil
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil
	}
	claims, err := rl.peeker.ValidateAccessToken(strings.TrimSpace(token))
	if err != nil {
		return nil
	}
	return claims
}

// FloodGuard is a coarse in-memory per-IP limit applied to every request
// ahead of the database-backed limiter. It keys on the same client address
// as the rest of the pipeline, so forwarded headers only count from trusted
// proxies.
func FloodGuard(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.Client(r, ipConfig).IP, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
