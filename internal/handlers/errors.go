package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
)

// writeServiceError maps service errors onto the JSON error envelope. Raw
// error text is only exposed as details in development.
func writeServiceError(w http.ResponseWriter, err error, env string, now time.Time) {
	var locked *models.LockedError
	var weak *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, locked.LockedUntil, locked.MinutesRemaining(now))
	case errors.As(err, &weak):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password",
			"Password does not meet requirements", strings.Join(weak.Problems, "; "))
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, models.ErrInvalidRefreshToken):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_refresh_token", "Refresh token is invalid or expired")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, models.ErrEmailUnverified):
		pkghttp.WriteError(w, http.StatusForbidden, "email_unverified", "Email address has not been verified")
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteError(w, http.StatusForbidden, "account_inactive", "Account is inactive")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Insufficient permissions")
	case errors.Is(err, models.ErrInvalidOrExpiredCode):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_or_expired_code", "The code is invalid or has expired")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteRateLimited(w, nil, now)
	case errors.Is(err, models.ErrStorage):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		if env == "development" {
			pkghttp.WriteErrorWithDetails(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func isConflict(err error) bool {
	return errors.Is(err, models.ErrConflict)
}
