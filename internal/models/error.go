package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication errors
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrEmailUnverified      = errors.New("email address not verified")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired unlock code")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRateLimited          = errors.New("rate limit exceeded")

	// Token validation errors
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenRevoked = errors.New("token has been revoked")

	// Collaborator failures
	ErrStorage  = errors.New("storage unavailable")
	ErrNotifier = errors.New("notification delivery failed")
)

// LockedError reports an active lockout. It never carries the unlock code.
type LockedError struct {
	LockedUntil time.Time
	Reason      LockoutReason
}

func (e *LockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// MinutesRemaining rounds the remaining lock time up to whole minutes.
func (e *LockedError) MinutesRemaining(now time.Time) int {
	remaining := e.LockedUntil.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - time.Nanosecond) / time.Minute)
}
