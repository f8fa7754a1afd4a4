package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the JSON envelope for every failed request. The optional
// fields are only set by the errors that carry them.
type ErrorResponse struct {
	Error            string     `json:"error"`
	Message          string     `json:"message"`
	Details          string     `json:"details,omitempty"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	MinutesRemaining *int       `json:"minutes_remaining,omitempty"`
	UnlockHint       string     `json:"unlock_hint,omitempty"`
	ResetAt          *time.Time `json:"reset_at,omitempty"`
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message, Details: details})
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	WriteJSON(w, statusCode, resp)
}

// WriteLocked reports an account lockout. The unlock code itself is never part
// of the response.
func WriteLocked(w http.ResponseWriter, lockedUntil time.Time, minutes int) {
	WriteErrorResponse(w, http.StatusForbidden, ErrorResponse{
		Error:            "account_locked",
		Message:          "Account is temporarily locked",
		LockedUntil:      &lockedUntil,
		MinutesRemaining: &minutes,
		UnlockHint:       "Check your email for an unlock code",
	})
}

// WriteRateLimited sets Retry-After from resetAt when it is known.
func WriteRateLimited(w http.ResponseWriter, resetAt *time.Time, now time.Time) {
	if resetAt != nil {
		secs := int(resetAt.Sub(now).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteErrorResponse(w, http.StatusTooManyRequests, ErrorResponse{
		Error:   "rate_limit_exceeded",
		Message: "Too many requests, please try again later",
		ResetAt: resetAt,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
