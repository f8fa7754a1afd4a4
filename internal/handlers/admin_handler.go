package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/services"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the security console contract.
type AdminServiceInterface interface {
	UserEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
	UserLockouts(ctx context.Context, userID string, limit int) (*services.LockoutView, error)
	UnlockUser(ctx context.Context, actorID, userID string) error
	FailedLogins(ctx context.Context, since time.Duration, limit int) ([]services.ActivityEntry, error)
	RateLimitStats(ctx context.Context, identity string) ([]*models.RateLimitWindow, error)
	ResetRateLimit(ctx context.Context, actorID, identity, endpoint string) (int64, error)
}

// AdminHandler handles /admin/security requests.
type AdminHandler struct {
	service AdminServiceInterface
	env     string
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, env string) *AdminHandler {
	return &AdminHandler{service: service, env: env}
}

// EventsResponse wraps a page of security events.
type EventsResponse struct {
	Events []*models.SecurityEvent `json:"events"`
}

// FailedLoginsResponse wraps the failed-login feed.
type FailedLoginsResponse struct {
	Entries []services.ActivityEntry `json:"entries"`
}

// RateLimitResponse lists the live windows of one identity.
type RateLimitResponse struct {
	Identity string                    `json:"identity"`
	Windows  []*models.RateLimitWindow `json:"windows"`
}

// ResetResponse reports how many windows were cleared.
type ResetResponse struct {
	Identity string `json:"identity"`
	Cleared  int64  `json:"cleared"`
}

// UserEvents handles GET /admin/security/users/{id}/events
// Accepts optional query param ?limit=N.
func (h *AdminHandler) UserEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.UserEvents(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeServiceError(w, err, h.env, time.Now())
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, EventsResponse{Events: events})
}

// UserLockouts handles GET /admin/security/users/{id}/lockouts
func (h *AdminHandler) UserLockouts(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.UserLockouts(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeServiceError(w, err, h.env, time.Now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, view)
}

// UnlockUser handles POST /admin/security/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromContext(r)
	if actor == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.UnlockUser(r.Context(), actor.UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, h.env, time.Now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Account unlocked"})
}

// FailedLogins handles GET /admin/security/failed-logins
// Accepts optional query params ?since=<duration> (default 24h) and ?limit=N.
func (h *AdminHandler) FailedLogins(w http.ResponseWriter, r *http.Request) {
	var since time.Duration
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			pkghttp.WriteBadRequest(w, "since must be a positive duration such as 24h")
			return
		}
		since = d
	}

	entries, err := h.service.FailedLogins(r.Context(), since, queryLimit(r))
	if err != nil {
		writeServiceError(w, err, h.env, time.Now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, FailedLoginsResponse{Entries: entries})
}

// RateLimitStats handles GET /admin/security/rate-limits/{identity}
func (h *AdminHandler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	windows, err := h.service.RateLimitStats(r.Context(), identity)
	if err != nil {
		writeServiceError(w, err, h.env, time.Now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RateLimitResponse{Identity: identity, Windows: windows})
}

// ResetRateLimit handles DELETE /admin/security/rate-limits/{identity}
// Accepts optional query param ?endpoint= to clear a single bucket.
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetUserFromContext(r)
	if actor == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	identity := chi.URLParam(r, "identity")

	n, err := h.service.ResetRateLimit(r.Context(), actor.UserID, identity, r.URL.Query().Get("endpoint"))
	if err != nil {
		writeServiceError(w, err, h.env, time.Now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResetResponse{Identity: identity, Cleared: n})
}

// queryLimit returns ?limit when it is a positive integer, else 0 so the
// service applies its default.
func queryLimit(r *http.Request) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
