package routes

import (
	"net/http"

	"github.com/BradenHooton/torneo/internal/handlers"
	"github.com/BradenHooton/torneo/internal/middleware"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/services"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes. Every route is wrapped
// by the pipeline so the stage order is fixed in one place.
func RegisterRoutes(
	router chi.Router,
	pipeline *middleware.Pipeline,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
) {
	post := func(path, endpoint string, h http.HandlerFunc) {
		router.Method(http.MethodPost, path, pipeline.Public(endpoint).ThenFunc(h))
	}

	// Public routes - no authentication required
	post("/auth/register", services.EndpointRegister, authHandler.Register)
	post("/auth/login", services.EndpointLogin, authHandler.Login)
	post("/auth/refresh", services.EndpointRefresh, authHandler.Refresh)
	post("/auth/unlock", services.EndpointUnlock, authHandler.Unlock)
	post("/auth/verify-email", services.EndpointDefault, authHandler.VerifyEmail)
	post("/auth/resend-verification", services.EndpointResendVerification, authHandler.ResendVerification)

	// Protected routes - authentication required
	authed := pipeline.Authenticated(services.EndpointDefault)
	router.Method(http.MethodPost, "/auth/logout", authed.ThenFunc(authHandler.Logout))
	router.Method(http.MethodPost, "/auth/logout-all", authed.ThenFunc(authHandler.LogoutAll))
	router.Method(http.MethodGet, "/auth/me", authed.ThenFunc(authHandler.Me))
	router.Method(http.MethodPost, "/auth/change-password",
		pipeline.Authenticated(services.EndpointChangePassword).ThenFunc(authHandler.ChangePassword))

	// Admin-only routes
	admin := pipeline.Authorized(services.EndpointDefault, models.RoleAdmin)
	router.Route("/admin/security", func(r chi.Router) {
		r.Method(http.MethodGet, "/users/{id}/events", admin.ThenFunc(adminHandler.UserEvents))
		r.Method(http.MethodGet, "/users/{id}/lockouts", admin.ThenFunc(adminHandler.UserLockouts))
		r.Method(http.MethodPost, "/users/{id}/unlock", admin.ThenFunc(adminHandler.UnlockUser))
		r.Method(http.MethodGet, "/failed-logins", admin.ThenFunc(adminHandler.FailedLogins))
		r.Method(http.MethodGet, "/rate-limits/{identity}", admin.ThenFunc(adminHandler.RateLimitStats))
		r.Method(http.MethodDelete, "/rate-limits/{identity}", admin.ThenFunc(adminHandler.ResetRateLimit))
	})
}
