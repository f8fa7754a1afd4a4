package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/torneo/internal/handlers"
	"github.com/BradenHooton/torneo/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageRecorder struct {
	stages []string
}

func (s *stageRecorder) stage(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.stages = append(s.stages, name)
			next.ServeHTTP(w, r)
		})
	}
}

func newTestRouter(rec *stageRecorder) chi.Router {
	pipeline := &middleware.Pipeline{
		Sanitize: rec.stage("sanitize"),
		RateLimit: func(endpoint string) func(http.Handler) http.Handler {
			return rec.stage("rate_limit:" + endpoint)
		},
		Authenticate: rec.stage("authenticate"),
		Authorize: func(roles ...string) func(http.Handler) http.Handler {
			return rec.stage("authorize:" + strings.Join(roles, ","))
		},
	}

	router := chi.NewRouter()
	RegisterRoutes(router, pipeline,
		handlers.NewAuthHandler(&handlers.MockAuthService{}, &handlers.MockEmailVerificationService{}, nil, "test"),
		handlers.NewAdminHandler(&handlers.MockAdminService{}, "test"),
	)
	return router
}

func TestRegisterRoutes_Table(t *testing.T) {
	router := newTestRouter(&stageRecorder{})

	var got []string
	require.NoError(t, chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		got = append(got, method+" "+route)
		return nil
	}))

	assert.ElementsMatch(t, []string{
		"POST /auth/register",
		"POST /auth/login",
		"POST /auth/refresh",
		"POST /auth/unlock",
		"POST /auth/verify-email",
		"POST /auth/resend-verification",
		"POST /auth/logout",
		"POST /auth/logout-all",
		"GET /auth/me",
		"POST /auth/change-password",
		"GET /admin/security/users/{id}/events",
		"GET /admin/security/users/{id}/lockouts",
		"POST /admin/security/users/{id}/unlock",
		"GET /admin/security/failed-logins",
		"GET /admin/security/rate-limits/{identity}",
		"DELETE /admin/security/rate-limits/{identity}",
	}, got)
}

func TestRegisterRoutes_Stages(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   []string
	}{
		{"POST", "/auth/login", []string{"sanitize", "rate_limit:login"}},
		{"POST", "/auth/register", []string{"sanitize", "rate_limit:register"}},
		{"POST", "/auth/unlock", []string{"sanitize", "rate_limit:unlock"}},
		{"POST", "/auth/resend-verification", []string{"sanitize", "rate_limit:resend-verification"}},
		{"POST", "/auth/verify-email", []string{"sanitize", "rate_limit:default"}},
		{"POST", "/auth/logout", []string{"sanitize", "rate_limit:default", "authenticate"}},
		{"GET", "/auth/me", []string{"sanitize", "rate_limit:default", "authenticate"}},
		{"POST", "/auth/change-password", []string{"sanitize", "rate_limit:change-password", "authenticate"}},
		{"GET", "/admin/security/failed-logins", []string{"sanitize", "rate_limit:default", "authenticate", "authorize:admin"}},
		{"DELETE", "/admin/security/rate-limits/ip:1.2.3.4", []string{"sanitize", "rate_limit:default", "authenticate", "authorize:admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := &stageRecorder{}
			router := newTestRouter(rec)

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))

			assert.Equal(t, tt.want, rec.stages)
		})
	}
}
