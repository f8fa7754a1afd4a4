package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/services"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("User-Agent", "handlers-test")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email, role string) *http.Request {
	claims := &models.TokenClaims{
		Kind:   models.TokenKindAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc     func(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	RegisterFunc  func(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
	RefreshFunc   func(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error)
	LogoutFunc    func(ctx context.Context, claims *models.TokenClaims, refreshToken, ip, userAgent string) error
	LogoutAllFunc func(ctx context.Context, claims *models.TokenClaims, ip, userAgent string) (int64, error)
	UnlockFunc    func(ctx context.Context, email, code, ip, userAgent string) error
	MeFunc        func(ctx context.Context, userID string) (*services.UserResponse, error)

	ChangePasswordFunc func(ctx context.Context, claims *models.TokenClaims, in services.ChangePasswordInput) (int64, error)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrInvalidRefreshToken
	}
	return m.RefreshFunc(ctx, refreshToken, ip, userAgent)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken, ip, userAgent string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims, refreshToken, ip, userAgent)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims, ip, userAgent string) (int64, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, claims, ip, userAgent)
}

func (m *MockAuthService) Unlock(ctx context.Context, email, code, ip, userAgent string) error {
	if m.UnlockFunc == nil {
		return models.ErrInvalidOrExpiredCode
	}
	return m.UnlockFunc(ctx, email, code, ip, userAgent)
}

func (m *MockAuthService) Me(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.MeFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.MeFunc(ctx, userID)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, claims *models.TokenClaims, in services.ChangePasswordInput) (int64, error) {
	if m.ChangePasswordFunc == nil {
		return 0, models.ErrInvalidCredentials
	}
	return m.ChangePasswordFunc(ctx, claims, in)
}

// MockEmailVerificationService for testing
type MockEmailVerificationService struct {
	VerifyEmailFunc        func(ctx context.Context, plainToken string) (string, error)
	ResendVerificationFunc func(ctx context.Context, email string) error
}

func (m *MockEmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if m.VerifyEmailFunc == nil {
		return "", models.ErrInvalidOrExpiredCode
	}
	return m.VerifyEmailFunc(ctx, plainToken)
}

func (m *MockEmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	UserEventsFunc     func(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error)
	UserLockoutsFunc   func(ctx context.Context, userID string, limit int) (*services.LockoutView, error)
	UnlockUserFunc     func(ctx context.Context, actorID, userID string) error
	FailedLoginsFunc   func(ctx context.Context, since time.Duration, limit int) ([]services.ActivityEntry, error)
	RateLimitStatsFunc func(ctx context.Context, identity string) ([]*models.RateLimitWindow, error)
	ResetRateLimitFunc func(ctx context.Context, actorID, identity, endpoint string) (int64, error)
}

func (m *MockAdminService) UserEvents(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	if m.UserEventsFunc == nil {
		return []*models.SecurityEvent{}, nil
	}
	return m.UserEventsFunc(ctx, userID, limit)
}

func (m *MockAdminService) UserLockouts(ctx context.Context, userID string, limit int) (*services.LockoutView, error) {
	if m.UserLockoutsFunc == nil {
		return &services.LockoutView{History: []*models.AccountLockout{}}, nil
	}
	return m.UserLockoutsFunc(ctx, userID, limit)
}

func (m *MockAdminService) UnlockUser(ctx context.Context, actorID, userID string) error {
	if m.UnlockUserFunc == nil {
		return nil
	}
	return m.UnlockUserFunc(ctx, actorID, userID)
}

func (m *MockAdminService) FailedLogins(ctx context.Context, since time.Duration, limit int) ([]services.ActivityEntry, error) {
	if m.FailedLoginsFunc == nil {
		return []services.ActivityEntry{}, nil
	}
	return m.FailedLoginsFunc(ctx, since, limit)
}

func (m *MockAdminService) RateLimitStats(ctx context.Context, identity string) ([]*models.RateLimitWindow, error) {
	if m.RateLimitStatsFunc == nil {
		return []*models.RateLimitWindow{}, nil
	}
	return m.RateLimitStatsFunc(ctx, identity)
}

func (m *MockAdminService) ResetRateLimit(ctx context.Context, actorID, identity, endpoint string) (int64, error) {
	if m.ResetRateLimitFunc == nil {
		return 0, nil
	}
	return m.ResetRateLimitFunc(ctx, actorID, identity, endpoint)
}
