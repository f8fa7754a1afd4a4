package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/services"
	pkghttp "github.com/BradenHooton/torneo/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
	Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error)
	Logout(ctx context.Context, claims *models.TokenClaims, refreshToken, ip, userAgent string) error
	LogoutAll(ctx context.Context, claims *models.TokenClaims, ip, userAgent string) (int64, error)
	Unlock(ctx context.Context, email, code, ip, userAgent string) error
	Me(ctx context.Context, userID string) (*services.UserResponse, error)
	ChangePassword(ctx context.Context, claims *models.TokenClaims, in services.ChangePasswordInput) (int64, error)
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, plainToken string) (string, error)
	ResendVerification(ctx context.Context, email string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	verification EmailVerificationServiceInterface
	ipConfig     *pkghttp.IPConfig
	env          string
	now          func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, verification EmailVerificationServiceInterface, ipConfig *pkghttp.IPConfig, env string) *AuthHandler {
	return &AuthHandler{
		service:      service,
		verification: verification,
		ipConfig:     ipConfig,
		env:          env,
		now:          time.Now,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke alongside the
// access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UnlockRequest carries the code mailed when the account was locked.
type UnlockRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ChangePasswordRequest carries the current password and its replacement.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,nefield=CurrentPassword"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// MessageResponse is the body of requests that return no resource.
type MessageResponse struct {
	Message string `json:"message"`
}

// LogoutAllResponse reports how many refresh tokens were revoked.
type LogoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

const registrationAccepted = "Registration received. If the email is not already registered, you will receive a confirmation email."

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	client := pkghttp.Client(r, h.ipConfig)
	resp, err := h.service.Login(r.Context(), services.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Register handles POST /auth/register. A duplicate email gets the same
// response as a new registration.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	client := pkghttp.Client(r, h.ipConfig)
	_, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil && !isConflict(err) {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: registrationAccepted})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	client := pkghttp.Client(r, h.ipConfig)
	grant, err := h.service.Refresh(r.Context(), req.RefreshToken, client.IP, client.UserAgent)
	if err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, grant)
}

// Unlock handles POST /auth/unlock
func (h *AuthHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	client := pkghttp.Client(r, h.ipConfig)
	if err := h.service.Unlock(r.Context(), req.Email, req.Code, client.IP, client.UserAgent); err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Account unlocked"})
}

// VerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if _, err := h.verification.VerifyEmail(r.Context(), req.Token); err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email verified"})
}

// ResendVerification handles POST /auth/resend-verification. The response
// does not reveal whether the address is registered.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.verification.ResendVerification(r.Context(), req.Email); err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If the address is registered and unverified, a new verification email has been sent.",
	})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	client := pkghttp.Client(r, h.ipConfig)
	if err := h.service.Logout(r.Context(), claims, req.RefreshToken, client.IP, client.UserAgent); err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	client := pkghttp.Client(r, h.ipConfig)
	n, err := h.service.LogoutAll(r.Context(), claims, client.IP, client.UserAgent)
	if err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LogoutAllResponse{Message: "Logged out of all sessions", Revoked: n})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.service.Me(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// ChangePassword handles POST /auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	client := pkghttp.Client(r, h.ipConfig)
	n, err := h.service.ChangePassword(r.Context(), claims, services.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		IP:              client.IP,
		UserAgent:       client.UserAgent,
	})
	if err != nil {
		writeServiceError(w, err, h.env, h.now())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LogoutAllResponse{Message: "Password changed; all sessions were signed out", Revoked: n})
}
