package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/metrics"
	"github.com/BradenHooton/torneo/internal/models"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
)

// UserRepository is the slice of account storage the auth flows need.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	RecordLogin(ctx context.Context, id string, at time.Time, ip string) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// TokenService issues and revokes credentials.
type TokenService interface {
	Issue(ctx context.Context, user *models.User, ip, userAgent string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error)
	Revoke(ctx context.Context, jti string, kind models.TokenKind, userID string, expiresAt time.Time, reason string) (*models.RevokedToken, error)
	RevokeRefreshToken(ctx context.Context, refreshToken, userID string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
}

// VerificationSender starts email verification for a new account.
type VerificationSender interface {
	SendVerificationEmail(ctx context.Context, userID, email string) error
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuthResponse is returned on a successful login.
type AuthResponse struct {
	*auth.TokenPair
	User *UserResponse `json:"user"`
}

type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	IP              string
	UserAgent       string
}

type RegisterInput struct {
	Email     string
	Password  string
	Name      string
	IP        string
	UserAgent string
}

// AuthService handles authentication business logic
type AuthService struct {
	users     UserRepository
	tokens    TokenService
	attempts  *LoginAttemptTracker
	lockouts  *LockoutManager
	verifier  VerificationSender
	audit     SecurityAuditor
	timing    *auth.TimingDelay
	logger    *slog.Logger
	now       func() time.Time
	dummyHash func() string
}

func NewAuthService(
	users UserRepository,
	tokens TokenService,
	attempts *LoginAttemptTracker,
	lockouts *LockoutManager,
	verifier VerificationSender,
	audit SecurityAuditor,
	timing *auth.TimingDelay,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		attempts:  attempts,
		lockouts:  lockouts,
		verifier:  verifier,
		audit:     audit,
		timing:    timing,
		logger:    logger,
		now:       time.Now,
		dummyHash: sync.OnceValue(dummyPasswordHash),
	}
}

func (s *AuthService) SetClock(now func() time.Time) { s.now = now }

// dummyPasswordHash gives the unknown-email path a bcrypt comparison of the
// same cost as a real one.
func dummyPasswordHash() string {
	hash, err := pkgauth.HashPassword("torneo-timing-equalizer-1")
	if err != nil {
		return ""
	}
	return hash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates a user and returns tokens. Unknown email and wrong
// password produce the same error and take roughly the same time.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	start := time.Now()
	email := normalizeEmail(in.Email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user by email", slog.Any("error", err))
			return nil, fmt.Errorf("%w: load user: %v", models.ErrStorage, err)
		}

		_ = pkgauth.ComparePassword(s.dummyHash(), in.Password)
		if err := s.fail(ctx, email, nil, in, models.FailureEmailNotFound); err != nil {
			return nil, err
		}
		s.timing.WaitFrom(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	if !user.EmailVerified {
		if err := s.fail(ctx, email, user, in, models.FailureEmailUnverified); err != nil {
			return nil, err
		}
		return nil, models.ErrEmailUnverified
	}

	if !user.Active {
		if err := s.fail(ctx, email, user, in, models.FailureAccountInactive); err != nil {
			return nil, err
		}
		return nil, models.ErrAccountInactive
	}

	lockout, err := s.lockouts.GetActiveLockout(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if lockout != nil {
		if err := s.fail(ctx, email, user, in, models.FailureAccountLocked); err != nil {
			return nil, err
		}
		return nil, &models.LockedError{LockedUntil: lockout.LockedUntil, Reason: lockout.Reason}
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, in.Password); err != nil {
		if err := s.fail(ctx, email, user, in, models.FailureWrongPassword); err != nil {
			return nil, err
		}

		result, err := s.lockouts.EvaluateFailures(ctx, user)
		if err != nil {
			return nil, err
		}
		if result.Locked {
			return nil, &models.LockedError{LockedUntil: result.Lockout.LockedUntil, Reason: result.Lockout.Reason}
		}

		s.logger.Info("login failed: invalid credentials",
			slog.String("user_id", user.ID),
			slog.Int("attempts_remaining", result.AttemptsRemaining),
		)
		s.timing.WaitFrom(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	if _, err := s.attempts.Record(ctx, email, true, in.IP, in.UserAgent, nil); err != nil {
		return nil, err
	}
	if err := s.attempts.ResetFailures(ctx, email); err != nil {
		s.logger.Warn("failed to reset login failures", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	now := s.now()
	if err := s.users.RecordLogin(ctx, user.ID, now, in.IP); err != nil {
		s.logger.Warn("failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	} else {
		user.LastLoginAt = &now
	}

	pair, err := s.tokens.Issue(ctx, user, in.IP, in.UserAgent)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &AuthResponse{TokenPair: pair, User: toUserResponse(user)}, nil
}

// fail records a failed attempt and journals it. Only the attempt write can
// fail the login.
func (s *AuthService) fail(ctx context.Context, email string, user *models.User, in LoginInput, reason models.FailureReason) error {
	if _, err := s.attempts.Record(ctx, email, false, in.IP, in.UserAgent, &reason); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
		return err
	}

	metrics.LoginAttempts.WithLabelValues(string(reason)).Inc()

	event := models.SecurityEvent{
		Kind:      models.EventLoginFailed,
		Identity:  &email,
		IPAddress: optional(in.IP),
		UserAgent: optional(in.UserAgent),
		Detail:    models.EventDetail{"reason": string(reason)},
		CreatedAt: s.now(),
	}
	if user != nil {
		event.UserID = &user.ID
	}
	s.audit.Log(ctx, event)
	return nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error) {
	return s.tokens.Refresh(ctx, refreshToken, ip, userAgent)
}

// Logout revokes the caller's access token and, when given, one of their
// refresh tokens.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken, ip, userAgent string) error {
	if claims == nil {
		return models.ErrUnauthorized
	}

	if _, err := s.tokens.Revoke(ctx, claims.ID, models.TokenKindAccess, claims.UserID, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke access token", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return err
	}

	if refreshToken != "" {
		err := s.tokens.RevokeRefreshToken(ctx, refreshToken, claims.UserID)
		switch {
		case errors.Is(err, models.ErrInvalidRefreshToken):
			s.logger.Warn("logout with unknown or foreign refresh token", slog.String("user_id", claims.UserID))
		case err != nil:
			return err
		}
	}

	s.audit.Log(ctx, models.SecurityEvent{
		Kind:      models.EventLogout,
		UserID:    &claims.UserID,
		IPAddress: optional(ip),
		UserAgent: optional(userAgent),
		CreatedAt: s.now(),
	})

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// LogoutAll revokes every refresh token of the caller plus the access token
// used for this request.
func (s *AuthService) LogoutAll(ctx context.Context, claims *models.TokenClaims, ip, userAgent string) (int64, error) {
	if claims == nil {
		return 0, models.ErrUnauthorized
	}

	n, err := s.tokens.RevokeAllForUser(ctx, claims.UserID, "logout_all")
	if err != nil {
		return 0, err
	}

	if _, err := s.tokens.Revoke(ctx, claims.ID, models.TokenKindAccess, claims.UserID, claims.ExpiresAt.Time, "logout_all"); err != nil {
		return n, err
	}

	s.audit.Log(ctx, models.SecurityEvent{
		Kind:      models.EventLogout,
		UserID:    &claims.UserID,
		IPAddress: optional(ip),
		UserAgent: optional(userAgent),
		Detail:    models.EventDetail{"scope": "all"},
		CreatedAt: s.now(),
	})

	s.logger.Info("user logged out everywhere",
		slog.String("user_id", claims.UserID),
		slog.Int64("refresh_tokens", n),
	)
	return n, nil
}

// ChangePassword replaces the caller's password after checking the current
// one. Every refresh token of the user and the access token used for the
// request are revoked, so other sessions must log in again.
func (s *AuthService) ChangePassword(ctx context.Context, claims *models.TokenClaims, in ChangePasswordInput) (int64, error) {
	if claims == nil {
		return 0, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.ErrUnauthorized
		}
		return 0, fmt.Errorf("%w: load user: %v", models.ErrStorage, err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, in.CurrentPassword); err != nil {
		s.logger.Warn("password change with wrong current password", slog.String("user_id", user.ID))
		return 0, models.ErrInvalidCredentials
	}
	if err := pkgauth.ValidatePassword(in.NewPassword); err != nil {
		return 0, err
	}

	hash, err := pkgauth.HashPassword(in.NewPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return 0, models.ErrInternalServer
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return 0, fmt.Errorf("%w: update password: %v", models.ErrStorage, err)
	}

	n, err := s.tokens.RevokeAllForUser(ctx, user.ID, "password_changed")
	if err != nil {
		return 0, err
	}
	if _, err := s.tokens.Revoke(ctx, claims.ID, models.TokenKindAccess, user.ID, claims.ExpiresAt.Time, "password_changed"); err != nil {
		return n, err
	}

	s.audit.Log(ctx, models.SecurityEvent{
		Kind:      models.EventPasswordChanged,
		UserID:    &user.ID,
		Identity:  &user.Email,
		IPAddress: optional(in.IP),
		UserAgent: optional(in.UserAgent),
		Detail:    models.EventDetail{"refresh_tokens_revoked": n},
		CreatedAt: s.now(),
	})

	s.logger.Info("password changed", slog.String("user_id", user.ID), slog.Int64("refresh_tokens", n))
	return n, nil
}

// Unlock redeems an emailed unlock code. Unknown accounts and accounts that
// are not locked get the same answer as a wrong code.
func (s *AuthService) Unlock(ctx context.Context, email, code, ip, userAgent string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("%w: load user: %v", models.ErrStorage, err)
	}

	if err := s.lockouts.VerifyAndUnlock(ctx, user, code); err != nil {
		if errors.Is(err, models.ErrInvalidOrExpiredCode) {
			s.audit.Log(ctx, models.SecurityEvent{
				Kind:      models.EventSuspiciousActivity,
				UserID:    &user.ID,
				Identity:  &user.Email,
				IPAddress: optional(ip),
				UserAgent: optional(userAgent),
				Detail:    models.EventDetail{"reason": "unlock_code_rejected"},
				CreatedAt: s.now(),
			})
		}
		return err
	}

	s.logger.Info("account unlocked with code", slog.String("user_id", user.ID))
	return nil
}

// Register creates a spectator account and starts email verification.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*UserResponse, error) {
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Role:         models.RoleSpectator,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, fmt.Errorf("%w: create user: %v", models.ErrStorage, err)
	}

	s.audit.Log(ctx, models.SecurityEvent{
		Kind:      models.EventRegistered,
		UserID:    &user.ID,
		Identity:  &user.Email,
		IPAddress: optional(in.IP),
		UserAgent: optional(in.UserAgent),
		CreatedAt: s.now(),
	})

	if s.verifier != nil {
		if err := s.verifier.SendVerificationEmail(ctx, user.ID, user.Email); err != nil {
			s.logger.Error("failed to start email verification", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	return toUserResponse(user), nil
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

func toUserResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
