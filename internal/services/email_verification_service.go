package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
	"github.com/BradenHooton/torneo/pkg/logger"
)

const verificationTokenBytes = 32

// EmailVerificationRepository defines the interface for email verification token operations
type EmailVerificationRepository interface {
	Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkAsUsed(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
	CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error)
	GetPendingByEmail(ctx context.Context, email string) (*models.EmailVerificationToken, error)
}

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	tokens         EmailVerificationRepository
	users          UserRepository
	notifier       Notifier
	audit          SecurityAuditor
	logger         *slog.Logger
	tokenExpiry    time.Duration
	resendCooldown time.Duration
	now            func() time.Time
}

func NewEmailVerificationService(
	tokens EmailVerificationRepository,
	users UserRepository,
	notifier Notifier,
	audit SecurityAuditor,
	log *slog.Logger,
	tokenExpiry time.Duration,
) *EmailVerificationService {
	return &EmailVerificationService{
		tokens:         tokens,
		users:          users,
		notifier:       notifier,
		audit:          audit,
		logger:         log,
		tokenExpiry:    tokenExpiry,
		resendCooldown: 20 * time.Minute,
		now:            time.Now,
	}
}

func (s *EmailVerificationService) SetClock(now func() time.Time) { s.now = now }

// SendVerificationEmail generates a token and hands it to the notifier.
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, userID, email string) error {
	plainToken, err := pkgauth.OpaqueToken(verificationTokenBytes)
	if err != nil {
		return err
	}

	expiresAt := s.now().Add(s.tokenExpiry)
	if _, err := s.tokens.Create(ctx, userID, pkgauth.HashToken(plainToken), email, expiresAt); err != nil {
		s.logger.Error("failed to create email verification token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("%w: create verification token: %v", models.ErrStorage, err)
	}

	if err := s.notifier.SendVerificationEmail(ctx, email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("user_id", userID),
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return err
	}

	s.logger.Info("verification email queued",
		slog.String("user_id", userID),
		slog.String("email", logger.SanitizedEmail(email)))
	return nil
}

// VerifyEmail redeems a token and marks the owner's email as verified. Every
// unusable token yields ErrInvalidOrExpiredCode.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if plainToken == "" {
		return "", models.ErrInvalidOrExpiredCode
	}

	token, err := s.tokens.GetByTokenHash(ctx, pkgauth.HashToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInvalidOrExpiredCode
		}
		s.logger.Error("failed to retrieve verification token", slog.Any("error", err))
		return "", fmt.Errorf("%w: load verification token: %v", models.ErrStorage, err)
	}

	if token.IsUsed() {
		s.logger.Warn("attempt to reuse verification token", slog.String("token_id", token.ID))
		return "", models.ErrInvalidOrExpiredCode
	}
	if token.IsExpired(s.now()) {
		return "", models.ErrInvalidOrExpiredCode
	}

	// MarkAsUsed only matches unused rows, so a concurrent redemption loses here.
	if err := s.tokens.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInvalidOrExpiredCode
		}
		return "", fmt.Errorf("%w: mark token used: %v", models.ErrStorage, err)
	}

	if err := s.users.MarkEmailVerified(ctx, token.UserID); err != nil {
		s.logger.Error("failed to update user email verification status",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		return "", fmt.Errorf("%w: mark email verified: %v", models.ErrStorage, err)
	}

	if s.audit != nil {
		s.audit.Log(ctx, models.SecurityEvent{
			Kind:      models.EventEmailVerified,
			UserID:    &token.UserID,
			Identity:  &token.Email,
			CreatedAt: s.now(),
		})
	}

	s.logger.Info("email verified", slog.String("user_id", token.UserID))
	return token.UserID, nil
}

// ResendVerification issues a fresh token for an unverified account. It never
// reveals whether the address exists. A still-pending token inside the cooldown
// suppresses the resend; an expired or purged one does not.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for resend", slog.Any("error", err))
		}
		return nil
	}
	if user.EmailVerified {
		return nil
	}

	existing, err := s.tokens.GetPendingByEmail(ctx, user.Email)
	switch {
	case err == nil:
		if since := s.now().Sub(existing.CreatedAt); since < s.resendCooldown {
			s.logger.Info("resend within cooldown",
				slog.String("email", logger.SanitizedEmail(user.Email)),
				slog.Duration("since_last", since))
			return nil
		}
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("failed to check for existing tokens", slog.Any("error", err))
		return nil
	}

	if err := s.tokens.DeleteByUserID(ctx, user.ID); err != nil {
		s.logger.Error("failed to delete old tokens",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	if err := s.SendVerificationEmail(ctx, user.ID, user.Email); err != nil {
		s.logger.Error("failed to resend verification", slog.Any("error", err))
	}
	return nil
}

// Cleanup removes tokens that expired before now.
func (s *EmailVerificationService) Cleanup(ctx context.Context) (int64, error) {
	return s.tokens.CleanupExpired(ctx, s.now())
}
