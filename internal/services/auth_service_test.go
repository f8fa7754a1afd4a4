package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/models"
	pkgauth "github.com/BradenHooton/torneo/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "GoalKeeper2026"

type authHarness struct {
	*lockoutHarness
	users   *MockUserRepository
	tokens  *MockTokenService
	sender  *MockVerificationSender
	service *AuthService
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()

	lh := newLockoutHarness(t, defaultLockoutConfig())
	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)
	lh.user.PasswordHash = hash

	h := &authHarness{
		lockoutHarness: lh,
		users: &MockUserRepository{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				if email == lh.user.Email {
					cp := *lh.user
					return &cp, nil
				}
				return nil, models.ErrNotFound
			},
			GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
				if id == lh.user.ID {
					cp := *lh.user
					return &cp, nil
				}
				return nil, models.ErrNotFound
			},
		},
		tokens: &MockTokenService{},
		sender: &MockVerificationSender{},
	}

	h.service = NewAuthService(h.users, h.tokens, lh.tracker, lh.manager, h.sender, lh.audit, nil, NewDiscardLogger())
	h.service.SetClock(lh.clock.Now)
	return h
}

func (h *authHarness) login(password string) (*AuthResponse, error) {
	return h.service.Login(context.Background(), LoginInput{
		Email:     "  Striker@Example.com ",
		Password:  password,
		IP:        "198.51.100.20",
		UserAgent: "test-agent",
	})
}

func TestAuthService_Login_Success(t *testing.T) {
	h := newAuthHarness(t)

	var recordedIP string
	h.users.RecordLoginFunc = func(ctx context.Context, id string, at time.Time, ip string) error {
		recordedIP = ip
		return nil
	}
	h.tokens.IssueFunc = func(ctx context.Context, user *models.User, ip, ua string) (*auth.TokenPair, error) {
		assert.Equal(t, "user-1", user.ID)
		return &auth.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 900}, nil
	}

	resp, err := h.login(testPassword)
	require.NoError(t, err)
	assert.Equal(t, "a", resp.AccessToken)
	assert.Equal(t, "r", resp.RefreshToken)
	assert.Equal(t, "striker@example.com", resp.User.Email)
	assert.NotNil(t, resp.User.LastLoginAt)
	assert.Equal(t, "198.51.100.20", recordedIP)
	assert.Equal(t, 1, h.attempts.Len())
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	h := newAuthHarness(t)

	_, err := h.service.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: testPassword})
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	attempts, err := h.tracker.RecentAttempts(context.Background(), "nobody@example.com", time.Hour)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.FailureEmailNotFound, *attempts[0].FailureReason)
	assert.Equal(t, []models.EventKind{models.EventLoginFailed}, h.audit.Kinds())
}

func TestAuthService_Login_WrongPasswordLooksLikeUnknownEmail(t *testing.T) {
	h := newAuthHarness(t)

	_, wrong := h.login("NotThePassword1")
	_, unknown := h.service.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: "x"})

	assert.ErrorIs(t, wrong, models.ErrInvalidCredentials)
	assert.Equal(t, unknown, wrong)
	var locked *models.LockedError
	assert.False(t, errors.As(wrong, &locked))
}

func TestAuthService_Login_AccountState(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(u *models.User)
		want   error
		reason models.FailureReason
	}{
		{"unverified email", func(u *models.User) { u.EmailVerified = false }, models.ErrEmailUnverified, models.FailureEmailUnverified},
		{"inactive account", func(u *models.User) { u.Active = false }, models.ErrAccountInactive, models.FailureAccountInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHarness(t)
			tt.mutate(h.user)

			_, err := h.login(testPassword)
			assert.ErrorIs(t, err, tt.want)

			attempts, err := h.tracker.RecentAttempts(context.Background(), h.user.Email, time.Hour)
			require.NoError(t, err)
			require.Len(t, attempts, 1)
			assert.Equal(t, tt.reason, *attempts[0].FailureReason)
		})
	}
}

func TestAuthService_Login_LocksOnFifthFailure(t *testing.T) {
	h := newAuthHarness(t)

	for i := 0; i < 4; i++ {
		_, err := h.login("WrongPassword9")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	_, err := h.login("WrongPassword9")
	var locked *models.LockedError
	require.True(t, errors.As(err, &locked))
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), locked.LockedUntil)
	assert.Equal(t, 10, locked.MinutesRemaining(h.clock.Now()))
	assert.Equal(t, 1, h.notifier.UnlockCodeCount())

	// Correct password is refused while the lock is in force.
	h.clock.Advance(time.Second)
	_, err = h.login(testPassword)
	require.True(t, errors.As(err, &locked))

	attempts, err := h.tracker.RecentAttempts(context.Background(), h.user.Email, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, models.FailureAccountLocked, *attempts[0].FailureReason)

	// And accepted once it lapses.
	h.clock.Advance(10 * time.Minute)
	_, err = h.login(testPassword)
	assert.NoError(t, err)
}

func TestAuthService_Login_StorageFailures(t *testing.T) {
	t.Run("attempt write fails", func(t *testing.T) {
		h := newAuthHarness(t)
		h.attempts.Err = errors.New("disk full")

		_, err := h.login("WrongPassword9")
		assert.ErrorIs(t, err, models.ErrStorage)
	})

	t.Run("user lookup fails", func(t *testing.T) {
		h := newAuthHarness(t)
		h.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
			return nil, errors.New("timeout")
		}

		_, err := h.login(testPassword)
		assert.ErrorIs(t, err, models.ErrStorage)
	})

	t.Run("token issue fails", func(t *testing.T) {
		h := newAuthHarness(t)
		h.tokens.IssueFunc = func(ctx context.Context, user *models.User, ip, ua string) (*auth.TokenPair, error) {
			return nil, models.ErrStorage
		}

		resp, err := h.login(testPassword)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, models.ErrStorage)
	})
}

func TestAuthService_Unlock(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.login("WrongPassword9")
	}
	require.Equal(t, 1, h.notifier.UnlockCodeCount())
	code := h.notifier.UnlockCodes[0]

	assert.ErrorIs(t, h.service.Unlock(ctx, "nobody@example.com", code, "", ""), models.ErrInvalidOrExpiredCode)

	require.NoError(t, h.service.Unlock(ctx, "STRIKER@example.com", code, "198.51.100.20", "ua"))
	assert.ErrorIs(t, h.service.Unlock(ctx, h.user.Email, code, "", ""), models.ErrInvalidOrExpiredCode)

	_, err := h.login(testPassword)
	assert.NoError(t, err)
	assert.Equal(t, 1, h.audit.Count(models.EventSuspiciousActivity), "replayed code is journaled")
}

func TestAuthService_Logout(t *testing.T) {
	h := newAuthHarness(t)
	claims := NewTokenClaims("user-1", "striker@example.com", models.RoleSpectator)

	var revoked []string
	h.tokens.RevokeFunc = func(ctx context.Context, jti string, kind models.TokenKind, userID string, expiresAt time.Time, reason string) (*models.RevokedToken, error) {
		revoked = append(revoked, jti)
		assert.Equal(t, models.TokenKindAccess, kind)
		return &models.RevokedToken{JTI: jti}, nil
	}
	h.tokens.RevokeRefreshTokenFunc = func(ctx context.Context, token, userID string) error {
		return models.ErrInvalidRefreshToken
	}

	err := h.service.Logout(context.Background(), claims, "someone-elses-token", "198.51.100.20", "ua")
	require.NoError(t, err)
	assert.Equal(t, []string{claims.ID}, revoked)
	assert.Equal(t, 1, h.audit.Count(models.EventLogout))

	assert.ErrorIs(t, h.service.Logout(context.Background(), nil, "", "", ""), models.ErrUnauthorized)
}

func TestAuthService_LogoutAll(t *testing.T) {
	h := newAuthHarness(t)
	claims := NewTokenClaims("user-1", "striker@example.com", models.RoleSpectator)

	h.tokens.RevokeAllForUserFunc = func(ctx context.Context, userID, reason string) (int64, error) {
		assert.Equal(t, "user-1", userID)
		return 3, nil
	}

	n, err := h.service.LogoutAll(context.Background(), claims, "", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestAuthService_Register(t *testing.T) {
	t.Run("creates spectator and sends verification", func(t *testing.T) {
		h := newAuthHarness(t)
		var sentTo string
		h.users.CreateFunc = func(ctx context.Context, u *models.User) (*models.User, error) {
			u.ID = "user-9"
			return u, nil
		}
		h.sender.SendVerificationEmailFunc = func(ctx context.Context, userID, email string) error {
			sentTo = email
			return models.ErrNotifier
		}

		resp, err := h.service.Register(context.Background(), RegisterInput{
			Email:    " Keeper@Example.com",
			Password: "CleanSheet42",
			Name:     "Keeper",
		})
		require.NoError(t, err, "verification failures do not fail registration")
		assert.Equal(t, models.RoleSpectator, resp.Role)
		assert.Equal(t, "keeper@example.com", resp.Email)
		assert.False(t, resp.EmailVerified)
		assert.Equal(t, "keeper@example.com", sentTo)
		assert.Equal(t, 1, h.audit.Count(models.EventRegistered))
	})

	t.Run("weak password", func(t *testing.T) {
		h := newAuthHarness(t)
		_, err := h.service.Register(context.Background(), RegisterInput{Email: "a@b.co", Password: "short", Name: "A"})
		assert.ErrorIs(t, err, pkgauth.ErrWeakPassword)
	})

	t.Run("duplicate email", func(t *testing.T) {
		h := newAuthHarness(t)
		h.users.CreateFunc = func(ctx context.Context, u *models.User) (*models.User, error) {
			return nil, models.ErrConflict
		}
		_, err := h.service.Register(context.Background(), RegisterInput{Email: "a@b.co", Password: "CleanSheet42", Name: "A"})
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}

func TestAuthService_Me(t *testing.T) {
	h := newAuthHarness(t)

	me, err := h.service.Me(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Striker", me.Name)

	_, err = h.service.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuthService_ChangePassword(t *testing.T) {
	claims := NewTokenClaims("user-1", "striker@example.com", models.RoleSpectator)

	t.Run("revokes sessions and journals the change", func(t *testing.T) {
		h := newAuthHarness(t)
		var stored string
		h.users.UpdatePasswordFunc = func(ctx context.Context, id, hash string) error {
			assert.Equal(t, "user-1", id)
			stored = hash
			return nil
		}
		var revokeAllReason string
		h.tokens.RevokeAllForUserFunc = func(ctx context.Context, userID, reason string) (int64, error) {
			revokeAllReason = reason
			return 2, nil
		}
		var revokedJTI string
		h.tokens.RevokeFunc = func(ctx context.Context, jti string, kind models.TokenKind, userID string, expiresAt time.Time, reason string) (*models.RevokedToken, error) {
			revokedJTI = jti
			return &models.RevokedToken{JTI: jti}, nil
		}

		n, err := h.service.ChangePassword(context.Background(), claims, ChangePasswordInput{
			CurrentPassword: testPassword,
			NewPassword:     "Midfielder2027",
			IP:              "198.51.100.20",
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		assert.NoError(t, pkgauth.ComparePassword(stored, "Midfielder2027"))
		assert.Equal(t, "password_changed", revokeAllReason)
		assert.Equal(t, claims.ID, revokedJTI)
		assert.Equal(t, 1, h.audit.Count(models.EventPasswordChanged))
	})

	t.Run("wrong current password", func(t *testing.T) {
		h := newAuthHarness(t)
		h.users.UpdatePasswordFunc = func(ctx context.Context, id, hash string) error {
			t.Fatal("password must not change")
			return nil
		}

		_, err := h.service.ChangePassword(context.Background(), claims, ChangePasswordInput{
			CurrentPassword: "NotMyPassword1",
			NewPassword:     "Midfielder2027",
		})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		assert.Zero(t, h.audit.Count(models.EventPasswordChanged))
	})

	t.Run("weak new password", func(t *testing.T) {
		h := newAuthHarness(t)
		_, err := h.service.ChangePassword(context.Background(), claims, ChangePasswordInput{
			CurrentPassword: testPassword,
			NewPassword:     "short",
		})
		var pwErr *pkgauth.PasswordValidationError
		assert.ErrorAs(t, err, &pwErr)
	})

	t.Run("storage failure", func(t *testing.T) {
		h := newAuthHarness(t)
		h.users.UpdatePasswordFunc = func(ctx context.Context, id, hash string) error {
			return errors.New("connection reset")
		}
		_, err := h.service.ChangePassword(context.Background(), claims, ChangePasswordInput{
			CurrentPassword: testPassword,
			NewPassword:     "Midfielder2027",
		})
		assert.ErrorIs(t, err, models.ErrStorage)
	})

	t.Run("no claims", func(t *testing.T) {
		h := newAuthHarness(t)
		_, err := h.service.ChangePassword(context.Background(), nil, ChangePasswordInput{})
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}
