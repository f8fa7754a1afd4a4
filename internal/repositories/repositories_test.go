package repositories_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/repositories"
	"github.com/BradenHooton/torneo/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateConflictAndLookup(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewUserRepository(db)
	ctx := context.Background()

	user := seedUser(t, db, "Capitan@Club.com")
	assert.Equal(t, "capitan@club.com", user.Email)
	assert.Equal(t, models.RoleSpectator, user.Role)

	_, err := repo.Create(ctx, &models.User{Email: "capitan@club.com", PasswordHash: "x", Name: "Dup", Active: true})
	assert.ErrorIs(t, err, models.ErrConflict)

	found, err := repo.GetByEmail(ctx, "CAPITAN@club.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrNotFound)

	at := now()
	require.NoError(t, repo.RecordLogin(ctx, user.ID, at, "203.0.113.1"))
	require.NoError(t, repo.MarkEmailVerified(ctx, user.ID))
	found, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastLoginAt)
	assert.True(t, found.LastLoginAt.Equal(at))
}

func TestLoginAttemptRepository_CountAndReset(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewLoginAttemptRepository(db)
	ctx := context.Background()
	reason := models.FailureWrongPassword
	start := now()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &models.LoginAttempt{
			Identity:      "p@club.com",
			Success:       false,
			FailureReason: &reason,
			AttemptedAt:   start.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	n, err := repo.CountFailuresSince(ctx, "p@club.com", start.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, repo.MarkReset(ctx, "p@club.com", start.Add(10*time.Second)))
	n, err = repo.CountFailuresSince(ctx, "p@club.com", start.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	deleted, err := repo.DeleteBefore(ctx, start.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestAccountLockoutRepository_SingleActiveUnderRace(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewAccountLockoutRepository(db)
	user := seedUser(t, db, "race@club.com")
	at := now()

	const workers = 10
	var created atomic.Int32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, ok, err := repo.Create(context.Background(), &models.AccountLockout{
				AccountID:           user.ID,
				LockedAt:            at,
				LockedUntil:         at.Add(10 * time.Minute),
				Reason:              models.LockoutTooManyFailures,
				UnlockCode:          "123456",
				UnlockCodeExpiresAt: at.Add(15 * time.Minute),
			})
			if err == nil {
				ids[i] = l.ID
				if ok {
					created.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every caller sees the same active lockout")
	}

	var active int
	require.NoError(t, db.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM account_lockouts WHERE account_id = $1 AND is_active`, user.ID).Scan(&active))
	assert.Equal(t, 1, active)
}

func TestAccountLockoutRepository_DeactivateOnce(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewAccountLockoutRepository(db)
	ctx := context.Background()
	user := seedUser(t, db, "once@club.com")
	at := now()

	l, created, err := repo.Create(ctx, &models.AccountLockout{
		AccountID:           user.ID,
		LockedAt:            at,
		LockedUntil:         at.Add(10 * time.Minute),
		Reason:              models.LockoutTooManyFailures,
		UnlockCode:          "654321",
		UnlockCodeExpiresAt: at.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, created)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Deactivate(context.Background(), l.ID, now()) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err = repo.GetActive(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	history, err := repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].UnlockedAt)
}

func TestAccountLockoutRepository_LapsedReplacedAndClosed(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewAccountLockoutRepository(db)
	ctx := context.Background()
	user := seedUser(t, db, "lapsed@club.com")
	past := now().Add(-time.Hour)

	first, created, err := repo.Create(ctx, &models.AccountLockout{
		AccountID:           user.ID,
		LockedAt:            past,
		LockedUntil:         past.Add(10 * time.Minute),
		Reason:              models.LockoutTooManyFailures,
		UnlockCode:          "111111",
		UnlockCodeExpiresAt: past.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, created)

	at := now()
	second, created, err := repo.Create(ctx, &models.AccountLockout{
		AccountID:           user.ID,
		LockedAt:            at,
		LockedUntil:         at.Add(10 * time.Minute),
		Reason:              models.LockoutTooManyFailures,
		UnlockCode:          "222222",
		UnlockCodeExpiresAt: at.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	history, err := repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[1].ID)
	require.NotNil(t, history[1].UnlockedAt)
	assert.True(t, history[1].UnlockedAt.Equal(at))

	sweepAt := at.Add(time.Hour)
	closed, err := repo.DeactivateLapsed(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	history, err = repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.False(t, history[0].IsActive)
	require.NotNil(t, history[0].UnlockedAt)
	assert.True(t, history[0].UnlockedAt.Equal(sweepAt))
}

func TestRateLimiter_ConcurrentRequestsAgainstPostgres(t *testing.T) {
	db := requireDB(t)
	limiter := services.NewRateLimiter(repositories.NewRateLimitRepository(db), map[string]models.RateLimitPolicy{
		services.EndpointLogin: {MaxRequests: 10, Window: 15 * time.Minute, Ban: 30 * time.Minute},
	}, discardLogger())

	const requests = 50
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check(context.Background(), "ip:198.51.100.1", services.EndpointLogin).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())

	windows, err := limiter.Stats(context.Background(), "ip:198.51.100.1")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.NotNil(t, windows[0].BlockedUntil)
	assert.False(t, windows[0].WindowEnd.Before(*windows[0].BlockedUntil), "ban must not outlive the window")

	cleared, err := limiter.Reset(context.Background(), "ip:198.51.100.1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
	assert.True(t, limiter.Check(context.Background(), "ip:198.51.100.1", services.EndpointLogin).Allowed)
}

func TestTokenRevocationRepository_Idempotent(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewTokenRevocationRepository(db)
	ctx := context.Background()
	jti := uuid.NewString()
	at := now()

	first, err := repo.RevokeToken(ctx, &models.RevokedToken{
		JTI: jti, Kind: models.TokenKindAccess, UserID: uuid.NewString(),
		RevokedAt: at, ExpiresAt: at.Add(15 * time.Minute), Reason: "logout",
	})
	require.NoError(t, err)

	second, err := repo.RevokeToken(ctx, &models.RevokedToken{
		JTI: jti, Kind: models.TokenKindAccess, UserID: first.UserID,
		RevokedAt: at.Add(time.Minute), ExpiresAt: at.Add(15 * time.Minute), Reason: "logout_all",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "logout", second.Reason)

	revoked, err := repo.IsTokenRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	removed, err := repo.CleanupExpiredTokens(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSecurityEventRepository_FeedAndRetention(t *testing.T) {
	db := requireDB(t)
	repo := repositories.NewSecurityEventRepository(db)
	ctx := context.Background()
	user := seedUser(t, db, "journal@club.com")
	old := now().Add(-100 * 24 * time.Hour)

	require.NoError(t, repo.Create(ctx, &models.SecurityEvent{
		Kind: models.EventLoginFailed, UserID: &user.ID,
		Detail: models.EventDetail{"reason": "wrong_password"}, CreatedAt: old,
	}))
	require.NoError(t, repo.Create(ctx, &models.SecurityEvent{
		Kind: models.EventLoginFailed, UserID: &user.ID,
		Detail: models.EventDetail{"reason": "wrong_password"}, CreatedAt: now(),
	}))

	recent, err := repo.ListByKindSince(ctx, models.EventLoginFailed, now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "wrong_password", recent[0].Detail["reason"])

	purged, err := repo.DeleteBefore(ctx, now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
