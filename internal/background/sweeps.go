package background

import (
	"context"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
)

type tokenCleaner interface {
	CleanupExpired(ctx context.Context) (auth.CleanupStats, error)
}

type purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

type cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

type lapseCloser interface {
	CloseLapsed(ctx context.Context) (int64, error)
}

// TokenSweep removes expired blacklist entries and dead refresh tokens.
func TokenSweep(tokens tokenCleaner) Sweep {
	return Sweep{Name: "tokens", Run: func(ctx context.Context) (int64, error) {
		stats, err := tokens.CleanupExpired(ctx)
		return stats.RevokedTokens + stats.RefreshTokens, err
	}}
}

// RetentionSweep drops rows older than retention from a purgeable store.
func RetentionSweep(name string, p purger, retention time.Duration) Sweep {
	return Sweep{Name: name, Run: func(ctx context.Context) (int64, error) {
		return p.Purge(ctx, retention)
	}}
}

// VerificationSweep deletes expired email verification tokens.
func VerificationSweep(c cleaner) Sweep {
	return Sweep{Name: "email_verification", Run: c.Cleanup}
}

// LockoutSweep deactivates lockouts whose lock period has passed.
func LockoutSweep(c lapseCloser) Sweep {
	return Sweep{Name: "lockouts", Run: c.CloseLapsed}
}
