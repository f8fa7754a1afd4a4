package models

import "time"

// LockoutReason records what triggered a lock episode.
type LockoutReason string

const (
	LockoutTooManyFailures    LockoutReason = "too_many_failures"
	LockoutSuspiciousActivity LockoutReason = "suspicious_activity"
)

// AccountLockout is one lock episode for one account. At most one row per
// account has IsActive set; superseded rows stay for the audit trail.
type AccountLockout struct {
	ID                  string        `db:"id" json:"id"`
	AccountID           string        `db:"account_id" json:"account_id"`
	LockedAt            time.Time     `db:"locked_at" json:"locked_at"`
	LockedUntil         time.Time     `db:"locked_until" json:"locked_until"`
	Reason              LockoutReason `db:"reason" json:"reason"`
	UnlockCode          string        `db:"unlock_code" json:"-"`
	UnlockCodeExpiresAt time.Time     `db:"unlock_code_expires_at" json:"unlock_code_expires_at"`
	IsActive            bool          `db:"is_active" json:"is_active"`
	UnlockedAt          *time.Time    `db:"unlocked_at" json:"unlocked_at,omitempty"`
}

// InForce reports whether the lockout still blocks logins at now. IsActive
// alone is not enough: an expired lock may never have been closed.
func (l *AccountLockout) InForce(now time.Time) bool {
	return l.IsActive && now.Before(l.LockedUntil)
}

// CodeUsable reports whether the unlock code can still be redeemed at now.
func (l *AccountLockout) CodeUsable(now time.Time) bool {
	return l.IsActive && now.Before(l.UnlockCodeExpiresAt)
}
