package models

import "time"

// FailureReason explains why a login attempt failed. It is recorded for audit
// purposes and never returned to the caller.
type FailureReason string

const (
	FailureEmailNotFound   FailureReason = "email_not_found"
	FailureWrongPassword   FailureReason = "wrong_password"
	FailureAccountLocked   FailureReason = "account_locked"
	FailureAccountInactive FailureReason = "account_inactive"
	FailureEmailUnverified FailureReason = "email_unverified"
)

// LoginAttempt represents a single login attempt. Rows are never updated.
type LoginAttempt struct {
	ID            string         `db:"id" json:"id"`
	Identity      string         `db:"identity" json:"identity"`
	IPAddress     string         `db:"ip_address" json:"ip_address"`
	UserAgent     string         `db:"user_agent" json:"user_agent"`
	Success       bool           `db:"success" json:"success"`
	FailureReason *FailureReason `db:"failure_reason" json:"failure_reason,omitempty"`
	AttemptedAt   time.Time      `db:"attempted_at" json:"attempted_at"`
}
