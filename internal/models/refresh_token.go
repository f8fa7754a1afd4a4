package models

import "time"

// RefreshToken is the server-side record of an opaque refresh credential.
// Only the SHA-256 hash of the secret is stored.
type RefreshToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	IPAddress string     `db:"ip_address"`
	UserAgent string     `db:"user_agent"`
	IsRevoked bool       `db:"is_revoked"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// IsValid reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}
