package models

import "time"

// RevokedToken is a blacklist entry keyed by jti. It can be garbage-collected
// once ExpiresAt has passed because the token would no longer validate.
type RevokedToken struct {
	ID        string    `db:"id" json:"id"`
	JTI       string    `db:"jti" json:"jti"`
	Kind      TokenKind `db:"token_kind" json:"token_kind"`
	UserID    string    `db:"user_id" json:"user_id"`
	RevokedAt time.Time `db:"revoked_at" json:"revoked_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Reason    string    `db:"reason" json:"reason"`
}
