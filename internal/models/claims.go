package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access and refresh credentials.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the payload of a signed access token. Role and Name are a
// snapshot taken when the token was issued.
type TokenClaims struct {
	Kind   TokenKind `json:"kind"`
	UserID string    `json:"uid"`
	Email  string    `json:"email"`
	Name   string    `json:"name,omitempty"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}
