package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	UnlockCodeDigits  = 6
	RefreshTokenBytes = 48 // 384 bits
)

var unlockCodeSpace = big.NewInt(1_000_000)

// UnlockCode returns a six-digit code drawn uniformly from 000000-999999.
func UnlockCode() (string, error) {
	n, err := rand.Int(rand.Reader, unlockCodeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate unlock code: %w", err)
	}
	return fmt.Sprintf("%0*d", UnlockCodeDigits, n.Int64()), nil
}

// OpaqueToken returns size random bytes, base64 raw-URL encoded.
func OpaqueToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest stored in place of an opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
