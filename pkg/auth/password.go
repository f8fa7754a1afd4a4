package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt ignores anything beyond 72 bytes
)

// BcryptCost is a variable so tests can lower it.
var BcryptCost = 12

// ErrWeakPassword is returned for any password that fails ValidatePassword.
// The individual rule violations stay in PasswordValidationError.Problems.
var ErrWeakPassword = errors.New("invalid password")

type PasswordValidationError struct {
	Problems []string
}

func (e *PasswordValidationError) Error() string { return ErrWeakPassword.Error() }

func (e *PasswordValidationError) Unwrap() error { return ErrWeakPassword }

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "12345678": {}, "123456789": {},
	"qwerty123": {}, "football": {}, "futbol123": {}, "torneo123": {}, "welcome1": {},
	"letmein1": {}, "iloveyou": {}, "admin123": {}, "passw0rd": {}, "trustno1": {},
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword requires a length in [8, 72] bytes, at least one letter and
// one digit, and rejects well-known passwords.
func ValidatePassword(password string) error {
	var problems []string

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		problems = append(problems, "must contain a letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain a digit")
	}

	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Problems: problems}
	}
	return nil
}
