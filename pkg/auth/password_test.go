package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	BcryptCost = bcrypt.MinCost
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{"letters and digits", "goleador9", false},
		{"with symbols", "Capitan#10", false},
		{"too short", "ab1", true},
		{"too long", strings.Repeat("a1", 40), true},
		{"no digit", "mediocampista", true},
		{"no letter", "1234567890", true},
		{"common password", "Football", true},
		{"common with digits", "torneo123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if !tt.shouldFail {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrWeakPassword))
			assert.Equal(t, "invalid password", err.Error())

			var pve *PasswordValidationError
			require.ErrorAs(t, err, &pve)
			assert.NotEmpty(t, pve.Problems)
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("arquero22")
	require.NoError(t, err)
	assert.NotEqual(t, "arquero22", hash)

	assert.NoError(t, ComparePassword(hash, "arquero22"))
	assert.Error(t, ComparePassword(hash, "arquero23"))

	_, err = HashPassword("")
	assert.Error(t, err)
}
