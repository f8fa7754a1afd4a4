package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", pgx.ErrNoRows, models.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("query: %w", pgx.ErrNoRows), models.ErrNotFound},
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, models.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, models.ErrBadRequest},
		{"not null", &pgconn.PgError{Code: pgerrcode.NotNullViolation}, models.ErrBadRequest},
		{"other pg", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, models.ErrStorage},
		{"plain", errors.New("connection reset"), models.ErrStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapPostgresError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "uq_account_lockouts_active",
	})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "uq_account_lockouts_active"))
	assert.False(t, IsUniqueViolation(err, "uq_rate_limit_current"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}
