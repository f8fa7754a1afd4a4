package repositories_test

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/BradenHooton/torneo/internal/database"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/internal/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB is nil when Docker is unavailable or -short is set; every test
// then skips.
var testDB *database.DB

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	flag.Parse()
	if testing.Short() || os.Getenv("SKIP_INTEGRATION") != "" {
		return m.Run()
	}

	ctx := context.Background()
	container, pool, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container unavailable, integration tests skipped: %v\n", err)
		return m.Run()
	}
	defer func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}()

	testDB = database.New(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m.Run()
}

func startPostgres(ctx context.Context) (testcontainers.Container, *pgxpool.Pool, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("torneo"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := database.Migrate(ctx, pool, nil); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	return container, pool, nil
}

// requireDB skips the test without a database and truncates every table.
func requireDB(t *testing.T) *database.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("integration database not available")
	}

	tables := []string{
		"security_events",
		"rate_limit_windows",
		"revoked_tokens",
		"refresh_tokens",
		"account_lockouts",
		"login_failure_resets",
		"login_attempts",
		"email_verification_tokens",
		"users",
	}
	for _, table := range tables {
		_, err := testDB.Pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err, "truncate %s", table)
	}
	return testDB
}

// seedUser inserts a verified, active spectator.
func seedUser(t *testing.T, db *database.DB, email string) *models.User {
	t.Helper()
	user, err := repositories.NewUserRepository(db).Create(context.Background(), &models.User{
		Email:         email,
		PasswordHash:  "$2a$04$placeholderplaceholderplaceholderplaceholderplaceho",
		Name:          "Jugador",
		Active:        true,
		EmailVerified: true,
	})
	require.NoError(t, err)
	return user
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// now is truncated to the precision Postgres stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
