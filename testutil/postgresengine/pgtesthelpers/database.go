package pgtesthelpers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/AntonStoeckl/dcb-eventstore-go/testutil/postgresengine/config"
)

const (
	containerImage    = "postgres:17-alpine"
	containerUser     = "test"
	containerPassword = "test"
	containerDatabase = "eventstore"
)

// Database is the Postgres instance shared by the tests of one package.
type Database struct {
	DSN       string
	container testcontainers.Container
}

// Start resolves the test database. A Database with an empty DSN means no Postgres is available.
func Start(ctx context.Context) (*Database, error) {
	if dsn := config.PostgresTestDSN(); dsn != "" {
		return &Database{DSN: dsn}, nil
	}

	if !config.TestcontainersEnabled() {
		return &Database{}, nil
	}

	req := testcontainers.ContainerRequest{
		Image:        containerImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     containerUser,
			"POSTGRES_PASSWORD": containerPassword,
			"POSTGRES_DB":       containerDatabase,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("pgtesthelpers: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("pgtesthelpers: container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("pgtesthelpers: container port: %w", err)
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		containerUser, containerPassword, host, port.Port(), containerDatabase,
	)

	return &Database{DSN: dsn, container: container}, nil
}

// Terminate stops and removes the container, if one was started.
func (d *Database) Terminate() {
	if d.container != nil {
		_ = d.container.Terminate(context.Background())
	}
}

// RequireAvailable skips the test when no Postgres is configured.
func (d *Database) RequireAvailable(t testing.TB) {
	t.Helper()

	if d == nil || d.DSN == "" {
		t.Skipf("no test database: set %s or %s=1", config.EnvPostgresDSN, config.EnvTestcontainers)
	}
}

// NewPGXPool opens a pool that is closed on test cleanup.
func (d *Database) NewPGXPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	d.RequireAvailable(t)

	poolConfig, err := config.PostgresPGXPoolTestConfig(d.DSN)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// Tables are the uniquely named tables of one test.
type Tables struct {
	Events    string
	Bookmarks string
}

// UniqueTables returns fresh table names and drops the tables on test cleanup.
func (d *Database) UniqueTables(t testing.TB) Tables {
	t.Helper()
	d.RequireAvailable(t)

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	tables := Tables{
		Events:    "events_" + suffix,
		Bookmarks: "bookmarks_" + suffix,
	}

	t.Cleanup(func() {
		conn, err := pgx.Connect(context.Background(), d.DSN)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(context.Background()) }()

		_, _ = conn.Exec(
			context.Background(),
			"DROP TABLE IF EXISTS "+pgx.Identifier{tables.Events}.Sanitize()+", "+pgx.Identifier{tables.Bookmarks}.Sanitize(),
		)
	})

	return tables
}
