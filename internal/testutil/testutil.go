// Package testutil starts the Postgres that the storage, mediator, bus and
// saksbehandling tests run against. Each of those packages starts one
// container in TestMain and shares the migrated database between its tests;
// tests isolate themselves by using fresh vedtaksperiode and person ids
// rather than truncating tables.
//
// The workflow engine depends on LISTEN/NOTIFY, so the container is plain
// Postgres reached directly, never through a pooler.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/migrations"
)

// TestContainer is a running Postgres and the DSN of its spesialist database.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts Postgres 17 with a spesialist database and exits
// the test binary when Docker is unavailable. The image logs readiness twice
// because initdb restarts the server once.
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "spesialist",
			"POSTGRES_PASSWORD": "spesialist",
			"POSTGRES_DB":       "spesialist",
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
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://spesialist:spesialist@%s:%s/spesialist?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB connects and applies the embedded schema. The pool and the
// notify connection share the DSN so bus tests see their own NOTIFYs.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate removes the container. Close any DB from NewTestDB first.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger logs warnings and errors to stderr so that rejected operations
// and retries show up in failing test output.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
