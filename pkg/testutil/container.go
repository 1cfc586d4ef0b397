// Package testutil provides testing utilities for KitchenFlow services:
// a shared PostgreSQL testcontainer, sqlmock wrappers, a recording event
// publisher, HTTP helpers and capture fixtures.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "kitchenflow_capture_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	defaults := DefaultPostgresConfig()
	if cfg.Image == "" {
		cfg.Image = defaults.Image
	}
	if cfg.Database == "" {
		cfg.Database = defaults.Database
	}
	if cfg.Username == "" {
		cfg.Username = defaults.Username
	}
	if cfg.Password == "" {
		cfg.Password = defaults.Password
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

var (
	// shared across all integration tests of a package
	sharedContainer *PostgresContainer
	containerOnce   sync.Once
	containerErr    error
)

// NewPostgresDB returns a connection to the package-wide test container,
// starting it on first use. The test is skipped under -short.
func NewPostgresDB(t *testing.T) *database.DB {
	t.Helper()
	SkipIfShort(t)

	ctx := context.Background()
	containerOnce.Do(func() {
		sharedContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
	})
	if containerErr != nil {
		t.Fatalf("postgres container: %v", containerErr)
	}

	db, err := database.NewWithDSN(sharedContainer.DSN, logger.Nop())
	if err != nil {
		t.Fatalf("connect to postgres container: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TerminateContainer stops the shared container; call it from TestMain.
func TerminateContainer(ctx context.Context) {
	if sharedContainer != nil {
		sharedContainer.Terminate(ctx)
	}
}
