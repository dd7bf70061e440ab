// Package pgtest starts a throwaway PostgreSQL container for repository
// tests and hands out migrated, per-test databases.
package pgtest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-portal/pkg/migrations"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container is a running PostgreSQL instance.
type Container struct {
	container *tcpostgres.PostgresContainer
	connStr   string
}

var dbCounter atomic.Int64

// Run starts the container. Call it from TestMain, after flag.Parse, and
// skip it under -short.
func Run(ctx context.Context) (*Container, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("portal_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}
	return &Container{container: container, connStr: connStr}, nil
}

// Terminate stops the container.
func (c *Container) Terminate(ctx context.Context) {
	if err := c.container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
}

// FreshPool creates a new database, applies every migration and returns a
// pool connected to it. The database is dropped when t finishes.
func (c *Container) FreshPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	dbName := fmt.Sprintf("test_%d_%d", time.Now().UnixNano(), dbCounter.Add(1))

	admin, err := pgxpool.New(ctx, c.connStr)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)

	connStr, err := withDatabase(c.connStr, dbName)
	require.NoError(t, err)

	mg, err := migrations.NewMigrator(connStr, nil)
	require.NoError(t, err)
	require.NoError(t, mg.Up())
	require.NoError(t, mg.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(ctx, "DROP DATABASE "+dbName+" WITH (FORCE)")
		admin.Close()
	})
	return pool
}

// ConnString returns the URL of a fresh, unmigrated database.
func (c *Container) ConnString(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	dbName := fmt.Sprintf("raw_%d_%d", time.Now().UnixNano(), dbCounter.Add(1))
	admin, err := pgxpool.New(ctx, c.connStr)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(ctx, "DROP DATABASE "+dbName+" WITH (FORCE)")
		admin.Close()
	})

	connStr, err := withDatabase(c.connStr, dbName)
	require.NoError(t, err)
	return connStr
}

func withDatabase(connStr, dbName string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
