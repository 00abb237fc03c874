//go:build integration

// Package pgtest starts a disposable pgvector Postgres for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/postgres"
)

// Image ships the vector extension the schema needs
const Image = "pgvector/pgvector:pg17"

// Start runs a container, applies the schema and returns the pool. The
// container is terminated when the test finishes.
func Start(t *testing.T) *postgres.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, Image,
		tcpostgres.WithDatabase("sercha_ingest_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Connect(ctx, postgres.DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

// Truncate empties every table between subtests
func Truncate(t *testing.T, db *postgres.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`TRUNCATE tasks, locks, embeddings, chunks, error_codes, documents CASCADE`)
	require.NoError(t, err)
}
