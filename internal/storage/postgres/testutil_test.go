package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaGlob matches the embedded migrations. They are read from disk
// because the migrations package imports this one.
const schemaGlob = "../migrations/postgres/*.sql"

// setupTestDB starts a disposable PostgreSQL, applies the schema and returns
// a pool plus a cleanup func. Skipped with -short.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("feeds"),
		tcpostgres.WithUsername("feeds"),
		tcpostgres.WithPassword("feeds"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres container")

	terminate := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		require.NoError(t, err, "connection string")
	}

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		terminate()
		require.NoError(t, err, "connect")
	}

	files, err := filepath.Glob(schemaGlob)
	require.NoError(t, err)
	require.NotEmpty(t, files, "no schema files match %s", schemaGlob)
	for _, f := range files { // Glob returns lexical order
		sql, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "apply %s", filepath.Base(f))
	}

	return pool, func() {
		pool.Close()
		terminate()
	}
}
