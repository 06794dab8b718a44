package clickhouse

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaGlob matches the embedded migrations. They are read from disk
// because the migrations package imports this one.
const schemaGlob = "../migrations/clickhouse/*.sql"

// setupTestDB starts a disposable ClickHouse with database "feeds", applies
// the schema and returns a connection plus a cleanup func. Skipped with -short.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping clickhouse container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_DB": "feeds"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(time.Minute),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	terminate := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, "clickhouse://default@"+net.JoinHostPort(host, port.Port())+"/feeds")
	if err != nil {
		terminate()
		require.NoError(t, err, "connect")
	}

	files, err := filepath.Glob(schemaGlob)
	require.NoError(t, err)
	require.NotEmpty(t, files, "no schema files match %s", schemaGlob)
	for _, f := range files {
		sql, err := os.ReadFile(f)
		require.NoError(t, err)
		// Schema files hold one statement each; the native protocol takes one per Exec.
		stmt := strings.TrimSuffix(strings.TrimSpace(string(sql)), ";")
		require.NoError(t, conn.Exec(ctx, stmt), "apply %s", filepath.Base(f))
	}

	return conn, func() {
		_ = conn.Close()
		terminate()
	}
}
