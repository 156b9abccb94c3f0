package pgtest

import (
	"context"
	_ "embed"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// DatabaseEnv names the variable holding the test database connection string.
const DatabaseEnv = "TEST_DATABASE"

//go:embed testdata/multi_schema.sql
var multiSchemaSQL string

// Enabled reports whether a test database is configured.
func Enabled() bool {
	return os.Getenv(DatabaseEnv) != ""
}

// Connect creates a new database connection for testing
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	t.Helper()
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		Close(t, conn)
	})

	return conn
}

// Close safely closes a database connection
func Close(t testing.TB, conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
}

// ParseConfig returns a test connection config with logging
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	t.Helper()
	config, err := pgx.ParseConfig(os.Getenv(DatabaseEnv))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	return config
}

// SeedMultiSchema recreates the public, personal and private fixture schemas
// and asks PostgREST to reload its schema cache. It runs in one transaction so
// a failed seed leaves the database untouched.
func SeedMultiSchema(ctx context.Context, t testing.TB, conn *pgx.Conn) {
	t.Helper()
	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// simple protocol: the script holds several statements
	_, err = tx.Exec(ctx, multiSchemaSQL, pgx.QueryExecModeSimpleProtocol)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

// UserStatus reads a user's status directly from the database.
func UserStatus(ctx context.Context, t testing.TB, conn *pgx.Conn, schema, username string) string {
	t.Helper()
	var status string
	err := conn.QueryRow(ctx,
		"SELECT status::text FROM "+pgx.Identifier{schema, "users"}.Sanitize()+" WHERE username = $1",
		username,
	).Scan(&status)
	require.NoError(t, err)
	return status
}
