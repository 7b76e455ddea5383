package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mig.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpIsIdempotentPerScope(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	applied, err := Up(ctx, db, "sqlite", Shared)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = Up(ctx, db, "sqlite", Tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, applied, "tenant set is tracked separately")

	for _, scope := range []Scope{Shared, Tenant} {
		applied, err = Up(ctx, db, "sqlite", scope)
		require.NoError(t, err)
		assert.Zero(t, applied)

		pending, err := HasPending(ctx, db, "sqlite", scope)
		require.NoError(t, err)
		assert.False(t, pending)
	}

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tenant_schema_version`).Scan(&n))
	assert.Positive(t, n)
}

func TestHasPendingOnFreshDatabase(t *testing.T) {
	pending, err := HasPending(context.Background(), openSQLite(t), "sqlite", Tenant)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestUnknownDriver(t *testing.T) {
	_, err := NewProvider(openSQLite(t), "oracle", Tenant)
	assert.Error(t, err)
}
