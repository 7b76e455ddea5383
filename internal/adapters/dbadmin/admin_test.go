package dbadmin

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

func TestSQLiteAdminCreate(t *testing.T) {
	ctx := context.Background()
	admin := NewSQLiteAdmin(domain.ConnectionDescriptor{Driver: domain.DriverSQLite, DataDir: t.TempDir()})

	exists, err := admin.Exists(ctx, "tenant_1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, admin.Create(ctx, "tenant_1"))
	exists, err = admin.Exists(ctx, "tenant_1")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.ErrorIs(t, admin.Create(ctx, "tenant_1"), domain.ErrDatabaseExists)
	assert.ErrorIs(t, admin.Create(ctx, "../escape"), domain.ErrInvalidName)
}

func TestPostgresAdminExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	admin := NewPostgresAdmin(db, "app")
	query := regexp.QuoteMeta("SELECT 1 FROM pg_database WHERE datname = $1")

	mock.ExpectQuery(query).WithArgs("tenant_1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery(query).WithArgs("tenant_2").WillReturnRows(sqlmock.NewRows([]string{"one"}))

	exists, err := admin.Exists(context.Background(), "tenant_1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = admin.Exists(context.Background(), "tenant_2")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdminCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	admin := NewPostgresAdmin(db, "app")
	stmt := regexp.QuoteMeta(`CREATE DATABASE "tenant_3" WITH OWNER "app" ENCODING 'UTF8' TEMPLATE template0`)

	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(stmt).WillReturnError(&pgconn.PgError{Code: duplicateDatabase, Message: `database "tenant_3" already exists`})
	mock.ExpectExec(stmt).WillReturnError(errors.New("permission denied"))

	require.NoError(t, admin.Create(context.Background(), "tenant_3"))
	assert.ErrorIs(t, admin.Create(context.Background(), "tenant_3"), domain.ErrDatabaseExists)

	err = admin.Create(context.Background(), "tenant_3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDatabaseExists)

	assert.ErrorIs(t, admin.Create(context.Background(), `x"; DROP DATABASE main; --`), domain.ErrInvalidName)
	require.NoError(t, mock.ExpectationsWereMet())
}
