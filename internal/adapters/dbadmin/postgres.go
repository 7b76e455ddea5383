package dbadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

const duplicateDatabase = "42P04"

// PostgresAdmin issues CREATE DATABASE through a maintenance database
// connection, never through a tenant connection.
type PostgresAdmin struct {
	db    *sql.DB
	owner string
}

func NewPostgresAdmin(db *sql.DB, owner string) *PostgresAdmin {
	return &PostgresAdmin{db: db, owner: owner}
}

// OpenPostgresAdmin connects to adminDB on the server described by base.
func OpenPostgresAdmin(base domain.ConnectionDescriptor, adminDB string) (*PostgresAdmin, error) {
	if adminDB == "" {
		adminDB = "postgres"
	}
	db, err := sql.Open("pgx", gormdb.PostgresDSN(base.WithDatabase(adminDB)))
	if err != nil {
		return nil, fmt.Errorf("open admin database: %w", err)
	}
	db.SetMaxOpenConns(2)
	return NewPostgresAdmin(db, base.User), nil
}

func (a *PostgresAdmin) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := a.db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return true, nil
}

func (a *PostgresAdmin) Create(ctx context.Context, name string) error {
	if err := domain.ValidateDatabaseName(name); err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())
	if a.owner != "" {
		stmt += " WITH OWNER " + pgx.Identifier{a.owner}.Sanitize()
	}
	stmt += " ENCODING 'UTF8' TEMPLATE template0"

	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateDatabase {
			return domain.ErrDatabaseExists
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

func (a *PostgresAdmin) Close() error {
	return a.db.Close()
}
