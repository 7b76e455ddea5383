package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/pressly/goose/v3/lock"
)

//go:embed files
var migrationFS embed.FS

// Scope selects a migration set. The shared store runs both sets, each
// tracked in its own version table.
type Scope string

const (
	Shared Scope = "shared"
	Tenant Scope = "tenant"
)

const (
	sharedVersionTable = "goose_db_version"
	tenantVersionTable = "tenant_schema_version"
)

func dialectFor(driver string) (database.Dialect, error) {
	switch driver {
	case "sqlite", "":
		return database.DialectSQLite3, nil
	case "postgres":
		return database.DialectPostgres, nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

func NewProvider(db *sql.DB, driver string, scope Scope) (*goose.Provider, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	dir, table := "files/tenant", tenantVersionTable
	if scope == Shared {
		dir, table = "files/shared/"+string(dialect), sharedVersionTable
	}
	fsys, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("migration files %s: %w", dir, err)
	}

	store, err := database.NewStore(dialect, table)
	if err != nil {
		return nil, fmt.Errorf("goose store: %w", err)
	}
	opts := []goose.ProviderOption{goose.WithStore(store)}
	if dialect == database.DialectPostgres {
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("goose session locker: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	}

	provider, err := goose.NewProvider("", db, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Up applies pending migrations of scope and returns how many ran.
func Up(ctx context.Context, db *sql.DB, driver string, scope Scope) (int, error) {
	provider, err := NewProvider(db, driver, scope)
	if err != nil {
		return 0, err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("run %s migrations: %w", scope, err)
	}
	return len(results), nil
}

func HasPending(ctx context.Context, db *sql.DB, driver string, scope Scope) (bool, error) {
	provider, err := NewProvider(db, driver, scope)
	if err != nil {
		return false, err
	}
	pending, err := provider.HasPending(ctx)
	if err != nil {
		return false, fmt.Errorf("check %s migrations: %w", scope, err)
	}
	return pending, nil
}
