package dbadmin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// SQLiteAdmin treats every file in the data directory as one database.
type SQLiteAdmin struct {
	base domain.ConnectionDescriptor
}

func NewSQLiteAdmin(base domain.ConnectionDescriptor) *SQLiteAdmin {
	return &SQLiteAdmin{base: base}
}

func (a *SQLiteAdmin) Exists(_ context.Context, name string) (bool, error) {
	if err := domain.ValidateDatabaseName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(gormdb.SQLitePath(a.base.WithDatabase(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat database %s: %w", name, err)
	}
	return true, nil
}

func (a *SQLiteAdmin) Create(_ context.Context, name string) error {
	if err := domain.ValidateDatabaseName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(a.base.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(gormdb.SQLitePath(a.base.WithDatabase(name)), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return domain.ErrDatabaseExists
	}
	if err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return f.Close()
}
