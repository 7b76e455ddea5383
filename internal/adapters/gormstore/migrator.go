package gormstore

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/migrations"
)

// TenantMigrator applies the tenant schema to a tenant database.
type TenantMigrator struct{}

func (TenantMigrator) Pending(ctx context.Context, db *gormdb.DB) (bool, error) {
	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		return false, err
	}
	return migrations.HasPending(ctx, sqlDB, db.Driver, migrations.Tenant)
}

func (TenantMigrator) Up(ctx context.Context, db *gormdb.DB) (int, error) {
	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		return 0, err
	}
	return migrations.Up(ctx, sqlDB, db.Driver, migrations.Tenant)
}

// SharedMigrator migrates the shared store: the directory schema plus the
// tenant schema, since shared and unfiltered selections read tenant-scoped
// entities from it.
type SharedMigrator struct {
	DB *gormdb.DB
}

func (m SharedMigrator) MigrateShared(ctx context.Context) (int, error) {
	sqlDB, err := m.DB.WriteSQLDB()
	if err != nil {
		return 0, err
	}
	shared, err := migrations.Up(ctx, sqlDB, m.DB.Driver, migrations.Shared)
	if err != nil {
		return shared, err
	}
	tenant, err := migrations.Up(ctx, sqlDB, m.DB.Driver, migrations.Tenant)
	if err != nil {
		return shared + tenant, fmt.Errorf("tenant schema on shared store: %w", err)
	}
	return shared + tenant, nil
}
