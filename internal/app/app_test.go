package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
)

func sqliteConfig(t *testing.T) Config {
	return Config{
		Addr:                 "127.0.0.1:0",
		DB:                   domain.ConnectionDescriptor{Driver: domain.DriverSQLite, DataDir: t.TempDir(), Database: "main"},
		TenantDBPrefix:       "tenant_",
		AggregateConcurrency: 2,
		ReconcileInterval:    time.Hour,
		LogLevel:             "debug",
		BootstrapAPIKey:      "boot-key",
		BootstrapUser:        "admin",
		BootstrapTenant:      "Default",
	}
}

func TestConfigValidate(t *testing.T) {
	valid := sqliteConfig(t)
	require.NoError(t, valid.Validate())

	tests := map[string]func(*Config){
		"unknown driver":        func(c *Config) { c.DB.Driver = "mysql" },
		"sqlite without dir":    func(c *Config) { c.DB.DataDir = "" },
		"bad db name":           func(c *Config) { c.DB.Database = "Main-DB" },
		"bad prefix":            func(c *Config) { c.TenantDBPrefix = "9x" },
		"postgres without host": func(c *Config) { c.DB.Driver = domain.DriverPostgres },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewServerBootstrapsTenantAndUser(t *testing.T) {
	cfg := sqliteConfig(t)
	server, closer, err := NewServer(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, closer.Close()) })

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("X-API-Key", "boot-key")
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "admin", me["username"])
	assert.Equal(t, true, me["staff"])
	assert.EqualValues(t, 1, me["default_tenant"])

	req = httptest.NewRequest(http.MethodGet, "/v1/tenants/1", nil)
	req.Header.Set("X-API-Key", "boot-key")
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tenant map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenant))
	assert.Equal(t, "ready", tenant["status"])
	assert.Equal(t, "tenant_1", tenant["database_name"])
}

func TestBootstrapIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)
	for i := 0; i < 2; i++ {
		_, closer, err := NewServer(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, closer.Close())
	}

	rt, err := Build(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rt.Close()

	tenants, err := rt.Directory.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenants, 1)
}

func TestFleetMigrationThroughRuntime(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.BootstrapAPIKey = ""
	rt, err := Build(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rt.Close()
	ctx := context.Background()

	require.NoError(t, rt.MigrateShared(ctx))
	for _, name := range []string{"Alpha", "Beta"} {
		_, err := rt.Directory.Create(ctx, name, rt.Registry.DatabaseNameFor)
		require.NoError(t, err)
	}

	report, err := rt.Migrator.Run(ctx, usecase.MigrateOptions{Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, report.Tenants, 2)
	for _, tm := range report.Tenants {
		assert.Equal(t, usecase.ActionCreated, tm.Action)
	}

	report, err = rt.Migrator.Run(ctx, usecase.MigrateOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.Zero(t, report.SharedApplied)
	for _, tm := range report.Tenants {
		assert.Equal(t, usecase.ActionUpToDate, tm.Action)
	}

	report, err = rt.Migrator.Run(ctx, usecase.MigrateOptions{SkipMigrated: true, SkipDefault: true})
	require.NoError(t, err)
	assert.True(t, report.SharedSkipped)
	for _, tm := range report.Tenants {
		assert.Equal(t, usecase.ActionSkipped, tm.Action)
	}
}
