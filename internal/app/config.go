package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type Config struct {
	Addr string

	// DB is the base descriptor. It addresses the shared store; tenant
	// descriptors are derived from it by swapping the database name.
	DB             domain.ConnectionDescriptor
	AdminDB        string
	TenantDBPrefix string

	AggregateConcurrency int
	ReconcileInterval    time.Duration

	WebhookURL    string
	WebhookSecret string

	LogLevel string

	BootstrapAPIKey string
	BootstrapUser   string
	BootstrapTenant string
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case domain.DriverSQLite:
		if c.DB.DataDir == "" {
			return errors.New("data dir is required for sqlite")
		}
	case domain.DriverPostgres:
		if c.DB.Host == "" {
			return errors.New("db host is required for postgres")
		}
		if c.AdminDB == "" {
			return errors.New("admin db is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	if err := domain.ValidateDatabaseName(c.DB.Database); err != nil {
		return fmt.Errorf("db name: %w", err)
	}
	if err := domain.ValidateDatabaseName(c.TenantDBPrefix + "1"); err != nil {
		return fmt.Errorf("tenant db prefix: %w", err)
	}
	return nil
}
