package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/dbadmin"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/events"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type resourceCloser struct {
	closers []io.Closer
}

// Close closes in order and reports every failure.
func (r resourceCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Runtime holds the wired services shared by the server and the CLI
// commands.
type Runtime struct {
	Config Config
	Logger *zap.Logger

	Shared    *gormdb.DB
	Registry  *tenancy.Registry[*gormdb.DB]
	Router    *tenancy.Router[*gormdb.DB]
	Directory *gormstore.TenantDirectory
	Users     *gormstore.UserRepository

	Provisioner *usecase.Provisioner[*gormdb.DB]
	Aggregator  *usecase.Aggregator
	Auth        *usecase.AuthService
	Tenants     *usecase.TenantService
	Records     *usecase.RecordService
	Schemas     *usecase.SchemaService
	Reports     *usecase.ReportService
	Migrator    *usecase.FleetMigrator

	Metrics    *metrics.Collector
	Prometheus *prometheus.Registry

	closers []io.Closer
}

// Build opens the shared store and wires every service. It does not run
// migrations; callers decide when the shared schema is applied.
func Build(cfg Config, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	shared, err := gormdb.Open(cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("open shared store: %w", err)
	}

	admin, adminCloser, err := newAdmin(cfg)
	if err != nil {
		_ = shared.Close()
		return nil, err
	}

	m := metrics.NewCollector()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := tenancy.NewRegistry(cfg.DB, cfg.TenantDBPrefix, shared)
	router := tenancy.NewRouter(reg)
	directory := gormstore.NewTenantDirectory(router)
	users := gormstore.NewUserRepository(router)

	prov := usecase.NewProvisioner(usecase.ProvisionerConfig[*gormdb.DB]{
		Registry:  reg,
		Admin:     admin,
		Connector: gormdb.Connector{Logger: logger},
		Migrator:  gormstore.TenantMigrator{},
		Directory: directory,
		Publisher: newPublisher(cfg, logger),
		Metrics:   m,
		Logger:    logger,
	})
	aggregator := usecase.NewAggregator(directory, prov, cfg.AggregateConcurrency, m, logger)
	schemas := usecase.NewSchemaService(gormstore.NewSchemaRepository(router), router)
	records := usecase.NewRecordService(gormstore.NewRecordRepository(router), schemas)

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Shared:      shared,
		Registry:    reg,
		Router:      router,
		Directory:   directory,
		Users:       users,
		Provisioner: prov,
		Aggregator:  aggregator,
		Auth:        usecase.NewAuthService(users),
		Tenants:     usecase.NewTenantService(directory, users, reg, prov, m, logger),
		Records:     records,
		Schemas:     schemas,
		Reports:     usecase.NewReportService(aggregator, records),
		Migrator:    usecase.NewFleetMigrator(gormstore.SharedMigrator{DB: shared}, directory, prov, aggregator, logger),
		Metrics:     m,
		Prometheus:  promReg,
		// Tenant handles go before the shared store they were derived from.
		closers: []io.Closer{reg, adminCloser, shared},
	}, nil
}

func (rt *Runtime) Close() error {
	return resourceCloser{closers: rt.closers}.Close()
}

// MigrateShared applies the shared store schema.
func (rt *Runtime) MigrateShared(ctx context.Context) error {
	applied, err := gormstore.SharedMigrator{DB: rt.Shared}.MigrateShared(ctx)
	if err != nil {
		return fmt.Errorf("migrate shared store: %w", err)
	}
	rt.Logger.Info("shared store ready", zap.Int("applied", applied), zap.Stringer("db", rt.Config.DB))
	return nil
}

func newAdmin(cfg Config) (ports.DatabaseAdmin, io.Closer, error) {
	if cfg.DB.Driver == domain.DriverPostgres {
		admin, err := dbadmin.OpenPostgresAdmin(cfg.DB, cfg.AdminDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open admin connection: %w", err)
		}
		return admin, admin, nil
	}
	return dbadmin.NewSQLiteAdmin(cfg.DB), nil, nil
}

func newPublisher(cfg Config, logger *zap.Logger) ports.EventPublisher {
	if cfg.WebhookURL != "" {
		return events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	return events.NewLogPublisher(logger)
}

// NewServer builds the runtime, prepares the shared store and the tenant
// registry, and returns the HTTP server. The closer stops the reconciler and
// releases every database handle.
func NewServer(ctx context.Context, cfg Config, logger *zap.Logger) (*http.Server, io.Closer, error) {
	rt, err := Build(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := rt.MigrateShared(setupCtx); err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	if cfg.BootstrapAPIKey != "" {
		if err := rt.Bootstrap(setupCtx); err != nil {
			_ = rt.Close()
			return nil, nil, err
		}
	}
	if _, err := rt.Tenants.LoadRegistry(setupCtx); err != nil {
		_ = rt.Close()
		return nil, nil, err
	}

	reconciler := usecase.NewReconciler(rt.Directory, rt.Provisioner, cfg.ReconcileInterval, 20, rt.Metrics, rt.Logger)
	reconciler.Start(context.Background())

	handler := httpapi.NewHandler(httpapi.Services{
		Auth:    rt.Auth,
		Tenants: rt.Tenants,
		Records: rt.Records,
		Schemas: rt.Schemas,
		Reports: rt.Reports,
	}, rt.Prometheus, rt.Metrics, rt.Logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, resourceCloser{closers: []io.Closer{reconciler, rt}}, nil
}

// Bootstrap makes sure the bootstrap tenant exists and that the bootstrap
// API key belongs to a staff user whose default tenant it is.
func (rt *Runtime) Bootstrap(ctx context.Context) error {
	name := rt.Config.BootstrapTenant
	if name == "" {
		name = "Default"
	}
	username := rt.Config.BootstrapUser
	if username == "" {
		username = "bootstrap"
	}

	tenant, err := rt.findOrCreateTenant(ctx, name)
	if err != nil {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}
	user, err := rt.Auth.Bootstrap(ctx, username, rt.Config.BootstrapAPIKey, tenant.ID, true)
	if err != nil {
		return fmt.Errorf("bootstrap user: %w", err)
	}
	if err := rt.Auth.Grant(ctx, user.ID, tenant.ID, domain.RoleAdmin); err != nil {
		return fmt.Errorf("bootstrap grant: %w", err)
	}
	if _, err := rt.Provisioner.Ensure(ctx, tenant); err != nil {
		// The reconciler picks the tenant up again.
		rt.Logger.Error("bootstrap tenant not provisioned", zap.Int64("tenant_id", int64(tenant.ID)), zap.Error(err))
	}
	rt.Logger.Info("bootstrap ready", zap.String("user", username), zap.Int64("tenant_id", int64(tenant.ID)))
	return nil
}

func (rt *Runtime) findOrCreateTenant(ctx context.Context, name string) (domain.Tenant, error) {
	tenants, err := rt.Directory.List(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	for _, t := range tenants {
		if t.Name == name {
			return t, nil
		}
	}
	if err := domain.ValidateTenantName(name); err != nil {
		return domain.Tenant{}, err
	}
	return rt.Directory.Create(ctx, name, rt.Registry.DatabaseNameFor)
}

// StaffCaller is the identity CLI commands act as.
func StaffCaller() domain.Caller {
	return domain.Caller{User: domain.User{Username: "cli", Staff: true, Active: true}}
}
