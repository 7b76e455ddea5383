package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/app"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
)

func main() {
	if err := rootCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "tenantdb",
		Usage: "Multi-tenant record API with one database per company",
		Flags: rootFlags(),
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			tenantsCommand(),
		},
		DefaultCommand: "serve",
	}
}

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Value:   ":8080",
			Sources: cli.EnvVars("TENANTDB_ADDR"),
			Usage:   "HTTP listen address",
		},
		&cli.StringFlag{
			Name:    "db-driver",
			Value:   domain.DriverSQLite,
			Sources: cli.EnvVars("TENANTDB_DB_DRIVER"),
			Usage:   "Database driver: sqlite or postgres",
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Value:   "./data",
			Sources: cli.EnvVars("TENANTDB_DATA_DIR"),
			Usage:   "Directory holding one SQLite file per database (sqlite driver)",
		},
		&cli.StringFlag{
			Name:    "db-name",
			Value:   "tenantdb",
			Sources: cli.EnvVars("TENANTDB_DB_NAME"),
			Usage:   "Shared store database name",
		},
		&cli.StringFlag{
			Name:    "db-host",
			Value:   "localhost",
			Sources: cli.EnvVars("TENANTDB_DB_HOST"),
		},
		&cli.IntFlag{
			Name:    "db-port",
			Value:   5432,
			Sources: cli.EnvVars("TENANTDB_DB_PORT"),
		},
		&cli.StringFlag{
			Name:    "db-user",
			Value:   "postgres",
			Sources: cli.EnvVars("TENANTDB_DB_USER"),
		},
		&cli.StringFlag{
			Name:    "db-password",
			Sources: cli.EnvVars("TENANTDB_DB_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "db-sslmode",
			Value:   "disable",
			Sources: cli.EnvVars("TENANTDB_DB_SSLMODE"),
		},
		&cli.StringFlag{
			Name:    "admin-db",
			Value:   "postgres",
			Sources: cli.EnvVars("TENANTDB_ADMIN_DB"),
			Usage:   "Database the administrative connection uses to create tenant databases (postgres driver)",
		},
		&cli.StringFlag{
			Name:    "tenant-db-prefix",
			Value:   "tenant_",
			Sources: cli.EnvVars("TENANTDB_TENANT_DB_PREFIX"),
			Usage:   "Prefix of tenant database names; the tenant id is appended",
		},
		&cli.IntFlag{
			Name:    "max-open-conns",
			Sources: cli.EnvVars("TENANTDB_MAX_OPEN_CONNS"),
			Usage:   "Per-database connection pool size (0 uses the driver default)",
		},
		&cli.IntFlag{
			Name:    "max-idle-conns",
			Sources: cli.EnvVars("TENANTDB_MAX_IDLE_CONNS"),
		},
		&cli.IntFlag{
			Name:    "aggregate-concurrency",
			Value:   4,
			Sources: cli.EnvVars("TENANTDB_AGGREGATE_CONCURRENCY"),
			Usage:   "Tenants processed in parallel by cross-tenant operations (1 runs them sequentially)",
		},
		&cli.DurationFlag{
			Name:    "reconcile-interval",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("TENANTDB_RECONCILE_INTERVAL"),
			Usage:   "How often tenants left pending or failed are provisioned again",
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Sources: cli.EnvVars("TENANTDB_WEBHOOK_URL"),
			Usage:   "Tenant lifecycle event webhook target URL",
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Sources: cli.EnvVars("TENANTDB_WEBHOOK_SECRET"),
			Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Sources: cli.EnvVars("TENANTDB_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "bootstrap-api-key",
			Sources: cli.EnvVars("TENANTDB_BOOTSTRAP_API_KEY"),
			Usage:   "Optional API key of a staff user upserted at startup",
		},
		&cli.StringFlag{
			Name:    "bootstrap-user",
			Value:   "bootstrap",
			Sources: cli.EnvVars("TENANTDB_BOOTSTRAP_USER"),
		},
		&cli.StringFlag{
			Name:    "bootstrap-tenant",
			Value:   "Default",
			Sources: cli.EnvVars("TENANTDB_BOOTSTRAP_TENANT"),
			Usage:   "Name of the default tenant of the bootstrap user",
		},
	}
}

func configFrom(c *cli.Command) app.Config {
	return app.Config{
		Addr: c.String("addr"),
		DB: domain.ConnectionDescriptor{
			Driver:       c.String("db-driver"),
			Host:         c.String("db-host"),
			Port:         int(c.Int("db-port")),
			User:         c.String("db-user"),
			Password:     c.String("db-password"),
			Database:     c.String("db-name"),
			SSLMode:      c.String("db-sslmode"),
			DataDir:      c.String("data-dir"),
			MaxOpenConns: int(c.Int("max-open-conns")),
			MaxIdleConns: int(c.Int("max-idle-conns")),
		},
		AdminDB:              c.String("admin-db"),
		TenantDBPrefix:       c.String("tenant-db-prefix"),
		AggregateConcurrency: int(c.Int("aggregate-concurrency")),
		ReconcileInterval:    c.Duration("reconcile-interval"),
		WebhookURL:           c.String("webhook-url"),
		WebhookSecret:        c.String("webhook-secret"),
		LogLevel:             c.String("log-level"),
		BootstrapAPIKey:      c.String("bootstrap-api-key"),
		BootstrapUser:        c.String("bootstrap-user"),
		BootstrapTenant:      c.String("bootstrap-tenant"),
	}
}

// withRuntime builds the runtime for one-shot commands and closes it after fn.
func withRuntime(ctx context.Context, c *cli.Command, migrate bool, fn func(*app.Runtime) error) error {
	cfg := configFrom(c)
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("close resources", zap.Error(closeErr))
		}
	}()
	if migrate {
		if err := rt.MigrateShared(ctx); err != nil {
			return err
		}
	}
	return fn(rt)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := configFrom(c)
			logger, err := app.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			server, closer, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Error("close resources", zap.Error(closeErr))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", cfg.Addr))
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
			case sig := <-sigCh:
				logger.Info("received signal", zap.Stringer("signal", sig))
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create missing tenant databases and apply pending migrations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "tenant-id",
				Usage: "Only migrate this tenant",
			},
			&cli.BoolFlag{
				Name:  "skip-migrated",
				Usage: "Skip ready tenants whose database has no pending migrations",
			},
			&cli.BoolFlag{
				Name:  "skip-default",
				Usage: "Do not migrate the shared store",
			},
			&cli.BoolFlag{
				Name:  "create-only",
				Usage: "Create missing databases without migrating them",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: 1,
				Usage: "Tenants migrated in parallel",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			opts := usecase.MigrateOptions{
				SkipMigrated: c.Bool("skip-migrated"),
				SkipDefault:  c.Bool("skip-default"),
				CreateOnly:   c.Bool("create-only"),
				Concurrency:  int(c.Int("concurrency")),
			}
			if c.IsSet("tenant-id") {
				id := c.Int("tenant-id")
				if id <= 0 {
					return fmt.Errorf("%w: --tenant-id %d", domain.ErrInvalidIdentifier, id)
				}
				opts.TenantID = domain.TenantID(id)
			}

			return withRuntime(ctx, c, false, func(rt *app.Runtime) error {
				report, err := rt.Migrator.Run(ctx, opts)
				printReport(report)
				if err != nil {
					return fmt.Errorf("%d tenant(s) failed: %w", report.Failed(), err)
				}
				return nil
			})
		},
	}
}

func printReport(report usecase.MigrationReport) {
	w := os.Stdout
	if report.SharedSkipped {
		fmt.Fprintln(w, "shared store: skipped")
	} else {
		fmt.Fprintf(w, "shared store: %d migration(s) applied\n", report.SharedApplied)
	}
	for _, tm := range report.Tenants {
		switch {
		case tm.Err != nil:
			fmt.Fprintf(w, "tenant %d (%s): %s: %v\n", tm.TenantID, tm.DatabaseName, tm.Action, tm.Err)
		case tm.Applied > 0:
			fmt.Fprintf(w, "tenant %d (%s): %s, %d migration(s) applied\n", tm.TenantID, tm.DatabaseName, tm.Action, tm.Applied)
		default:
			fmt.Fprintf(w, "tenant %d (%s): %s\n", tm.TenantID, tm.DatabaseName, tm.Action)
		}
	}
}

func tenantsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tenants",
		Usage: "Manage tenants",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Register a tenant and provision its database",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, c *cli.Command) error {
					name := c.Args().First()
					return withRuntime(ctx, c, true, func(rt *app.Runtime) error {
						t, err := rt.Tenants.Create(ctx, app.StaffCaller(), name)
						if t.ID != 0 {
							fmt.Fprintf(os.Stdout, "tenant %d %q database=%s status=%s\n", t.ID, t.Name, t.DatabaseName, t.Status)
						}
						return err
					})
				},
			},
			{
				Name:  "stats",
				Usage: "Print directory and registry statistics as JSON",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRuntime(ctx, c, true, func(rt *app.Runtime) error {
						if _, err := rt.Tenants.LoadRegistry(ctx); err != nil {
							return err
						}
						stats, err := rt.Tenants.Stats(ctx)
						if err != nil {
							return err
						}
						enc := json.NewEncoder(os.Stdout)
						enc.SetIndent("", "  ")
						return enc.Encode(stats)
					})
				},
			},
		},
	}
}
