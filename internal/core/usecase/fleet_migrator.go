package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
)

// SharedMigrator brings the shared store schema up to date.
type SharedMigrator interface {
	MigrateShared(ctx context.Context) (int, error)
}

// MigrationProvisioner provisions tenants and reports pending migrations.
type MigrationProvisioner interface {
	TenantProvisioner
	Pending(ctx context.Context, t domain.Tenant) (bool, error)
}

type MigrateOptions struct {
	// TenantID limits the run to one tenant when non-zero.
	TenantID domain.TenantID
	// SkipMigrated leaves out ready tenants whose database has no pending
	// migrations.
	SkipMigrated bool
	SkipDefault  bool
	CreateOnly   bool
	Concurrency  int
}

type MigrationAction string

const (
	ActionCreated  MigrationAction = "created"
	ActionMigrated MigrationAction = "migrated"
	ActionUpToDate MigrationAction = "up-to-date"
	ActionSkipped  MigrationAction = "skipped"
	ActionFailed   MigrationAction = "failed"
)

type TenantMigration struct {
	TenantID     domain.TenantID
	DatabaseName string
	Action       MigrationAction
	Applied      int
	Err          error
}

type MigrationReport struct {
	SharedApplied int
	SharedSkipped bool
	Tenants       []TenantMigration
}

func (r MigrationReport) Failed() int {
	n := 0
	for _, t := range r.Tenants {
		if t.Action == ActionFailed {
			n++
		}
	}
	return n
}

// FleetMigrator migrates the shared store and then every tenant database.
// One tenant failing never stops the others.
type FleetMigrator struct {
	shared      SharedMigrator
	directory   ports.TenantDirectory
	provisioner MigrationProvisioner
	aggregator  *Aggregator
	logger      *zap.Logger
}

func NewFleetMigrator(shared SharedMigrator, directory ports.TenantDirectory, provisioner MigrationProvisioner, aggregator *Aggregator, logger *zap.Logger) *FleetMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FleetMigrator{
		shared:      shared,
		directory:   directory,
		provisioner: provisioner,
		aggregator:  aggregator,
		logger:      logger.Named("migrate"),
	}
}

func (m *FleetMigrator) Run(ctx context.Context, opts MigrateOptions) (MigrationReport, error) {
	var report MigrationReport
	if opts.SkipDefault {
		report.SharedSkipped = true
	} else {
		applied, err := m.shared.MigrateShared(ctx)
		if err != nil {
			return report, fmt.Errorf("migrate shared store: %w", err)
		}
		report.SharedApplied = applied
		m.logger.Info("shared store migrated", zap.Int("applied", applied))
	}

	tenants, err := m.selectTenants(ctx, opts.TenantID)
	if err != nil {
		return report, err
	}
	byID := make(map[domain.TenantID]domain.Tenant, len(tenants))
	ids := make([]domain.TenantID, 0, len(tenants))
	for _, t := range tenants {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return report, nil
	}

	results, aggErr := Aggregate(ctx, m.aggregator, func(ctx context.Context, id domain.TenantID) (TenantMigration, error) {
		t := byID[id]
		if opts.SkipMigrated && t.Status == domain.TenantReady {
			skip, err := m.upToDate(ctx, t, opts.CreateOnly)
			if err != nil {
				return TenantMigration{}, err
			}
			if skip {
				return TenantMigration{TenantID: id, DatabaseName: t.DatabaseName, Action: ActionSkipped}, nil
			}
		}
		res, err := m.provisioner.Provision(ctx, t, ProvisionOptions{CreateOnly: opts.CreateOnly})
		if err != nil {
			return TenantMigration{}, err
		}
		out := TenantMigration{TenantID: id, DatabaseName: res.Descriptor.Database, Applied: res.Applied}
		switch {
		case res.Created:
			out.Action = ActionCreated
		case res.Applied > 0:
			out.Action = ActionMigrated
		default:
			out.Action = ActionUpToDate
		}
		return out, nil
	}, AggregateOptions{Tenants: ids, Concurrency: opts.Concurrency, SkipProvision: true})

	for _, id := range results.IDs() {
		if tm, ok := results.Values[id]; ok {
			report.Tenants = append(report.Tenants, tm)
			continue
		}
		err := results.Errors[id]
		m.logger.Error("tenant migration failed", zap.Int64("tenant_id", int64(id)), zap.Error(err))
		report.Tenants = append(report.Tenants, TenantMigration{
			TenantID:     id,
			DatabaseName: byID[id].DatabaseName,
			Action:       ActionFailed,
			Err:          err,
		})
	}
	return report, aggErr
}

// upToDate reports whether a ready tenant can be left alone. Create-only runs
// never connect, so the directory status is enough for them.
func (m *FleetMigrator) upToDate(ctx context.Context, t domain.Tenant, createOnly bool) (bool, error) {
	if createOnly {
		return true, nil
	}
	pending, err := m.provisioner.Pending(ctx, t)
	if err != nil {
		return false, fmt.Errorf("check pending migrations: %w", err)
	}
	return !pending, nil
}

func (m *FleetMigrator) selectTenants(ctx context.Context, id domain.TenantID) ([]domain.Tenant, error) {
	if id != 0 {
		t, err := m.directory.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrTenantNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load tenant %d: %w", id, err)
		}
		return []domain.Tenant{t}, nil
	}
	tenants, err := m.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}
