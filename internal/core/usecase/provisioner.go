package usecase

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

const (
	defaultProvisionTimeout = 2 * time.Minute
	failureRecordTimeout    = 10 * time.Second
)

type ProvisionOptions struct {
	// CreateOnly stops after the physical database exists.
	CreateOnly bool
}

type ProvisionResult struct {
	Descriptor domain.ConnectionDescriptor
	Created    bool
	Applied    int
}

// Provisioner makes tenant databases usable: register, create, connect,
// migrate. Concurrent calls for one tenant share a single execution.
type Provisioner[H io.Closer] struct {
	reg       *tenancy.Registry[H]
	admin     ports.DatabaseAdmin
	connector ports.Connector[H]
	migrator  ports.SchemaMigrator[H]
	directory ports.TenantDirectory
	publisher ports.EventPublisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time

	group singleflight.Group
}

type ProvisionerConfig[H io.Closer] struct {
	Registry  *tenancy.Registry[H]
	Admin     ports.DatabaseAdmin
	Connector ports.Connector[H]
	Migrator  ports.SchemaMigrator[H]
	Directory ports.TenantDirectory
	Publisher ports.EventPublisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Timeout   time.Duration
}

func NewProvisioner[H io.Closer](cfg ProvisionerConfig[H]) *Provisioner[H] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProvisionTimeout
	}
	return &Provisioner[H]{
		reg:       cfg.Registry,
		admin:     cfg.Admin,
		connector: cfg.Connector,
		migrator:  cfg.Migrator,
		directory: cfg.Directory,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger.Named("provisioner"),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Ensure provisions the tenant if needed and returns its descriptor.
// Repeated calls only check existence and pending migrations.
func (p *Provisioner[H]) Ensure(ctx context.Context, t domain.Tenant) (domain.ConnectionDescriptor, error) {
	res, err := p.Provision(ctx, t, ProvisionOptions{})
	return res.Descriptor, err
}

// EnsureReady returns immediately for tenants that are already ready in this
// process and falls back to Ensure otherwise.
func (p *Provisioner[H]) EnsureReady(ctx context.Context, t domain.Tenant) (domain.ConnectionDescriptor, error) {
	if state, ok := p.reg.State(t.ID); ok && state == tenancy.StateReady {
		desc, _ := p.reg.Lookup(t.ID)
		return desc, nil
	}
	return p.Ensure(ctx, t)
}

func (p *Provisioner[H]) Provision(ctx context.Context, t domain.Tenant, opts ProvisionOptions) (ProvisionResult, error) {
	desc, err := p.reg.Register(t)
	if err != nil {
		return ProvisionResult{}, &domain.ProvisioningError{TenantID: t.ID, Stage: domain.StageRegister, Err: err}
	}

	key := t.ID.String()
	if opts.CreateOnly {
		key = "create:" + key
	}
	// The shared run must outlive any single caller; each caller still
	// stops waiting when its own context ends.
	ch := p.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.provision(runCtx, t, desc, opts)
	})

	select {
	case <-ctx.Done():
		return ProvisionResult{Descriptor: desc}, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(ProvisionResult)
		out.Descriptor = desc
		return out, res.Err
	}
}

func (p *Provisioner[H]) provision(ctx context.Context, t domain.Tenant, desc domain.ConnectionDescriptor, opts ProvisionOptions) (ProvisionResult, error) {
	start := p.now()
	res := ProvisionResult{Descriptor: desc}
	log := p.logger.With(zap.Int64("tenant_id", int64(t.ID)), zap.String("database", desc.Database))

	exists, err := p.admin.Exists(ctx, desc.Database)
	if err != nil {
		return res, p.fail(ctx, t, desc, domain.StageAdmin, err, start)
	}
	if !exists {
		switch err := p.admin.Create(ctx, desc.Database); {
		case errors.Is(err, domain.ErrDatabaseExists):
			log.Debug("database created concurrently")
		case err != nil:
			return res, p.fail(ctx, t, desc, domain.StageCreate, err, start)
		default:
			res.Created = true
			log.Info("tenant database created")
		}
	}
	if opts.CreateOnly {
		return res, nil
	}

	h, attached := p.reg.Attached(t.ID)
	if !attached {
		h, err = p.connector.Open(ctx, desc)
		if err != nil {
			return res, p.fail(ctx, t, desc, domain.StageConnect, err, start)
		}
		if err := p.reg.Attach(t.ID, h); err != nil {
			_ = h.Close()
			return res, p.fail(ctx, t, desc, domain.StageConnect, err, start)
		}
	}

	applied, err := p.migrator.Up(ctx, h)
	if err != nil {
		return res, p.fail(ctx, t, desc, domain.StageMigrate, err, start)
	}
	res.Applied = applied

	if err := p.reg.MarkReady(t.ID); err != nil {
		return res, p.fail(ctx, t, desc, domain.StageConnect, err, start)
	}

	now := p.now().UTC()
	if p.directory != nil && (t.Status != domain.TenantReady || res.Created || applied > 0) {
		if err := p.directory.MarkReady(ctx, t.ID, now); err != nil {
			log.Warn("record tenant ready", zap.Error(err))
		}
	}
	if res.Created || applied > 0 || t.Status != domain.TenantReady {
		p.publish(ctx, domain.TenantEvent{
			EventType:    domain.EventTenantProvisioned,
			TenantID:     t.ID,
			TenantName:   t.Name,
			DatabaseName: desc.Database,
			OccurredAt:   now,
		})
	}
	p.metrics.ProvisionSucceeded(p.now().Sub(start))
	if res.Created || applied > 0 {
		log.Info("tenant provisioned", zap.Bool("created", res.Created), zap.Int("migrations_applied", applied))
	}
	return res, nil
}

func (p *Provisioner[H]) fail(ctx context.Context, t domain.Tenant, desc domain.ConnectionDescriptor, stage domain.ProvisioningStage, cause error, start time.Time) error {
	perr := &domain.ProvisioningError{TenantID: t.ID, Stage: stage, Err: cause}
	p.reg.MarkFailed(t.ID, perr)
	p.metrics.ProvisionFailed(string(stage), p.now().Sub(start))
	p.logger.Error("tenant provisioning failed",
		zap.Int64("tenant_id", int64(t.ID)),
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)

	// The run context may be the one that just expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	now := p.now().UTC()
	if p.directory != nil {
		attempts := t.Attempts
		if current, err := p.directory.Get(ctx, t.ID); err == nil {
			attempts = current.Attempts
		}
		attempts++
		if err := p.directory.MarkFailed(ctx, t.ID, perr.Error(), attempts, now.Add(backoffDuration(attempts))); err != nil {
			p.logger.Warn("record tenant failure", zap.Int64("tenant_id", int64(t.ID)), zap.Error(err))
		}
	}
	p.publish(ctx, domain.TenantEvent{
		EventType:    domain.EventTenantProvisioningFailed,
		TenantID:     t.ID,
		TenantName:   t.Name,
		DatabaseName: desc.Database,
		Stage:        string(stage),
		Error:        cause.Error(),
		OccurredAt:   now,
	})
	return perr
}

func (p *Provisioner[H]) publish(ctx context.Context, event domain.TenantEvent) {
	if p.publisher == nil {
		return
	}
	event.EventID = uuid.NewString()
	if err := p.publisher.Publish(ctx, event.Topic(), event); err != nil {
		p.logger.Warn("publish tenant event", zap.String("event_type", event.EventType), zap.Error(err))
	}
}

// Pending reports whether the tenant database is missing or behind the
// latest schema. An existing database without a handle in this process is
// connected and attached so later runs reuse it.
func (p *Provisioner[H]) Pending(ctx context.Context, t domain.Tenant) (bool, error) {
	desc, err := p.reg.Register(t)
	if err != nil {
		return false, &domain.ProvisioningError{TenantID: t.ID, Stage: domain.StageRegister, Err: err}
	}
	h, ok := p.reg.Attached(t.ID)
	if !ok {
		exists, err := p.admin.Exists(ctx, desc.Database)
		if err != nil {
			return false, &domain.ProvisioningError{TenantID: t.ID, Stage: domain.StageAdmin, Err: err}
		}
		if !exists {
			return true, nil
		}
		opened, err := p.connector.Open(ctx, desc)
		if err != nil {
			return false, &domain.ProvisioningError{TenantID: t.ID, Stage: domain.StageConnect, Err: err}
		}
		if err := p.reg.Attach(t.ID, opened); err != nil {
			_ = opened.Close()
			if h, ok = p.reg.Attached(t.ID); !ok {
				return false, &domain.ProvisioningError{TenantID: t.ID, Stage: domain.StageConnect, Err: err}
			}
		} else {
			h = opened
		}
	}
	return p.migrator.Pending(ctx, h)
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
