package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

// TenantProvisioner is the provisioner as seen by services that do not care
// about the handle type.
type TenantProvisioner interface {
	TenantEnsurer
	Ensure(ctx context.Context, t domain.Tenant) (domain.ConnectionDescriptor, error)
	Provision(ctx context.Context, t domain.Tenant, opts ProvisionOptions) (ProvisionResult, error)
}

type TenantRegistry interface {
	Register(t domain.Tenant) (domain.ConnectionDescriptor, error)
	DatabaseNameFor(id domain.TenantID) string
	Snapshots() []tenancy.Snapshot
}

type TenantService struct {
	directory   ports.TenantDirectory
	users       ports.UserRepository
	registry    TenantRegistry
	provisioner TenantProvisioner
	metrics     *metrics.Collector
	logger      *zap.Logger
}

func NewTenantService(directory ports.TenantDirectory, users ports.UserRepository, registry TenantRegistry, provisioner TenantProvisioner, m *metrics.Collector, logger *zap.Logger) *TenantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantService{
		directory:   directory,
		users:       users,
		registry:    registry,
		provisioner: provisioner,
		metrics:     m,
		logger:      logger.Named("tenants"),
	}
}

// Create adds a tenant to the directory, makes the creator its admin and
// provisions its database. A provisioning failure is returned together with
// the tenant, which stays flagged failed for the reconciler.
func (s *TenantService) Create(ctx context.Context, caller domain.Caller, name string) (domain.Tenant, error) {
	if !caller.Staff() {
		return domain.Tenant{}, fmt.Errorf("%w: creating tenants requires staff", domain.ErrAccessDenied)
	}
	name = strings.TrimSpace(name)
	if err := domain.ValidateTenantName(name); err != nil {
		return domain.Tenant{}, err
	}

	t, err := s.directory.Create(ctx, name, s.registry.DatabaseNameFor)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	s.logger.Info("tenant created", zap.Int64("tenant_id", int64(t.ID)), zap.String("database", t.DatabaseName))

	if caller.User.ID != 0 {
		if err := s.users.Grant(ctx, domain.AccessGrant{UserID: caller.User.ID, TenantID: t.ID, Role: domain.RoleAdmin}); err != nil {
			return t, fmt.Errorf("grant creator: %w", err)
		}
	}

	if _, err := s.provisioner.Ensure(ctx, t); err != nil {
		if current, getErr := s.directory.Get(ctx, t.ID); getErr == nil {
			t = current
		}
		return t, err
	}
	return s.directory.Get(ctx, t.ID)
}

func (s *TenantService) Get(ctx context.Context, caller domain.Caller, id domain.TenantID) (domain.Tenant, error) {
	if !caller.Staff() && !caller.CanAccess(id) {
		return domain.Tenant{}, fmt.Errorf("%w: tenant %d", domain.ErrAccessDenied, id)
	}
	return s.directory.Get(ctx, id)
}

// List returns the tenants visible under sel: every tenant for an unfiltered
// selection, the caller's tenants otherwise.
func (s *TenantService) List(ctx context.Context, caller domain.Caller, sel tenancy.Selection) ([]domain.Tenant, error) {
	if sel.Kind == tenancy.Unfiltered && caller.Staff() {
		return s.directory.List(ctx)
	}
	out := make([]domain.Tenant, 0, len(caller.Grants)+1)
	for _, id := range caller.Tenants() {
		t, err := s.directory.Get(ctx, id)
		if errors.Is(err, domain.ErrTenantNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Reprovision runs provisioning again for a tenant, typically one left failed.
func (s *TenantService) Reprovision(ctx context.Context, caller domain.Caller, id domain.TenantID) (domain.Tenant, error) {
	if !caller.Staff() {
		return domain.Tenant{}, fmt.Errorf("%w: provisioning requires staff", domain.ErrAccessDenied)
	}
	t, err := s.directory.Get(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if _, err := s.provisioner.Ensure(ctx, t); err != nil {
		return t, err
	}
	return s.directory.Get(ctx, id)
}

// Resolve loads a tenant selected for a request and makes sure its database
// can serve it.
func (s *TenantService) Resolve(ctx context.Context, id domain.TenantID) (domain.Tenant, error) {
	t, err := s.directory.Get(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if _, err := s.provisioner.EnsureReady(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// LoadRegistry registers every tenant of the directory. Connections are
// opened lazily on first use.
func (s *TenantService) LoadRegistry(ctx context.Context) (int, error) {
	tenants, err := s.directory.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}
	loaded := 0
	for _, t := range tenants {
		if _, err := s.registry.Register(t); err != nil {
			s.logger.Error("register tenant", zap.Int64("tenant_id", int64(t.ID)), zap.Error(err))
			continue
		}
		loaded++
	}
	s.logger.Info("tenant registry loaded", zap.Int("tenants", loaded), zap.Int("directory", len(tenants)))
	return loaded, nil
}

type TenantStats struct {
	Total      int                         `json:"total"`
	ByStatus   map[domain.TenantStatus]int `json:"by_status"`
	Registered int                         `json:"registered"`
	ByState    map[tenancy.EntryState]int  `json:"by_state"`
	Tenants    []TenantStat                `json:"tenants"`
}

type TenantStat struct {
	ID           domain.TenantID     `json:"id"`
	Name         string              `json:"name"`
	DatabaseName string              `json:"database_name"`
	Status       domain.TenantStatus `json:"status"`
	State        tenancy.EntryState  `json:"registry_state,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

func (s *TenantService) Stats(ctx context.Context) (TenantStats, error) {
	tenants, err := s.directory.List(ctx)
	if err != nil {
		return TenantStats{}, fmt.Errorf("list tenants: %w", err)
	}
	snapshots := s.registry.Snapshots()
	states := make(map[domain.TenantID]tenancy.EntryState, len(snapshots))
	stats := TenantStats{
		Total:      len(tenants),
		ByStatus:   make(map[domain.TenantStatus]int),
		Registered: len(snapshots),
		ByState:    make(map[tenancy.EntryState]int),
		Tenants:    make([]TenantStat, 0, len(tenants)),
	}
	gauge := make(map[string]int)
	for _, snap := range snapshots {
		states[snap.ID] = snap.State
		stats.ByState[snap.State]++
		gauge[string(snap.State)]++
	}
	s.metrics.SetRegistered(gauge)

	for _, t := range tenants {
		stats.ByStatus[t.Status]++
		stats.Tenants = append(stats.Tenants, TenantStat{
			ID:           t.ID,
			Name:         t.Name,
			DatabaseName: t.DatabaseName,
			Status:       t.Status,
			State:        states[t.ID],
			LastError:    t.LastError,
		})
	}
	return stats, nil
}
