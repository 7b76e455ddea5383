package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

func newTenantServiceFixture(tenants ...domain.Tenant) (*TenantService, *provisionFixture, *stubUserRepo) {
	f := newProvisionFixture(tenants...)
	users := newStubUserRepo()
	return NewTenantService(f.directory, users, f.reg, f.prov, nil, nil), f, users
}

var staffCaller = domain.Caller{User: domain.User{ID: 1, DefaultTenant: 1, Staff: true, Active: true}}

func TestTenantServiceCreateProvisionsAndGrantsCreator(t *testing.T) {
	svc, f, users := newTenantServiceFixture(domain.Tenant{ID: 1, Name: "Main"})

	tenant, err := svc.Create(context.Background(), staffCaller, "  Acme Ltd ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tenant.ID != 2 || tenant.Name != "Acme Ltd" || tenant.Status != domain.TenantReady || tenant.DatabaseName != "tenant_2" {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
	if _, ok := f.reg.Handle(2); !ok {
		t.Fatal("tenant database not attached")
	}
	grants := users.grants[1]
	if len(grants) != 1 || grants[0].TenantID != 2 || grants[0].Role != domain.RoleAdmin {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func TestTenantServiceCreateReportsProvisioningFailure(t *testing.T) {
	svc, f, _ := newTenantServiceFixture()
	f.cluster.failCreate["tenant_1"] = errors.New("permission denied")

	tenant, err := svc.Create(context.Background(), staffCaller, "Beta")
	if !errors.Is(err, domain.ErrProvisioningFailure) {
		t.Fatalf("expected provisioning failure, got %v", err)
	}
	if tenant.ID != 1 || tenant.Status != domain.TenantFailed {
		t.Fatalf("tenant must stay flagged: %+v", tenant)
	}
}

func TestTenantServiceCreateRequiresStaff(t *testing.T) {
	svc, _, _ := newTenantServiceFixture()
	member := domain.Caller{User: domain.User{ID: 2, DefaultTenant: 1}}

	if _, err := svc.Create(context.Background(), member, "Gamma"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if _, err := svc.Create(context.Background(), staffCaller, "  "); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}

func TestTenantServiceListBySelection(t *testing.T) {
	svc, _, _ := newTenantServiceFixture(
		domain.Tenant{ID: 1, Name: "A"},
		domain.Tenant{ID: 2, Name: "B"},
		domain.Tenant{ID: 3, Name: "C"},
	)
	member := domain.Caller{
		User:   domain.User{ID: 5, DefaultTenant: 1},
		Grants: []domain.AccessGrant{{UserID: 5, TenantID: 3, Role: domain.RoleReadOnly}, {UserID: 5, TenantID: 9}},
	}

	mine, err := svc.List(context.Background(), member, tenancy.All())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != 1 || mine[1].ID != 3 {
		t.Fatalf("member must only see own tenants: %+v", mine)
	}

	all, err := svc.List(context.Background(), staffCaller, tenancy.All())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("staff unfiltered list must see every tenant: %+v", all)
	}
}

func TestTenantServiceLoadRegistryAndStats(t *testing.T) {
	svc, f, _ := newTenantServiceFixture(
		domain.Tenant{ID: 1, Name: "A", DatabaseName: "tenant_1"},
		domain.Tenant{ID: 2, Name: "B", DatabaseName: "tenant_2", Status: domain.TenantReady},
	)

	n, err := svc.LoadRegistry(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("load registry: %d %v", n, err)
	}
	if got := f.reg.All(); len(got) != 2 {
		t.Fatalf("registry not loaded: %v", got)
	}

	if _, err := svc.Resolve(context.Background(), 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Registered != 2 || stats.ByState[tenancy.StateReady] != 1 || stats.ByState[tenancy.StatePending] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Tenants[1].State != tenancy.StateReady {
		t.Fatalf("unexpected tenant stat: %+v", stats.Tenants[1])
	}
}

func TestTenantServiceResolveUnknownTenant(t *testing.T) {
	svc, _, _ := newTenantServiceFixture()
	if _, err := svc.Resolve(context.Background(), 12); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTenantServiceReprovision(t *testing.T) {
	svc, f, _ := newTenantServiceFixture(domain.Tenant{ID: 4, Name: "D"})
	f.cluster.failMigrate["tenant_4"] = errors.New("locked")
	if _, err := svc.Resolve(context.Background(), 4); err == nil {
		t.Fatal("expected failure")
	}
	delete(f.cluster.failMigrate, "tenant_4")

	tenant, err := svc.Reprovision(context.Background(), staffCaller, 4)
	if err != nil {
		t.Fatalf("reprovision: %v", err)
	}
	if tenant.Status != domain.TenantReady {
		t.Fatalf("unexpected status: %s", tenant.Status)
	}
}
