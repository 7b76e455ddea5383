package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type memDirectory struct {
	mu      sync.Mutex
	tenants map[domain.TenantID]domain.Tenant
	nextID  domain.TenantID
}

func newMemDirectory(tenants ...domain.Tenant) *memDirectory {
	d := &memDirectory{tenants: make(map[domain.TenantID]domain.Tenant)}
	for _, t := range tenants {
		if t.Status == "" {
			t.Status = domain.TenantPending
		}
		d.tenants[t.ID] = t
		if t.ID > d.nextID {
			d.nextID = t.ID
		}
	}
	return d
}

func (d *memDirectory) Create(_ context.Context, name string, nameFor func(domain.TenantID) string) (domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	t := domain.Tenant{ID: d.nextID, Name: name, DatabaseName: nameFor(d.nextID), Status: domain.TenantPending}
	d.tenants[t.ID] = t
	return t, nil
}

func (d *memDirectory) Get(_ context.Context, id domain.TenantID) (domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return t, nil
}

func (d *memDirectory) List(_ context.Context) ([]domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memDirectory) ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Tenant, error) {
	all, _ := d.List(ctx)
	var out []domain.Tenant
	for _, t := range all {
		if t.Status == domain.TenantReady || t.Attempts >= maxAttempts {
			continue
		}
		if t.NextAttemptAt != nil && t.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (d *memDirectory) MarkReady(_ context.Context, id domain.TenantID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tenants[id]
	t.Status = domain.TenantReady
	t.LastError = ""
	t.Attempts = 0
	t.NextAttemptAt = nil
	t.ProvisionedAt = &at
	d.tenants[id] = t
	return nil
}

func (d *memDirectory) MarkFailed(ctx context.Context, id domain.TenantID, reason string, attempts int, next time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tenants[id]
	t.Status = domain.TenantFailed
	t.LastError = reason
	t.Attempts = attempts
	t.NextAttemptAt = &next
	d.tenants[id] = t
	return nil
}

type fakeHandle struct {
	database string
	closed   atomic.Bool
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// fakeCluster plays the database server: admin, connector and migrator.
type fakeCluster struct {
	mu        sync.Mutex
	databases map[string]bool
	versions  map[string]int
	latest    int

	createCalls  atomic.Int32
	openCalls    atomic.Int32
	createDelay  time.Duration
	failCreate   map[string]error
	failMigrate  map[string]error
	raceOnCreate map[string]bool
}

func newFakeCluster(latest int) *fakeCluster {
	return &fakeCluster{
		databases:    make(map[string]bool),
		versions:     make(map[string]int),
		latest:       latest,
		failCreate:   make(map[string]error),
		failMigrate:  make(map[string]error),
		raceOnCreate: make(map[string]bool),
	}
}

func (c *fakeCluster) Exists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.databases[name], nil
}

func (c *fakeCluster) Create(ctx context.Context, name string) error {
	c.createCalls.Add(1)
	if c.createDelay > 0 {
		select {
		case <-time.After(c.createDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failCreate[name]; err != nil {
		return err
	}
	if c.raceOnCreate[name] {
		c.databases[name] = true
		return domain.ErrDatabaseExists
	}
	if c.databases[name] {
		return domain.ErrDatabaseExists
	}
	c.databases[name] = true
	return nil
}

func (c *fakeCluster) Open(_ context.Context, desc domain.ConnectionDescriptor) (*fakeHandle, error) {
	c.openCalls.Add(1)
	return &fakeHandle{database: desc.Database}, nil
}

func (c *fakeCluster) Pending(_ context.Context, h *fakeHandle) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[h.database] < c.latest, nil
}

func (c *fakeCluster) Up(_ context.Context, h *fakeHandle) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failMigrate[h.database]; err != nil {
		return 0, err
	}
	applied := c.latest - c.versions[h.database]
	c.versions[h.database] = c.latest
	return applied, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TenantEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event domain.TenantEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type provisionFixture struct {
	reg       *tenancy.Registry[*fakeHandle]
	cluster   *fakeCluster
	directory *memDirectory
	publisher *recordingPublisher
	prov      *Provisioner[*fakeHandle]
}

func newProvisionFixture(tenants ...domain.Tenant) *provisionFixture {
	base := domain.ConnectionDescriptor{Driver: domain.DriverSQLite, DataDir: "/data", Database: "main"}
	f := &provisionFixture{
		reg:       tenancy.NewRegistry(base, "tenant_", &fakeHandle{database: "main"}),
		cluster:   newFakeCluster(2),
		directory: newMemDirectory(tenants...),
		publisher: &recordingPublisher{},
	}
	f.prov = NewProvisioner(ProvisionerConfig[*fakeHandle]{
		Registry:  f.reg,
		Admin:     f.cluster,
		Connector: f.cluster,
		Migrator:  f.cluster,
		Directory: f.directory,
		Publisher: f.publisher,
	})
	return f
}
