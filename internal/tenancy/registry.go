package tenancy

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type EntryState string

const (
	StatePending EntryState = "pending"
	StateReady   EntryState = "ready"
	StateFailed  EntryState = "failed"
)

type entry[H io.Closer] struct {
	desc         domain.ConnectionDescriptor
	registeredAt time.Time
	state        EntryState
	err          error
	handle       H
	attached     bool
}

// Snapshot is a copy of a registry entry safe to hand out.
type Snapshot struct {
	ID           domain.TenantID
	Descriptor   domain.ConnectionDescriptor
	RegisteredAt time.Time
	State        EntryState
	Err          error
}

// Registry maps tenant ids to connection descriptors and, once provisioned,
// to open handles. Methods never perform I/O while holding the lock, except
// Close.
type Registry[H io.Closer] struct {
	base   domain.ConnectionDescriptor
	prefix string
	shared H
	now    func() time.Time

	mu      sync.RWMutex
	entries map[domain.TenantID]*entry[H]
	names   map[string]domain.TenantID
}

// NewRegistry builds a registry around the shared store handle. Tenant
// descriptors are derived from base; prefix names tenant databases that
// were not given an explicit name.
func NewRegistry[H io.Closer](base domain.ConnectionDescriptor, prefix string, shared H) *Registry[H] {
	return &Registry[H]{
		base:    base,
		prefix:  prefix,
		shared:  shared,
		now:     time.Now,
		entries: make(map[domain.TenantID]*entry[H]),
		names:   make(map[string]domain.TenantID),
	}
}

func (r *Registry[H]) Base() domain.ConnectionDescriptor {
	return r.base
}

func (r *Registry[H]) Shared() H {
	return r.shared
}

// DatabaseNameFor is the database name a tenant gets when none is recorded.
func (r *Registry[H]) DatabaseNameFor(id domain.TenantID) string {
	return domain.TenantDatabaseName(r.prefix, id)
}

// Register inserts the tenant if absent and returns its descriptor. When the
// tenant is already registered the stored descriptor is returned unchanged.
func (r *Registry[H]) Register(t domain.Tenant) (domain.ConnectionDescriptor, error) {
	if t.ID <= 0 {
		return domain.ConnectionDescriptor{}, fmt.Errorf("%w: %d", domain.ErrInvalidIdentifier, t.ID)
	}
	name := t.DatabaseName
	if name == "" {
		name = r.DatabaseNameFor(t.ID)
	}
	if err := domain.ValidateDatabaseName(name); err != nil {
		return domain.ConnectionDescriptor{}, err
	}

	r.mu.RLock()
	if e, ok := r.entries[t.ID]; ok {
		desc := e.desc
		r.mu.RUnlock()
		return desc, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[t.ID]; ok {
		return e.desc, nil
	}
	if name == r.base.Database {
		return domain.ConnectionDescriptor{}, fmt.Errorf("tenant %d: database %q is the shared store", t.ID, name)
	}
	if owner, taken := r.names[name]; taken {
		return domain.ConnectionDescriptor{}, fmt.Errorf("tenant %d: database %q already belongs to tenant %d", t.ID, name, owner)
	}
	desc := r.base.WithDatabase(name)
	r.entries[t.ID] = &entry[H]{
		desc:         desc,
		registeredAt: r.now().UTC(),
		state:        StatePending,
	}
	r.names[name] = t.ID
	return desc, nil
}

func (r *Registry[H]) Lookup(id domain.TenantID) (domain.ConnectionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return domain.ConnectionDescriptor{}, false
	}
	return e.desc, true
}

// All returns every registered tenant id in ascending order.
func (r *Registry[H]) All() []domain.TenantID {
	r.mu.RLock()
	ids := make([]domain.TenantID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry[H]) State(id domain.TenantID) (EntryState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.state, true
}

// Handle returns the tenant handle only when the entry is ready.
func (r *Registry[H]) Handle(id domain.TenantID) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.state != StateReady || !e.attached {
		var zero H
		return zero, false
	}
	return e.handle, true
}

// Attached returns the tenant handle whatever the entry state is. A failed
// migration leaves the connection attached so the next attempt reuses it.
func (r *Registry[H]) Attached(id domain.TenantID) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || !e.attached {
		var zero H
		return zero, false
	}
	return e.handle, true
}

// Attach stores an open handle for a registered tenant. The entry stays in
// its current state until MarkReady.
func (r *Registry[H]) Attach(id domain.TenantID, h H) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTenantNotProvisioned, id)
	}
	if e.attached {
		return fmt.Errorf("tenant %d: handle already attached", id)
	}
	e.handle = h
	e.attached = true
	return nil
}

func (r *Registry[H]) MarkReady(id domain.TenantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTenantNotProvisioned, id)
	}
	if !e.attached {
		return fmt.Errorf("tenant %d: no handle attached", id)
	}
	e.state = StateReady
	e.err = nil
	return nil
}

func (r *Registry[H]) MarkFailed(id domain.TenantID, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.state = StateFailed
		e.err = cause
	}
}

func (r *Registry[H]) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Snapshot{
			ID:           id,
			Descriptor:   e.desc,
			RegisteredAt: e.registeredAt,
			State:        e.state,
			Err:          e.err,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close closes every attached tenant handle. The shared handle belongs to
// whoever built the registry and is left open.
func (r *Registry[H]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, e := range r.entries {
		if !e.attached {
			continue
		}
		if err := e.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %d: %w", id, err))
		}
		var zero H
		e.handle = zero
		e.attached = false
		e.state = StatePending
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*Registry[io.Closer])(nil)
