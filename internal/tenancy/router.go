package tenancy

import (
	"context"
	"fmt"
	"io"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// EntityKind names a class of persisted data. Every kind is either shared or
// tenant-scoped, never both.
type EntityKind string

const (
	KindUser             EntityKind = "user"
	KindTenant           EntityKind = "tenant"
	KindAccessGrant      EntityKind = "access_grant"
	KindRecord           EntityKind = "record"
	KindCollectionSchema EntityKind = "collection_schema"
)

var sharedKinds = map[EntityKind]struct{}{
	KindUser:        {},
	KindTenant:      {},
	KindAccessGrant: {},
}

func (k EntityKind) Shared() bool {
	_, ok := sharedKinds[k]
	return ok
}

// SharedStoreKey identifies the shared store in Locate results.
const SharedStoreKey StoreKey = "default"

// StoreKey names the logical database an entity lives in.
type StoreKey string

// Router decides which handle serves an entity kind for the active selection.
type Router[H io.Closer] struct {
	reg *Registry[H]
}

func NewRouter[H io.Closer](reg *Registry[H]) *Router[H] {
	return &Router[H]{reg: reg}
}

func (r *Router[H]) Registry() *Registry[H] {
	return r.reg
}

// Route returns the handle for kind. Tenant-scoped kinds require a unit of
// work; reaching them from an unset context is reported as not provisioned
// rather than silently falling back to the shared store.
func (r *Router[H]) Route(ctx context.Context, kind EntityKind) (H, error) {
	var zero H
	if kind.Shared() {
		return r.reg.Shared(), nil
	}
	sel := Current(ctx)
	switch sel.Kind {
	case SharedStore, Unfiltered:
		return r.reg.Shared(), nil
	case SingleTenant:
		h, ok := r.reg.Handle(sel.Tenant)
		if !ok {
			return zero, fmt.Errorf("%w: tenant %d", domain.ErrTenantNotProvisioned, sel.Tenant)
		}
		return h, nil
	default:
		return zero, fmt.Errorf("%w: %s accessed outside a unit of work", domain.ErrTenantNotProvisioned, kind)
	}
}

// Locate is Route without the handle: it names the store that would serve kind.
func (r *Router[H]) Locate(ctx context.Context, kind EntityKind) (StoreKey, error) {
	if kind.Shared() {
		return SharedStoreKey, nil
	}
	sel := Current(ctx)
	switch sel.Kind {
	case SharedStore, Unfiltered:
		return SharedStoreKey, nil
	case SingleTenant:
		desc, ok := r.reg.Lookup(sel.Tenant)
		if !ok {
			return "", fmt.Errorf("%w: tenant %d", domain.ErrTenantNotProvisioned, sel.Tenant)
		}
		return StoreKey(desc.Database), nil
	default:
		return "", fmt.Errorf("%w: %s accessed outside a unit of work", domain.ErrTenantNotProvisioned, kind)
	}
}

// AllowRelation reports whether entities of kinds a and b, under the active
// selection, live in the same store and may reference each other.
func (r *Router[H]) AllowRelation(ctx context.Context, a, b EntityKind) bool {
	ka, err := r.Locate(ctx, a)
	if err != nil {
		return false
	}
	kb, err := r.Locate(ctx, b)
	if err != nil {
		return false
	}
	return ka == kb
}
