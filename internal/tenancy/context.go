package tenancy

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// SelectionKind is the state of the active tenant inside a unit of work.
type SelectionKind int

const (
	// Unset means no unit of work has begun on this context.
	Unset SelectionKind = iota
	// SharedStore means "no tenant": data goes to the shared store.
	SharedStore
	// SingleTenant pins the unit of work to one tenant database.
	SingleTenant
	// Unfiltered is the staff "all" selection. Data is read from the shared
	// store and cross-tenant operations may span every tenant.
	Unfiltered
)

func (k SelectionKind) String() string {
	switch k {
	case SharedStore:
		return "shared"
	case SingleTenant:
		return "tenant"
	case Unfiltered:
		return "unfiltered"
	default:
		return "unset"
	}
}

type Selection struct {
	Kind   SelectionKind
	Tenant domain.TenantID
}

func Shared() Selection {
	return Selection{Kind: SharedStore}
}

func Tenant(id domain.TenantID) Selection {
	return Selection{Kind: SingleTenant, Tenant: id}
}

func All() Selection {
	return Selection{Kind: Unfiltered}
}

func (s Selection) String() string {
	if s.Kind == SingleTenant {
		return "tenant:" + s.Tenant.String()
	}
	return s.Kind.String()
}

type ctxKey struct{}

// Begin starts a unit of work. Whatever selection the parent context carried
// is discarded and the shared store becomes active.
func Begin(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, Shared())
}

// WithSelection derives a context with sel active. The parent keeps its own
// selection, so returning to the parent restores the previous tenant.
func WithSelection(ctx context.Context, sel Selection) context.Context {
	return context.WithValue(ctx, ctxKey{}, sel)
}

// Activate is WithSelection with an explicit end of scope. After release the
// derived context is cancelled, so work still holding it cannot reach the
// activated tenant by accident.
func Activate(ctx context.Context, sel Selection) (context.Context, context.CancelFunc) {
	scoped, cancel := context.WithCancel(WithSelection(ctx, sel))
	return scoped, cancel
}

// Current returns the active selection. A context that never went through
// Begin reports Unset.
func Current(ctx context.Context) Selection {
	if ctx == nil {
		return Selection{}
	}
	sel, ok := ctx.Value(ctxKey{}).(Selection)
	if !ok {
		return Selection{}
	}
	return sel
}

// Run calls fn with sel active and releases the scope when fn returns,
// including on panic.
func Run(ctx context.Context, sel Selection, fn func(context.Context) error) error {
	scoped, release := Activate(ctx, sel)
	defer release()
	return fn(scoped)
}
