package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

// TenantEnsurer is the part of the provisioner the aggregator depends on.
type TenantEnsurer interface {
	EnsureReady(ctx context.Context, t domain.Tenant) (domain.ConnectionDescriptor, error)
}

type AggregateOptions struct {
	// Tenants restricts the fan-out. Empty means every tenant in the directory.
	Tenants []domain.TenantID
	// Concurrency <= 1 runs tenants one after another.
	Concurrency int
	// SkipProvision runs op against whatever state each tenant is in.
	SkipProvision bool
	// IncludeShared also runs op once against the shared store, reported
	// under domain.SharedTenantID.
	IncludeShared bool
}

// Results holds one value or one error per tenant, never both.
type Results[T any] struct {
	Values map[domain.TenantID]T
	Errors map[domain.TenantID]error
}

// IDs returns every tenant with an outcome, sorted.
func (r Results[T]) IDs() []domain.TenantID {
	ids := make([]domain.TenantID, 0, len(r.Values)+len(r.Errors))
	for id := range r.Values {
		ids = append(ids, id)
	}
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Results[T]) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &domain.AggregationError{Failures: r.Errors, Total: len(r.Values) + len(r.Errors)}
}

type Aggregator struct {
	directory   ports.TenantDirectory
	ensurer     TenantEnsurer
	concurrency int
	metrics     *metrics.Collector
	logger      *zap.Logger
}

func NewAggregator(directory ports.TenantDirectory, ensurer TenantEnsurer, concurrency int, m *metrics.Collector, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		directory:   directory,
		ensurer:     ensurer,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.Named("aggregator"),
	}
}

// DefaultConcurrency is used when options leave Concurrency at zero.
func (a *Aggregator) DefaultConcurrency() int {
	return a.concurrency
}

type outcome[T any] struct {
	id    domain.TenantID
	value T
	err   error
}

// Aggregate runs op once per tenant, each inside its own tenant scope. A
// failing or panicking tenant is recorded and the rest keep going. When ctx
// ends the collected results are returned and every tenant still running is
// reported with the context error.
func Aggregate[T any](ctx context.Context, a *Aggregator, op func(ctx context.Context, id domain.TenantID) (T, error), opts AggregateOptions) (Results[T], error) {
	start := time.Now()
	defer func() { a.metrics.AggregateDone(time.Since(start)) }()

	res := Results[T]{
		Values: make(map[domain.TenantID]T),
		Errors: make(map[domain.TenantID]error),
	}

	ids := opts.Tenants
	if len(ids) == 0 {
		tenants, err := a.directory.List(ctx)
		if err != nil {
			return res, fmt.Errorf("list tenants: %w", err)
		}
		ids = make([]domain.TenantID, 0, len(tenants))
		for _, t := range tenants {
			ids = append(ids, t.ID)
		}
	}
	if opts.IncludeShared {
		ids = append([]domain.TenantID{domain.SharedTenantID}, ids...)
	}
	ids = dedupeTenants(ids)

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = a.concurrency
	}

	record := func(o outcome[T]) {
		if o.err != nil {
			res.Errors[o.id] = o.err
			a.metrics.AggregateTenant(false)
			a.logger.Warn("tenant operation failed", zap.Int64("tenant_id", int64(o.id)), zap.Error(o.err))
			return
		}
		res.Values[o.id] = o.value
		a.metrics.AggregateTenant(true)
	}

	if concurrency <= 1 {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				record(outcome[T]{id: id, err: err})
				continue
			}
			// One tenant at a time, but a tenant that ignores ctx is
			// abandoned once ctx ends.
			ch := make(chan outcome[T], 1)
			go func(id domain.TenantID) {
				v, err := runTenant(ctx, a, id, op, opts)
				ch <- outcome[T]{id: id, value: v, err: err}
			}(id)
			select {
			case o := <-ch:
				record(o)
			case <-ctx.Done():
				record(outcome[T]{id: id, err: ctx.Err()})
			}
		}
		return res, res.Err()
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	ch := make(chan outcome[T], len(ids))
	for _, id := range ids {
		go func(id domain.TenantID) {
			if err := sem.Acquire(ctx, 1); err != nil {
				ch <- outcome[T]{id: id, err: err}
				return
			}
			defer sem.Release(1)
			v, err := runTenant(ctx, a, id, op, opts)
			ch <- outcome[T]{id: id, value: v, err: err}
		}(id)
	}

collect:
	for range ids {
		select {
		case o := <-ch:
			record(o)
		case <-ctx.Done():
			break collect
		}
	}
drain:
	for {
		select {
		case o := <-ch:
			record(o)
		default:
			break drain
		}
	}
	for _, id := range ids {
		_, ok := res.Values[id]
		if _, failed := res.Errors[id]; !ok && !failed {
			record(outcome[T]{id: id, err: ctx.Err()})
		}
	}
	return res, res.Err()
}

func runTenant[T any](ctx context.Context, a *Aggregator, id domain.TenantID, op func(context.Context, domain.TenantID) (T, error), opts AggregateOptions) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tenant %d: panic: %v", id, r)
		}
	}()

	base := tenancy.Begin(ctx)
	if id == domain.SharedTenantID {
		scoped, release := tenancy.Activate(base, tenancy.Shared())
		defer release()
		return op(scoped, id)
	}

	if !opts.SkipProvision {
		t, err := a.directory.Get(ctx, id)
		if err != nil {
			return v, err
		}
		if _, err := a.ensurer.EnsureReady(ctx, t); err != nil {
			return v, err
		}
	}
	scoped, release := tenancy.Activate(base, tenancy.Tenant(id))
	defer release()
	return op(scoped, id)
}

func dedupeTenants(ids []domain.TenantID) []domain.TenantID {
	seen := make(map[domain.TenantID]struct{}, len(ids))
	out := make([]domain.TenantID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
