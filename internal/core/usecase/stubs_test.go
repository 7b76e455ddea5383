package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

// selectionLocator keys stores by the active selection, one store per tenant.
type selectionLocator struct{}

func (selectionLocator) Locate(ctx context.Context, _ tenancy.EntityKind) (tenancy.StoreKey, error) {
	sel := tenancy.Current(ctx)
	if sel.Kind == tenancy.Unset {
		return "", domain.ErrTenantNotProvisioned
	}
	return tenancy.StoreKey(sel.String()), nil
}

func tenantCtx(id domain.TenantID) context.Context {
	return tenancy.WithSelection(tenancy.Begin(context.Background()), tenancy.Tenant(id))
}

// stubSchemaRepo is an in-memory CollectionSchemaRepository scoped by the
// active selection.
type stubSchemaRepo struct {
	mu      sync.Mutex
	schemas map[string]domain.CollectionSchema
	gets    int
}

func newStubSchemaRepo() *stubSchemaRepo {
	return &stubSchemaRepo{schemas: make(map[string]domain.CollectionSchema)}
}

func scopedKey(ctx context.Context, collection string) string {
	return tenancy.Current(ctx).String() + "/" + collection
}

func (r *stubSchemaRepo) Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[scopedKey(ctx, schema.Collection)] = schema
	return schema, nil
}

func (r *stubSchemaRepo) Get(ctx context.Context, collection string) (domain.CollectionSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	s, ok := r.schemas[scopedKey(ctx, collection)]
	if !ok {
		return domain.CollectionSchema{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *stubSchemaRepo) Delete(ctx context.Context, collection string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scopedKey(ctx, collection)
	if _, ok := r.schemas[key]; !ok {
		return false, nil
	}
	delete(r.schemas, key)
	return true, nil
}

// stubRecordRepo keeps records per active selection.
type stubRecordRepo struct {
	mu      sync.Mutex
	records map[string]domain.Record
	failFor map[domain.TenantID]error
}

func newStubRecordRepo() *stubRecordRepo {
	return &stubRecordRepo{records: make(map[string]domain.Record), failFor: make(map[domain.TenantID]error)}
}

func (r *stubRecordRepo) fail(ctx context.Context) error {
	sel := tenancy.Current(ctx)
	if sel.Kind == tenancy.SingleTenant {
		return r.failFor[sel.Tenant]
	}
	return nil
}

func (r *stubRecordRepo) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := r.fail(ctx); err != nil {
		return domain.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.records[scopedKey(ctx, rec.Collection)+"/"+rec.ID] = rec
	return rec, nil
}

func (r *stubRecordRepo) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[scopedKey(ctx, collection)+"/"+id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *stubRecordRepo) Delete(ctx context.Context, collection, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := scopedKey(ctx, collection) + "/" + id
	if _, ok := r.records[key]; !ok {
		return false, nil
	}
	delete(r.records, key)
	return true, nil
}

func (r *stubRecordRepo) List(ctx context.Context, collection string, filter domain.RecordListFilter) ([]domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := scopedKey(ctx, collection) + "/"
	var out []domain.Record
	for key, rec := range r.records {
		if strings.HasPrefix(key, prefix+filter.Prefix) && rec.ID > filter.After {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *stubRecordRepo) Count(ctx context.Context, collection string) (int64, error) {
	if err := r.fail(ctx); err != nil {
		return 0, err
	}
	recs, _ := r.List(ctx, collection, domain.RecordListFilter{})
	return int64(len(recs)), nil
}
