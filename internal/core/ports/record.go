package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// RecordRepository stores records in the database of the active tenant.
type RecordRepository interface {
	Upsert(ctx context.Context, rec domain.Record) (domain.Record, error)
	Get(ctx context.Context, collection, id string) (domain.Record, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
	List(ctx context.Context, collection string, filter domain.RecordListFilter) ([]domain.Record, error)
	Count(ctx context.Context, collection string) (int64, error)
}

type CollectionSchemaRepository interface {
	Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error)
	Get(ctx context.Context, collection string) (domain.CollectionSchema, error)
	Delete(ctx context.Context, collection string) (bool, error)
}
