package ports

import (
	"context"
	"io"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type TenantDirectory interface {
	// Create inserts a pending tenant. nameFor derives the database name from
	// the id the store assigns.
	Create(ctx context.Context, name string, nameFor func(domain.TenantID) string) (domain.Tenant, error)
	Get(ctx context.Context, id domain.TenantID) (domain.Tenant, error)
	List(ctx context.Context) ([]domain.Tenant, error)
	// ListRetryable returns pending or failed tenants due for another attempt.
	ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Tenant, error)
	MarkReady(ctx context.Context, id domain.TenantID, at time.Time) error
	MarkFailed(ctx context.Context, id domain.TenantID, reason string, attempts int, next time.Time) error
}

type UserRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	Grants(ctx context.Context, userID int64) ([]domain.AccessGrant, error)
	Grant(ctx context.Context, grant domain.AccessGrant) error
}

// DatabaseAdmin creates tenant databases through an administrative
// connection that is never one of the tenant connections.
type DatabaseAdmin interface {
	Exists(ctx context.Context, name string) (bool, error)
	// Create returns domain.ErrDatabaseExists when another creator won.
	Create(ctx context.Context, name string) error
}

type Connector[H io.Closer] interface {
	Open(ctx context.Context, desc domain.ConnectionDescriptor) (H, error)
}

type SchemaMigrator[H io.Closer] interface {
	Pending(ctx context.Context, h H) (bool, error)
	// Up applies pending migrations and reports how many ran.
	Up(ctx context.Context, h H) (int, error)
}
