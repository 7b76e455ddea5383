package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.TenantEvent) error
}
