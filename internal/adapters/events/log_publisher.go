package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

// LogPublisher writes lifecycle events to the application log. It is the
// default when no webhook is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.TenantEvent) error {
	fields := []zap.Field{
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int64("tenant_id", int64(event.TenantID)),
		zap.String("database", event.DatabaseName),
	}
	if event.Error != "" {
		fields = append(fields, zap.String("stage", event.Stage), zap.String("error", event.Error))
	}
	p.logger.Info("tenant event", fields...)
	return nil
}
