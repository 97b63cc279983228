package observability

import (
	"context"

	"go.uber.org/zap"
)

// EventBus publishes structured domain events to the log stream. It backs the
// domain.EventPublisher port and is the sink for accounting anomalies and
// other events that must never be silently dropped.
type EventBus struct {
	logger *zap.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger: logger,
	}
}

// Publish publishes an event with the given type and data.
func (e *EventBus) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if e.logger == nil {
		return
	}

	fields := make([]zap.Field, 0, len(data)+1)
	fields = append(fields, zap.String("event", eventType))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	FromContext(ctx).With(fields...).Info("domain event")
}
