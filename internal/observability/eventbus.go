package observability

import (
	"context"

	"go.uber.org/zap"
)

// Ledger event types.
const (
	EventCreditsDeducted     = "credits.deducted"
	EventCreditsAdded        = "credits.added"
	EventCreditsInsufficient = "credits.insufficient"
	EventLedgerConflict      = "ledger.conflict"
)

// EventBus implements the EventPublisher interface. It logs every event and
// feeds ledger events into the metrics.
type EventBus struct {
	metrics *Metrics
}

// NewEventBus creates a new event bus.
func NewEventBus(metrics *Metrics) *EventBus {
	return &EventBus{
		metrics: metrics,
	}
}

// Publish publishes an event with the given type and data.
func (e *EventBus) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	fields := make([]zap.Field, 0, len(data)+1)
	fields = append(fields, String("event", eventType))
	for k, v := range data {
		fields = append(fields, Any(k, v))
	}
	FromContext(ctx).Info("ledger event", fields...)

	if e.metrics == nil {
		return
	}

	switch eventType {
	case EventCreditsDeducted:
		e.metrics.RecordDeducted(stringField(data, "operation"), floatField(data, "amount"))
	case EventCreditsAdded:
		e.metrics.RecordAdded(stringField(data, "kind"), floatField(data, "amount"))
	case EventCreditsInsufficient:
		e.metrics.RecordInsufficient(stringField(data, "operation"))
	case EventLedgerConflict:
		e.metrics.RecordConflict()
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func floatField(data map[string]interface{}, key string) float64 {
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}
