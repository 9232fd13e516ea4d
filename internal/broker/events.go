package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entitlement-service/internal/models"
	"entitlement-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher is the telemetry sink for the purchase orchestrator: one
// event per catalog/purchase/restore attempt and result, published to the
// telemetry topic.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

// Emit publishes a telemetry event. Telemetry is best-effort: a publish
// failure is logged and never propagated to the purchase flow.
func (ep *EventPublisher) Emit(ctx context.Context, name string, params map[string]string) {
	event := &models.TelemetryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTelemetry,
			Timestamp: time.Now(),
		},
		Name:   name,
		Params: params,
	}

	if err := ep.producer.PublishEvent(ctx, name, event); err != nil {
		ep.logger.Error("Failed to publish telemetry event",
			zap.String("name", name),
			zap.Error(err))
	}
}

// DecodeTransactionEvent unmarshals a transaction lifecycle message from
// the platform stream. Non-transaction event types return (nil, nil) so
// the caller can acknowledge and skip them.
func DecodeTransactionEvent(msg kafka.Message) (*models.TransactionUpdateEvent, error) {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	if !models.IsTransactionEvent(base.EventType) {
		return nil, nil
	}

	var event models.TransactionUpdateEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", base.EventType, err)
	}

	if event.Entry.Signed.TransactionID == "" {
		return nil, fmt.Errorf("transaction event %s has no transaction id", base.EventID)
	}

	return &event, nil
}
