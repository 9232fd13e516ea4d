package models

import "time"

// Event types carried on the transaction stream and the telemetry topic.
const (
	EventTypeTransactionUpdated = "TRANSACTION_UPDATED"
	EventTypeTransactionRenewed = "TRANSACTION_RENEWED"
	EventTypeTransactionRevoked = "TRANSACTION_REVOKED"
	EventTypeTelemetry          = "TELEMETRY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionUpdateEvent is one platform-pushed transaction lifecycle
// notification: a purchase completed out of band, a renewal, or a
// revocation. The entry is untrusted until verified.
type TransactionUpdateEvent struct {
	BaseEvent
	Entry LedgerEntry `json:"entry"`
}

// IsTransactionEvent reports whether the event type belongs to the
// transaction lifecycle stream.
func IsTransactionEvent(eventType string) bool {
	switch eventType {
	case EventTypeTransactionUpdated, EventTypeTransactionRenewed, EventTypeTransactionRevoked:
		return true
	}
	return false
}

// TelemetryEvent is one orchestrator telemetry emission: an event name
// plus a flat parameter map. The payload shape is an external contract.
type TelemetryEvent struct {
	BaseEvent
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}
