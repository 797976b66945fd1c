package notify

import (
	"encoding/json"
	"time"
)

const (
	EventNotificationCreated = "NotificationCreated"
	EventVersion             = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// Event is what the core hands to the delivery side for one notification row.
type Event struct {
	NotificationID string    `json:"notification_id"`
	ActorID        string    `json:"actor_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
