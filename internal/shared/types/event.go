package types

import "time"

// EventType classifies outbound lifecycle events.
type EventType string

const (
	EventExecutionStarted     EventType = "execution_started"
	EventExecutionCompleted   EventType = "execution_completed"
	EventQueuePositionChanged EventType = "queue_position_changed"
)

// Event is one lifecycle notification pushed to outbound consumers
// (webhook delivery, live stream). The core emits each event exactly once
// and never blocks on delivery outcome.
type Event struct {
	Type           EventType   `json:"event_type"`
	RequestID      string      `json:"request_id"`
	Status         State       `json:"status"`
	ExecutionTime  float64     `json:"execution_time,omitempty"` // seconds
	QueuePosition  int         `json:"queue_position,omitempty"`
	VideoReference string      `json:"video_reference,omitempty"`
	Result         interface{} `json:"result,omitempty"`
	Error          string      `json:"error,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`

	// Delivery target; not part of the payload.
	WebhookURL string `json:"-"`
}

// EventSink consumes lifecycle events. Implementations own their
// buffering; Emit must not block the caller.
type EventSink interface {
	Emit(Event)
}
