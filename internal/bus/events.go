// Package bus provides the local event distribution for the suggestion
// router. Delivery is synchronous and best-effort: a handler that panics is
// recovered and logged, never propagated to the caller that emitted.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing through the bus.
type EventType string

// Event types emitted by the suggestion router.
const (
	EventToolRegistered   EventType = "tool_registered"
	EventToolUnregistered EventType = "tool_unregistered"
	EventToolSuggested    EventType = "tool_suggested"
	EventCacheHit         EventType = "cache_hit"
	EventCacheMiss        EventType = "cache_miss"
	EventHealthCheck      EventType = "health_check"
	EventRequestRejected  EventType = "request_rejected"
	EventError            EventType = "error"
)

// Event is a single notification. Fields beyond ID/Timestamp/Type are
// populated depending on the event type.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Request tracking
	RequestID string `json:"request_id,omitempty"`

	// Suggestion context
	Query    string  `json:"query,omitempty"`
	Tool     string  `json:"tool,omitempty"`
	Score    float64 `json:"score,omitempty"`
	CacheKey string  `json:"cache_key,omitempty"`

	// Timing
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Health / error details
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewEvent creates an event of the given type with a fresh ID and timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
	}
}
