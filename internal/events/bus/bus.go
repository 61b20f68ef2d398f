// Package bus provides the hive's internal event stream abstractions.
// Components publish lifecycle events (task transitions, agent status
// changes) that observers consume without coupling to the producers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // component that produced the event
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a fresh UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one event. Errors are logged, not propagated to the
// publisher.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is implemented in-memory (single process, the default) and over
// NATS (when an external consumer such as a dashboard tails the hive).
type EventBus interface {
	// Publish sends an event to a subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern ("task.*").
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close shuts the bus down.
	Close()

	// IsConnected reports whether the bus can deliver.
	IsConnected() bool
}
