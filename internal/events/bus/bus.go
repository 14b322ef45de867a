// Package bus provides the event bus carrying run lifecycle notifications.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the runtime.
const (
	SubjectRunCreated   = "run.created"
	SubjectRunCompleted = "run.completed"
	SubjectRunFailed    = "run.failed"
	SubjectCronFired    = "cron.fired"

	// SubjectRunAll matches every run lifecycle subject.
	SubjectRunAll = "run.>"
)

// Event is a message on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a fresh ID and current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler processes one delivered event. Errors are logged, not retried.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes and subscribes with NATS-style subjects. Patterns
// support * (one token) and > (trailing tokens).
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
