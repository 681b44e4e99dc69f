package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// EventType names a lifecycle event.
type EventType string

// Lifecycle events.
const (
	EventDiscovered EventType = "plugin.discovered"
	EventRegistered EventType = "plugin.registered"
	EventEnabled    EventType = "plugin.enabled"
	EventDisabled   EventType = "plugin.disabled"
	EventFaulted    EventType = "plugin.faulted"
	EventUpdated    EventType = "plugin.updated"
)

// Event is emitted after a lifecycle change has been persisted.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Plugin     string    `json:"plugin"`
	Version    string    `json:"version"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event describing p.
func NewEvent(t EventType, p *Plugin, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Plugin:     p.Name,
		Version:    p.Version,
		State:      p.State,
		Reason:     p.FaultReason,
		OccurredAt: at,
	}
}

// MemoryEventBus records published events. Safe for concurrent use.
type MemoryEventBus struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryEventBus creates an empty MemoryEventBus.
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{}
}

// Publish records e.
func (b *MemoryEventBus) Publish(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

// Events returns a copy of every recorded event.
func (b *MemoryEventBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Types returns the recorded event types in order.
func (b *MemoryEventBus) Types() []EventType {
	events := b.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// LogEventPublisher writes events to a logger. It is the default when no
// broker is configured.
type LogEventPublisher struct {
	logger ports.Logger
}

// NewLogEventPublisher creates a LogEventPublisher.
func NewLogEventPublisher(logger ports.Logger) *LogEventPublisher {
	if logger == nil {
		logger = discardLogger{}
	}
	return &LogEventPublisher{logger: logger}
}

// Publish logs e at info level.
func (p *LogEventPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Info(ctx, string(e.Type),
		ports.F("plugin", e.Plugin),
		ports.F("version", e.Version),
		ports.F("state", string(e.State)),
	)
	return nil
}

var (
	_ EventPublisher = (*MemoryEventBus)(nil)
	_ EventPublisher = (*LogEventPublisher)(nil)
)
