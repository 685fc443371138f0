// Package bus provides the typed publish/subscribe event bus that connects
// the coordination engine to external collaborators (dashboards, logging,
// journal writers).
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies an engine event.
type EventType string

// Engine event types. External collaborators subscribe to these; the engine
// never depends on any subscriber.
const (
	NodeRegistered   EventType = "node:registered"
	NodeConnected    EventType = "node:connected"
	NodeDisconnected EventType = "node:disconnected"

	MessageSent     EventType = "message:sent"
	MessageReceived EventType = "message:received"
	MessageFailed   EventType = "message:failed"

	TaskSubmitted  EventType = "task:submitted"
	TaskAssigned   EventType = "task:assigned"
	TaskCompleted  EventType = "task:completed"
	TaskFailed     EventType = "task:failed"
	TaskCancelled  EventType = "task:cancelled"
	TaskReassigned EventType = "task:reassigned"
	TaskProgress   EventType = "task:progress"

	ConsensusInitiated EventType = "consensus:initiated"
	ConsensusReached   EventType = "consensus:reached"
	VoteCast           EventType = "vote:cast"

	GossipStarted  EventType = "gossip:started"
	MetricsUpdated EventType = "metrics:updated"
	Shutdown       EventType = "shutdown"
)

// Event is a single engine event with a discriminated payload.
type Event struct {
	Type   EventType      `json:"type"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out synchronously to subscribers. Handlers run on the
// publisher's goroutine; a panicking handler is contained and logged so one
// bad subscriber cannot halt a processing tick.
type Bus struct {
	mu       sync.RWMutex
	byType   map[EventType][]Handler
	wildcard []Handler
	log      *zap.Logger
}

// New creates an event bus. A nil logger falls back to zap.NewNop.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		byType: make(map[EventType][]Handler),
		log:    log,
	}
}

// Subscribe registers a handler for a single event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	b.byType[t] = append(b.byType[t], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.wildcard = append(b.wildcard, h)
	b.mu.Unlock()
}

// Publish delivers an event to all matching handlers.
func (b *Bus) Publish(t EventType, fields map[string]any) {
	ev := Event{Type: t, At: time.Now(), Fields: fields}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[t])+len(b.wildcard))
	handlers = append(handlers, b.byType[t]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	h(ev)
}
