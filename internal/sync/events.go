package sync

import (
	"sync"
	"time"
)

// Event is one lifecycle notification emitted by the queue
type Event struct {
	Type        EventType              `json:"type"`
	OperationID string                 `json:"operation_id,omitempty"`
	ConflictID  string                 `json:"conflict_id,omitempty"`
	EntityType  string                 `json:"entity_type,omitempty"`
	EntityID    string                 `json:"entity_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
}

// EventBus is a simple subscriber list. Handlers run synchronously on the
// emitting goroutine and must not block.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns an unsubscribe func
func (eb *EventBus) Subscribe(fn func(Event)) func() {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = fn
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		delete(eb.subs, id)
		eb.mu.Unlock()
	}
}

// Publish delivers an event to all current subscribers
func (eb *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	eb.mu.RLock()
	handlers := make([]func(Event), 0, len(eb.subs))
	for _, fn := range eb.subs {
		handlers = append(handlers, fn)
	}
	eb.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}
