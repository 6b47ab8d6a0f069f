package sync

import (
	"context"

	"github.com/nexovan/fieldsync/internal/config"
)

// Coordinator wires the queue, analyzer, resolver, and adapters together and
// exposes the public operation surface of the sync layer. It holds no state
// of its own.
type Coordinator struct {
	queue     *SyncQueue
	transport Transport
	events    *EventBus
}

// NewCoordinator builds the sync layer from its collaborators. When the
// transport is an *HTTPTransport its connectivity transitions are wired to
// the queue automatically.
func NewCoordinator(cfg *config.SyncConfig, store Store, transport Transport, versions VersionProvider, instanceID string) (*Coordinator, error) {
	events := NewEventBus()

	queue, err := NewSyncQueue(cfg, store, transport, versions, events, instanceID)
	if err != nil {
		return nil, err
	}

	if ht, ok := transport.(*HTTPTransport); ok {
		ht.OnTransition = queue.SetOnline
	}

	return &Coordinator{
		queue:     queue,
		transport: transport,
		events:    events,
	}, nil
}

// Start launches background loops (scheduled drains, route health checks)
func (c *Coordinator) Start() error {
	if ht, ok := c.transport.(*HTTPTransport); ok {
		ht.Start()
	}
	return c.queue.Start()
}

// Stop halts background loops without aborting in-flight operations
func (c *Coordinator) Stop() {
	c.queue.Stop()
	if ht, ok := c.transport.(*HTTPTransport); ok {
		ht.Stop()
	}
}

// Enqueue records an intended mutation and returns the operation id
func (c *Coordinator) Enqueue(kind OperationKind, entityType, entityID string, payload Payload, opts EnqueueOptions) (string, error) {
	return c.queue.Enqueue(kind, entityType, entityID, payload, opts)
}

// SyncAll drains all eligible pending operations once
func (c *Coordinator) SyncAll(ctx context.Context) Summary {
	return c.queue.Drain(ctx)
}

// GetConflicts returns the open conflict set
func (c *Coordinator) GetConflicts() []*Conflict {
	return c.queue.Conflicts()
}

// ResolveConflict executes a strategy against an open conflict
func (c *Coordinator) ResolveConflict(conflictID string, strategy Strategy, input UserInput) (bool, error) {
	return c.queue.ResolveConflict(conflictID, strategy, input)
}

// GetSyncState returns the derived sync state
func (c *Coordinator) GetSyncState() SyncState {
	return c.queue.State()
}

// GetSyncMetrics returns aggregate outcome counters
func (c *Coordinator) GetSyncMetrics() SyncMetrics {
	return c.queue.Metrics()
}

// FailedOperations returns terminally failed operations for inspection
func (c *Coordinator) FailedOperations() []*Operation {
	return c.queue.FailedOperations()
}

// Pause suspends scheduling of new drains
func (c *Coordinator) Pause() {
	c.queue.Pause()
}

// Resume re-enables draining
func (c *Coordinator) Resume() {
	c.queue.Resume()
}

// SetOnline overrides connectivity state, for hosts that track it themselves
func (c *Coordinator) SetOnline(online bool) {
	c.queue.SetOnline(online)
}

// Subscribe registers a lifecycle event handler and returns an unsubscribe
// func
func (c *Coordinator) Subscribe(fn func(Event)) func() {
	return c.events.Subscribe(fn)
}
