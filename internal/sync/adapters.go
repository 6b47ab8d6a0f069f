package sync

import (
	"context"
	"time"
)

// Outcome classifies the result of one transport exchange
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailure  Outcome = "failure"
)

// SendResult is the logical response of the server to one operation
type SendResult struct {
	Outcome Outcome

	// Success: the server's authoritative payload and new version
	Payload Payload
	Version int64

	// Conflict: the server's current payload and how it diverged
	ConflictType ConflictType

	// Failure
	Retryable bool
	Message   string
}

// Transport performs the network exchange for one operation. It owns
// per-request timeouts; a timed-out request surfaces as a retryable failure.
type Transport interface {
	Send(ctx context.Context, op *Operation) (SendResult, error)
}

// Store persists pending operations, open conflicts, and entity snapshots.
// Implementations must be safe for concurrent use.
type Store interface {
	LoadPendingOperations() ([]*Operation, error)
	PersistOperation(op *Operation) error
	UpdateOperation(op *Operation) error
	RemoveOperation(id string) error

	UpsertEntitySnapshot(entityType, entityID string, payload Payload, version int64) error
	GetEntitySnapshot(entityType, entityID string) (Payload, int64, error)
	RemoveEntitySnapshot(entityType, entityID string) error

	SaveConflict(c *Conflict) error
	DeleteConflict(id string) error
	LoadOpenConflicts() ([]*Conflict, error)

	RecordDrain(startedAt time.Time, duration time.Duration, s Summary) error
}

// VersionProvider reports the version a client currently holds for an
// entity, used to stamp ExpectedVersion at enqueue time
type VersionProvider interface {
	CurrentVersion(entityType, entityID string) (int64, error)
}
