package sync

import (
	"time"
)

// OperationMetadata carries the bookkeeping attached to an operation at
// enqueue time. EntityID plus ExpectedVersion form the optimistic-concurrency
// precondition sent to the server.
type OperationMetadata struct {
	CreatedAt       time.Time `json:"created_at"`
	ActorID         string    `json:"actor_id"`
	DeviceID        string    `json:"device_id"`
	ExpectedVersion int64     `json:"expected_version"`
	Checksum        string    `json:"checksum"`
	Priority        Priority  `json:"priority"`
}

// Operation is a durable unit of intended change. Its ID is immutable and
// unique for the lifetime of the queue; only the queue mutates it during
// draining.
type Operation struct {
	ID         string            `json:"id"`
	Kind       OperationKind     `json:"kind"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Payload    Payload           `json:"payload"`
	Metadata   OperationMetadata `json:"metadata"`

	Status        OperationStatus `json:"status"`
	RetryCount    int             `json:"retry_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`

	// Seq preserves enqueue order for FIFO within a priority band
	Seq int64 `json:"seq"`

	// persisted flips once the store write succeeds; a reserved operation
	// is visible to dedup but not yet eligible for dispatch
	persisted bool

	// optimistic-update reversal state, not serialized
	optimisticApplied bool
	optimisticPrev    Payload
	optimisticPrevVer int64
	optimisticHadPrev bool
}

// Conflict represents divergent local and server versions of one entity.
// It exists only while unresolved; resolving it produces exactly one
// replacement operation and removes it from the open set.
type Conflict struct {
	ID            string          `json:"id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	OperationID   string          `json:"operation_id"`
	LocalPayload  Payload         `json:"local_payload"`
	ServerPayload Payload         `json:"server_payload"`
	DetectedAt    time.Time       `json:"detected_at"`
	ConflictType  ConflictType    `json:"conflict_type"`
	FieldConflicts []FieldConflict `json:"field_conflicts,omitempty"`
}

// FieldConflict records one per-field divergence between the two versions
type FieldConflict struct {
	FieldName      string         `json:"field_name"`
	LocalValue     Value          `json:"local_value"`
	ServerValue    Value          `json:"server_value"`
	DataType       DataType       `json:"data_type"`
	BusinessImpact BusinessImpact `json:"business_impact"`
	AutoResolvable bool           `json:"auto_resolvable"`
}

// ResolutionResult is the transient outcome of executing a strategy
type ResolutionResult struct {
	Success                  bool     `json:"success"`
	ResolvedPayload          Payload  `json:"resolved_payload,omitempty"`
	StrategyUsed             Strategy `json:"strategy_used"`
	Confidence               int      `json:"confidence"`
	RequiresUserConfirmation bool     `json:"requires_user_confirmation"`
	Warnings                 []string `json:"warnings,omitempty"`
	Rationale                string   `json:"rationale"`
}

// SyncState is derived from the operation and conflict sets, never mutated
// independently
type SyncState struct {
	IsOnline     bool      `json:"is_online"`
	IsSyncing    bool      `json:"is_syncing"`
	PendingCount int       `json:"pending_count"`
	ConflictCount int      `json:"conflict_count"`
	LastSyncTime time.Time `json:"last_sync_time"`
	SyncProgress float64   `json:"sync_progress"`
}

// SyncMetrics aggregates outcomes across the queue's lifetime
type SyncMetrics struct {
	SuccessfulOperations int     `json:"successful_operations"`
	FailedOperations     int     `json:"failed_operations"`
	ConflictsDetected    int     `json:"conflicts_detected"`
	ConflictsResolved    int     `json:"conflicts_resolved"`
	SuccessRate          float64 `json:"success_rate"`
}

// Summary reports the outcome of one drain pass
type Summary struct {
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Conflicted int `json:"conflicted"`
}
