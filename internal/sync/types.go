package sync

// OperationKind represents the kind of mutation an operation carries
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
	OpRead   OperationKind = "read"
)

// Valid reports whether the kind is one of the recognized values
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete, OpRead:
		return true
	}
	return false
}

// Priority orders pending operations within a drain
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of a priority (lower drains first)
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// OperationStatus represents the lifecycle state of a queued operation
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusInFlight   OperationStatus = "in_flight"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusConflicted OperationStatus = "conflicted"
	// StatusPersistPending marks operations the server confirmed but whose
	// local snapshot write failed. They are never retried against the server.
	StatusPersistPending OperationStatus = "persist_pending"
)

// ConflictType classifies how a local and server version diverged
type ConflictType string

const (
	ConflictUpdate  ConflictType = "update_conflict"
	ConflictDelete  ConflictType = "delete_conflict"
	ConflictVersion ConflictType = "version_conflict"
)

// Strategy names a conflict resolution transform
type Strategy string

const (
	StrategyClientWins     Strategy = "client_wins"
	StrategyServerWins     Strategy = "server_wins"
	StrategyTimestampBased Strategy = "timestamp_based"
	StrategyPriorityBased  Strategy = "priority_based"
	StrategyFieldLevel     Strategy = "field_level"
	StrategyPolicyAware    Strategy = "policy_aware"
	StrategyUserGuided     Strategy = "user_guided"
)

// AutoResolutionPolicy is the configured behavior after conflict detection
type AutoResolutionPolicy string

const (
	PolicyClientWins AutoResolutionPolicy = "client_wins"
	PolicyServerWins AutoResolutionPolicy = "server_wins"
	PolicyMerge      AutoResolutionPolicy = "merge"
	PolicyManual     AutoResolutionPolicy = "manual"
)

// StrategyFor maps an auto-resolution policy to the strategy it executes
func (p AutoResolutionPolicy) StrategyFor() Strategy {
	switch p {
	case PolicyClientWins:
		return StrategyClientWins
	case PolicyServerWins:
		return StrategyServerWins
	case PolicyMerge:
		return StrategyFieldLevel
	}
	return ""
}

// Complexity grades how hard a conflict is to resolve automatically
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// BusinessImpact classifies how risky a field divergence is
type BusinessImpact string

const (
	ImpactLow      BusinessImpact = "low"
	ImpactModerate BusinessImpact = "moderate"
	ImpactCritical BusinessImpact = "critical"
)

// EventType identifies a lifecycle event emitted by the queue
type EventType string

const (
	EventOperationQueued    EventType = "operation_queued"
	EventOperationCompleted EventType = "operation_completed"
	EventOperationFailed    EventType = "operation_failed"
	EventSyncStarted        EventType = "sync_started"
	EventSyncCompleted      EventType = "sync_completed"
	EventConflictDetected   EventType = "conflict_detected"
	EventConflictResolved   EventType = "conflict_resolved"
)
