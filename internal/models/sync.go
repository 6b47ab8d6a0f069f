package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncOperation is the persisted form of a queued operation. Rows are
// removed on completion and retained with terminal status on exhausted
// failure.
type SyncOperation struct {
	ID         string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind       string `gorm:"type:varchar(20);not null" json:"kind"`
	EntityType string `gorm:"type:varchar(100);not null;index:idx_entity" json:"entityType"`
	EntityID   string `gorm:"type:varchar(255);not null;index:idx_entity" json:"entityId"`
	Payload    JSONB  `gorm:"type:jsonb" json:"payload"`

	ActorID         string `gorm:"type:varchar(255)" json:"actorId"`
	DeviceID        string `gorm:"type:varchar(255)" json:"deviceId"`
	ExpectedVersion int64  `gorm:"default:0" json:"expectedVersion"`
	Checksum        string `gorm:"type:varchar(64);not null" json:"checksum"`
	Priority        string `gorm:"type:varchar(10);default:'medium';index:idx_pending" json:"priority"`

	Status        string     `gorm:"type:varchar(20);default:'pending';index:idx_pending" json:"status"`
	RetryCount    int        `gorm:"default:0" json:"retryCount"`
	NextAttemptAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"nextAttemptAt"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	LastError     *string    `gorm:"type:text" json:"lastError,omitempty"`

	Seq       int64     `gorm:"not null;index:idx_seq" json:"seq"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (SyncOperation) TableName() string {
	return "sync_queue"
}

// SyncConflict is the persisted form of an open conflict. Rows exist only
// while the conflict is unresolved.
type SyncConflict struct {
	ID           string `gorm:"type:varchar(36);primaryKey" json:"id"`
	EntityType   string `gorm:"type:varchar(100);not null;index:idx_conflict_entity" json:"entityType"`
	EntityID     string `gorm:"type:varchar(255);not null;index:idx_conflict_entity" json:"entityId"`
	OperationID  string `gorm:"type:varchar(36);not null" json:"operationId"`
	ConflictType string `gorm:"type:varchar(50)" json:"conflictType"`

	LocalData  JSONB `gorm:"type:jsonb" json:"localData"`
	RemoteData JSONB `gorm:"type:jsonb" json:"remoteData"`

	DetectedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"detectedAt"`
	CreatedAt  time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name
func (SyncConflict) TableName() string {
	return "sync_conflicts"
}

// EntitySnapshot is the local copy of one entity: the payload last confirmed
// by the server, or an optimistic local write awaiting confirmation
type EntitySnapshot struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	EntityType string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_snapshot" json:"entityType"`
	EntityID   string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_snapshot" json:"entityId"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Version    int64          `gorm:"default:0" json:"version"`
	CreatedAt  time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (EntitySnapshot) TableName() string {
	return "entity_snapshots"
}
