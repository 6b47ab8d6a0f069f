package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncHistory records each drain pass for operational dashboards
type SyncHistory struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	StartedAt   time.Time      `gorm:"column:started_at;not null;index" json:"startedAt"`
	Duration    int            `gorm:"column:duration;default:0" json:"duration"` // milliseconds
	Succeeded   int            `gorm:"column:succeeded;default:0" json:"succeeded"`
	Failed      int            `gorm:"column:failed;default:0" json:"failed"`
	Conflicted  int            `gorm:"column:conflicted;default:0" json:"conflicted"`
	DebugInfo   datatypes.JSON `gorm:"column:debug_info;type:jsonb" json:"debugInfo"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"-"`
}

// TableName specifies the table name
func (SyncHistory) TableName() string {
	return "sync_history"
}
