package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexovan/fieldsync/internal/database"
	"github.com/nexovan/fieldsync/internal/models"
	"github.com/nexovan/fieldsync/internal/sync"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the database-backed Local Store adapter. It persists pending
// operations, open conflicts, and entity snapshots, and doubles as the
// entity version provider.
type GormStore struct {
	db *database.DB
}

// New creates a store over an open database connection
func New(db *database.DB) *GormStore {
	return &GormStore{db: db}
}

// LoadPendingOperations restores every non-completed operation. Completed
// rows are removed at completion time, so everything on disk is live state.
func (s *GormStore) LoadPendingOperations() ([]*sync.Operation, error) {
	var records []models.SyncOperation
	if err := s.db.Order("seq asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}

	out := make([]*sync.Operation, 0, len(records))
	for i := range records {
		op := fromRecord(&records[i])
		// An in-flight row survived a shutdown; it retries on the next drain
		if op.Status == sync.StatusInFlight {
			op.Status = sync.StatusPending
		}
		out = append(out, op)
	}
	return out, nil
}

// PersistOperation inserts a new operation row
func (s *GormStore) PersistOperation(op *sync.Operation) error {
	return s.db.Create(toRecord(op)).Error
}

// UpdateOperation writes back the mutable fields of an operation
func (s *GormStore) UpdateOperation(op *sync.Operation) error {
	rec := toRecord(op)
	return s.db.Model(&models.SyncOperation{}).
		Where("id = ?", op.ID).
		Updates(map[string]interface{}{
			"status":          rec.Status,
			"retry_count":     rec.RetryCount,
			"next_attempt_at": rec.NextAttemptAt,
			"last_attempt_at": rec.LastAttemptAt,
			"last_error":      rec.LastError,
		}).Error
}

// RemoveOperation deletes an operation row by id
func (s *GormStore) RemoveOperation(id string) error {
	return s.db.Where("id = ?", id).Delete(&models.SyncOperation{}).Error
}

// UpsertEntitySnapshot writes the local copy of an entity
func (s *GormStore) UpsertEntitySnapshot(entityType, entityID string, payload sync.Payload, version int64) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot payload: %w", err)
	}

	snapshot := models.EntitySnapshot{
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    datatypes.JSON(raw),
		Version:    version,
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "version", "updated_at"}),
	}).Create(&snapshot).Error
}

// GetEntitySnapshot returns the local copy of an entity and its version
func (s *GormStore) GetEntitySnapshot(entityType, entityID string) (sync.Payload, int64, error) {
	var snapshot models.EntitySnapshot
	err := s.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		First(&snapshot).Error
	if err != nil {
		return nil, 0, err
	}

	var payload sync.Payload
	if err := json.Unmarshal(snapshot.Payload, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return payload, snapshot.Version, nil
}

// RemoveEntitySnapshot deletes the local copy of an entity
func (s *GormStore) RemoveEntitySnapshot(entityType, entityID string) error {
	return s.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Delete(&models.EntitySnapshot{}).Error
}

// CurrentVersion implements the entity version provider against the
// snapshot table. Unknown entities report version zero.
func (s *GormStore) CurrentVersion(entityType, entityID string) (int64, error) {
	var snapshot models.EntitySnapshot
	err := s.db.Select("version").
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		First(&snapshot).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snapshot.Version, nil
}

// SaveConflict inserts an open conflict row
func (s *GormStore) SaveConflict(c *sync.Conflict) error {
	return s.db.Create(&models.SyncConflict{
		ID:           c.ID,
		EntityType:   c.EntityType,
		EntityID:     c.EntityID,
		OperationID:  c.OperationID,
		ConflictType: string(c.ConflictType),
		LocalData:    models.JSONB(c.LocalPayload.Interface()),
		RemoteData:   models.JSONB(c.ServerPayload.Interface()),
		DetectedAt:   c.DetectedAt,
	}).Error
}

// DeleteConflict removes a resolved conflict row
func (s *GormStore) DeleteConflict(id string) error {
	return s.db.Where("id = ?", id).Delete(&models.SyncConflict{}).Error
}

// LoadOpenConflicts restores the open conflict set
func (s *GormStore) LoadOpenConflicts() ([]*sync.Conflict, error) {
	var records []models.SyncConflict
	if err := s.db.Order("detected_at asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync conflicts: %w", err)
	}

	out := make([]*sync.Conflict, 0, len(records))
	for _, rec := range records {
		out = append(out, &sync.Conflict{
			ID:            rec.ID,
			EntityType:    rec.EntityType,
			EntityID:      rec.EntityID,
			OperationID:   rec.OperationID,
			ConflictType:  sync.ConflictType(rec.ConflictType),
			LocalPayload:  sync.PayloadFromInterface(rec.LocalData),
			ServerPayload: sync.PayloadFromInterface(rec.RemoteData),
			DetectedAt:    rec.DetectedAt,
		})
	}
	return out, nil
}

// RecordDrain appends one drain pass to the history table
func (s *GormStore) RecordDrain(startedAt time.Time, duration time.Duration, summary sync.Summary) error {
	return s.db.Create(&models.SyncHistory{
		StartedAt:  startedAt,
		Duration:   int(duration.Milliseconds()),
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Conflicted: summary.Conflicted,
	}).Error
}

func toRecord(op *sync.Operation) *models.SyncOperation {
	rec := &models.SyncOperation{
		ID:              op.ID,
		Kind:            string(op.Kind),
		EntityType:      op.EntityType,
		EntityID:        op.EntityID,
		Payload:         models.JSONB(op.Payload.Interface()),
		ActorID:         op.Metadata.ActorID,
		DeviceID:        op.Metadata.DeviceID,
		ExpectedVersion: op.Metadata.ExpectedVersion,
		Checksum:        op.Metadata.Checksum,
		Priority:        string(op.Metadata.Priority),
		Status:          string(op.Status),
		RetryCount:      op.RetryCount,
		NextAttemptAt:   op.NextAttemptAt,
		LastAttemptAt:   op.LastAttemptAt,
		Seq:             op.Seq,
		CreatedAt:       op.Metadata.CreatedAt,
	}
	if op.LastError != "" {
		lastError := op.LastError
		rec.LastError = &lastError
	}
	return rec
}

func fromRecord(rec *models.SyncOperation) *sync.Operation {
	op := &sync.Operation{
		ID:         rec.ID,
		Kind:       sync.OperationKind(rec.Kind),
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Payload:    sync.PayloadFromInterface(rec.Payload),
		Metadata: sync.OperationMetadata{
			CreatedAt:       rec.CreatedAt,
			ActorID:         rec.ActorID,
			DeviceID:        rec.DeviceID,
			ExpectedVersion: rec.ExpectedVersion,
			Checksum:        rec.Checksum,
			Priority:        sync.Priority(rec.Priority),
		},
		Status:        sync.OperationStatus(rec.Status),
		RetryCount:    rec.RetryCount,
		NextAttemptAt: rec.NextAttemptAt,
		LastAttemptAt: rec.LastAttemptAt,
		Seq:           rec.Seq,
	}
	if rec.LastError != nil {
		op.LastError = *rec.LastError
	}
	return op
}
