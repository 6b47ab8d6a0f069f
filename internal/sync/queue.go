package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexovan/fieldsync/internal/config"
)

// EnqueueOptions tunes a single enqueue call
type EnqueueOptions struct {
	Priority   Priority
	Immediate  bool
	Optimistic bool
	ActorID    string
	DeviceID   string
}

// SyncQueue is the durable, ordered holding area for operations and the
// engine that drains them. The pending operation set and the open conflict
// set are owned exclusively by the queue; all state mutations happen under
// its mutex.
type SyncQueue struct {
	mu sync.Mutex

	cfg      *config.SyncConfig
	store    Store
	transport Transport
	versions VersionProvider
	analyzer *ConflictAnalyzer
	resolver *ConflictResolver
	checksum *ChecksumCalculator
	events   *EventBus

	instanceID string

	ops       map[string]*Operation
	conflicts map[string]*Conflict
	seq       int64

	isOnline  bool
	isSyncing bool
	paused    bool
	lastSync  time.Time
	progress  float64

	metrics SyncMetrics

	running  bool
	stopChan chan struct{}
}

// NewSyncQueue creates a queue and restores pending operations and open
// conflicts from the store
func NewSyncQueue(cfg *config.SyncConfig, store Store, transport Transport, versions VersionProvider, events *EventBus, instanceID string) (*SyncQueue, error) {
	q := &SyncQueue{
		cfg:       cfg,
		store:     store,
		transport: transport,
		versions:  versions,
		analyzer:  NewConflictAnalyzer(cfg),
		resolver:  NewConflictResolver(cfg),
		checksum:  NewChecksumCalculator(),
		events:    events,
		instanceID: instanceID,
		ops:       make(map[string]*Operation),
		conflicts: make(map[string]*Conflict),
		stopChan:  make(chan struct{}),
	}

	ops, err := store.LoadPendingOperations()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending operations: %w", err)
	}
	for _, op := range ops {
		op.persisted = true
		q.ops[op.ID] = op
		if op.Seq > q.seq {
			q.seq = op.Seq
		}
	}

	conflicts, err := store.LoadOpenConflicts()
	if err != nil {
		return nil, fmt.Errorf("failed to load open conflicts: %w", err)
	}
	for _, c := range conflicts {
		q.conflicts[c.ID] = c
	}

	if len(q.ops) > 0 || len(q.conflicts) > 0 {
		log.Printf("🔄 Sync queue restored: %d pending operations, %d open conflicts", len(q.ops), len(q.conflicts))
	}

	return q, nil
}

// Enqueue records an intended mutation and persists it. Returns the new
// operation's id. Precondition conflicts are never reported here; they
// surface later as Conflict objects during draining.
func (q *SyncQueue) Enqueue(kind OperationKind, entityType, entityID string, payload Payload, opts EnqueueOptions) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("invalid operation kind %q", kind)
	}
	if entityType == "" || entityID == "" {
		return "", fmt.Errorf("entity type and id are required")
	}
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("payload is not serializable: %w", err)
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	expectedVersion := int64(0)
	if q.versions != nil {
		if v, err := q.versions.CurrentVersion(entityType, entityID); err == nil {
			expectedVersion = v
		}
	}

	sum := q.checksum.ComputeChecksum(payload)

	q.mu.Lock()

	// Idempotent dedup: an identical pending mutation is not enqueued twice.
	// The new operation is inserted in the same critical section as the scan,
	// so a concurrent identical enqueue sees the reservation and dedups
	// against it even before the store write finishes.
	for _, existing := range q.ops {
		if existing.Status == StatusPending &&
			existing.Kind == kind &&
			existing.EntityType == entityType &&
			existing.EntityID == entityID &&
			existing.Metadata.Checksum == sum {
			q.mu.Unlock()
			return existing.ID, nil
		}
	}

	q.seq++
	now := time.Now().UTC()
	op := &Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload.Clone(),
		Metadata: OperationMetadata{
			CreatedAt:       now,
			ActorID:         opts.ActorID,
			DeviceID:        opts.DeviceID,
			ExpectedVersion: expectedVersion,
			Checksum:        sum,
			Priority:        priority,
		},
		Status:        StatusPending,
		NextAttemptAt: now,
		Seq:           q.seq,
	}
	q.ops[op.ID] = op
	q.mu.Unlock()

	if err := q.store.PersistOperation(op); err != nil {
		q.mu.Lock()
		delete(q.ops, op.ID)
		q.mu.Unlock()
		return "", fmt.Errorf("failed to persist operation: %w", err)
	}

	if opts.Optimistic && q.cfg.EnableOptimisticUpdates {
		q.applyOptimistic(op)
	}

	q.mu.Lock()
	op.persisted = true
	online := q.isOnline
	q.mu.Unlock()

	q.events.Publish(Event{
		Type:        EventOperationQueued,
		OperationID: op.ID,
		EntityType:  entityType,
		EntityID:    entityID,
	})

	if online && (opts.Immediate || q.cfg.Strategy == "immediate") {
		go q.Drain(context.Background())
	}

	return op.ID, nil
}

// applyOptimistic writes the proposed payload to the local snapshot before
// network confirmation, remembering the pre-image so a terminal failure can
// roll it back
func (q *SyncQueue) applyOptimistic(op *Operation) {
	prev, prevVer, err := q.store.GetEntitySnapshot(op.EntityType, op.EntityID)
	if err == nil {
		op.optimisticPrev = prev
		op.optimisticPrevVer = prevVer
		op.optimisticHadPrev = true
	}

	if err := q.store.UpsertEntitySnapshot(op.EntityType, op.EntityID, op.Payload, op.Metadata.ExpectedVersion); err != nil {
		log.Printf("⚠️ Optimistic update failed for %s:%s: %v", op.EntityType, op.EntityID, err)
		return
	}
	op.optimisticApplied = true
}

// revertOptimistic restores the pre-image after a terminal failure
func (q *SyncQueue) revertOptimistic(op *Operation) {
	if !op.optimisticApplied {
		return
	}
	var err error
	if op.optimisticHadPrev {
		err = q.store.UpsertEntitySnapshot(op.EntityType, op.EntityID, op.optimisticPrev, op.optimisticPrevVer)
	} else {
		err = q.store.RemoveEntitySnapshot(op.EntityType, op.EntityID)
	}
	if err != nil {
		log.Printf("⚠️ Failed to revert optimistic update for %s:%s: %v", op.EntityType, op.EntityID, err)
		return
	}
	op.optimisticApplied = false
}

// Drain dispatches all eligible pending operations in priority-ordered
// batches. At most one drain runs at a time; a second call while draining
// returns a zero summary. Drains while offline or paused are no-ops.
func (q *SyncQueue) Drain(ctx context.Context) Summary {
	q.mu.Lock()
	if q.isSyncing || q.paused || !q.isOnline {
		q.mu.Unlock()
		return Summary{}
	}
	q.isSyncing = true
	q.progress = 0
	eligible := q.eligibleLocked()
	q.mu.Unlock()

	started := time.Now().UTC()
	summary := Summary{}

	q.events.Publish(Event{Type: EventSyncStarted, Detail: map[string]interface{}{
		"instance": q.instanceID, "eligible": len(eligible),
	}})

	batchSize := q.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	processed := 0
batches:
	for start := 0; start < len(eligible); start += batchSize {
		end := min(start+batchSize, len(eligible))
		batch := eligible[start:end]

		// Within a batch operations are dispatched concurrently; batch n+1
		// starts only after every dispatch in batch n has settled.
		var wg sync.WaitGroup
		results := make([]dispatchResult, len(batch))
		for i, op := range batch {
			q.mu.Lock()
			op.Status = StatusInFlight
			q.mu.Unlock()

			wg.Add(1)
			go func(i int, op *Operation) {
				defer wg.Done()
				results[i] = q.dispatch(ctx, op)
			}(i, op)
		}
		wg.Wait()

		q.mu.Lock()
		for _, r := range results {
			switch r {
			case dispatchSucceeded:
				summary.Succeeded++
			case dispatchConflicted:
				summary.Conflicted++
			default:
				summary.Failed++
			}
		}
		processed += len(batch)
		q.progress = float64(processed) / float64(len(eligible))
		q.mu.Unlock()

		// Brief pause between batches so the transport is not overwhelmed
		if end < len(eligible) {
			select {
			case <-ctx.Done():
				break batches
			case <-time.After(q.cfg.InterBatchPause):
			}
		}
	}

	q.mu.Lock()
	q.isSyncing = false
	q.lastSync = time.Now().UTC()
	q.progress = 1
	q.mu.Unlock()

	if err := q.store.RecordDrain(started, time.Since(started), summary); err != nil {
		log.Printf("⚠️ Failed to record drain history: %v", err)
	}

	q.events.Publish(Event{Type: EventSyncCompleted, Detail: map[string]interface{}{
		"instance":  q.instanceID,
		"succeeded": summary.Succeeded, "failed": summary.Failed, "conflicted": summary.Conflicted,
	}})

	return summary
}

// eligibleLocked selects pending operations whose backoff has elapsed,
// sorted by priority band then enqueue order. Caller holds the mutex.
func (q *SyncQueue) eligibleLocked() []*Operation {
	now := time.Now().UTC()
	out := make([]*Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.Status == StatusPending && op.persisted && !op.NextAttemptAt.After(now) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Metadata.Priority.Rank(), out[j].Metadata.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

type dispatchResult int

const (
	dispatchFailed dispatchResult = iota
	dispatchSucceeded
	dispatchConflicted
)

// dispatch sends one operation to the transport and applies the outcome
func (q *SyncQueue) dispatch(ctx context.Context, op *Operation) dispatchResult {
	res, err := q.transport.Send(ctx, op)
	if err != nil {
		res = SendResult{Outcome: OutcomeFailure, Retryable: true, Message: err.Error()}
	}

	switch res.Outcome {
	case OutcomeSuccess:
		return q.applySuccess(op, res)
	case OutcomeConflict:
		return q.applyConflict(op, res)
	}
	return q.applyFailure(op, res)
}

func (q *SyncQueue) applySuccess(op *Operation, res SendResult) dispatchResult {
	// The server has applied the mutation; its response payload is the
	// authoritative state to write back locally.
	var persistErr error
	if op.Kind == OpDelete {
		persistErr = q.store.RemoveEntitySnapshot(op.EntityType, op.EntityID)
	} else if res.Payload != nil {
		persistErr = q.store.UpsertEntitySnapshot(op.EntityType, op.EntityID, res.Payload, res.Version)
	}

	q.mu.Lock()
	if persistErr != nil {
		// Server-confirmed but not locally persisted: retrying would risk a
		// duplicate server effect, so the operation parks for reconciliation.
		op.Status = StatusPersistPending
		op.LastError = persistErr.Error()
		q.mu.Unlock()
		if err := q.store.UpdateOperation(op); err != nil {
			log.Printf("⚠️ Failed to persist operation state %s: %v", op.ID, err)
		}
		log.Printf("⚠️ Operation %s confirmed by server but local persist failed: %v", op.ID, persistErr)
		return dispatchFailed
	}

	op.Status = StatusCompleted
	delete(q.ops, op.ID)
	q.metrics.SuccessfulOperations++
	q.mu.Unlock()

	if err := q.store.RemoveOperation(op.ID); err != nil {
		log.Printf("⚠️ Failed to remove completed operation %s: %v", op.ID, err)
	}

	q.events.Publish(Event{
		Type:        EventOperationCompleted,
		OperationID: op.ID,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
	})
	return dispatchSucceeded
}

func (q *SyncQueue) applyConflict(op *Operation, res SendResult) dispatchResult {
	conflictType := res.ConflictType
	if conflictType == "" {
		conflictType = ConflictUpdate
	}

	c := &Conflict{
		ID:            uuid.NewString(),
		EntityType:    op.EntityType,
		EntityID:      op.EntityID,
		OperationID:   op.ID,
		LocalPayload:  op.Payload.Clone(),
		ServerPayload: res.Payload.Clone(),
		DetectedAt:    time.Now().UTC(),
		ConflictType:  conflictType,
	}
	analysis := q.analyzer.Analyze(c)
	c.FieldConflicts = analysis.FieldConflicts

	q.mu.Lock()
	op.Status = StatusConflicted
	q.conflicts[c.ID] = c
	q.metrics.ConflictsDetected++
	q.mu.Unlock()

	if err := q.store.UpdateOperation(op); err != nil {
		log.Printf("⚠️ Failed to persist conflicted operation %s: %v", op.ID, err)
	}
	if err := q.store.SaveConflict(c); err != nil {
		log.Printf("⚠️ Failed to persist conflict %s: %v", c.ID, err)
	}

	q.events.Publish(Event{
		Type:       EventConflictDetected,
		ConflictID: c.ID,
		OperationID: op.ID,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		Detail:     map[string]interface{}{"conflict_type": string(conflictType), "complexity": string(analysis.Complexity)},
	})

	q.autoResolve(c, analysis)
	return dispatchConflicted
}

// autoResolve applies the configured auto-resolution policy right after
// detection. Critical conflicts are never silently resolved.
func (q *SyncQueue) autoResolve(c *Conflict, analysis Analysis) {
	policy := AutoResolutionPolicy(q.cfg.ConflictResolution)
	if policy == PolicyManual || policy == "" {
		return
	}
	if !analysis.AutoResolvable {
		log.Printf("⚠️ Conflict %s (%s) requires manual resolution, auto policy %q refused", c.ID, analysis.Complexity, policy)
		return
	}

	result := q.resolver.Resolve(c, policy.StrategyFor(), nil)
	if !result.Success || result.RequiresUserConfirmation {
		log.Printf("⚠️ Auto-resolution of conflict %s withheld (confidence %d)", c.ID, result.Confidence)
		return
	}

	if err := q.finishResolution(c, result); err != nil {
		log.Printf("🔴 Auto-resolution of conflict %s failed: %v", c.ID, err)
	}
}

func (q *SyncQueue) applyFailure(op *Operation, res SendResult) dispatchResult {
	now := time.Now().UTC()

	q.mu.Lock()
	op.RetryCount++
	op.LastAttemptAt = &now
	op.LastError = res.Message

	terminal := !res.Retryable || op.RetryCount > q.cfg.MaxRetries
	if terminal {
		// Terminal failures stay visible in the queue for inspection, only
		// excluded from the retry rotation.
		op.Status = StatusFailed
		q.metrics.FailedOperations++
	} else {
		op.Status = StatusPending
		op.NextAttemptAt = now.Add(q.cfg.RetryDelay * time.Duration(1<<uint(op.RetryCount-1)))
	}
	q.mu.Unlock()

	if terminal {
		q.revertOptimistic(op)
		q.events.Publish(Event{
			Type:        EventOperationFailed,
			OperationID: op.ID,
			EntityType:  op.EntityType,
			EntityID:    op.EntityID,
			Detail:      map[string]interface{}{"error": res.Message, "retries": op.RetryCount},
		})
	}

	if err := q.store.UpdateOperation(op); err != nil {
		log.Printf("⚠️ Failed to persist operation state %s: %v", op.ID, err)
	}
	return dispatchFailed
}

// ResolveConflict executes the named strategy against an open conflict.
// Returns true when the conflict was resolved and replaced by a follow-up
// operation; a false return mutates nothing.
func (q *SyncQueue) ResolveConflict(conflictID string, strategy Strategy, input UserInput) (bool, error) {
	q.mu.Lock()
	c, ok := q.conflicts[conflictID]
	q.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("conflict %q not found", conflictID)
	}

	result := q.resolver.Resolve(c, strategy, input)
	if !result.Success {
		return false, nil
	}

	if err := q.finishResolution(c, result); err != nil {
		return false, err
	}
	return true, nil
}

// finishResolution turns a successful resolution into exactly one follow-up
// high-priority update operation and closes the conflict
func (q *SyncQueue) finishResolution(c *Conflict, result ResolutionResult) error {
	opID, err := q.Enqueue(OpUpdate, c.EntityType, c.EntityID, result.ResolvedPayload, EnqueueOptions{
		Priority: PriorityHigh,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue resolution operation: %w", err)
	}

	q.mu.Lock()
	delete(q.conflicts, c.ID)
	if orig, ok := q.ops[c.OperationID]; ok && orig.Status == StatusConflicted {
		delete(q.ops, c.OperationID)
	}
	q.metrics.ConflictsResolved++
	q.mu.Unlock()

	if err := q.store.DeleteConflict(c.ID); err != nil {
		log.Printf("⚠️ Failed to delete resolved conflict %s: %v", c.ID, err)
	}
	if err := q.store.RemoveOperation(c.OperationID); err != nil {
		log.Printf("⚠️ Failed to remove conflicted operation %s: %v", c.OperationID, err)
	}

	q.events.Publish(Event{
		Type:        EventConflictResolved,
		ConflictID:  c.ID,
		OperationID: opID,
		EntityType:  c.EntityType,
		EntityID:    c.EntityID,
		Detail: map[string]interface{}{
			"strategy":   string(result.StrategyUsed),
			"confidence": result.Confidence,
		},
	})
	return nil
}

// SetOnline flips connectivity state. Regaining connectivity triggers a
// drain when work is pending; losing it suppresses further drains while
// leaving in-flight operations to settle naturally.
func (q *SyncQueue) SetOnline(online bool) {
	q.mu.Lock()
	was := q.isOnline
	q.isOnline = online
	pending := q.pendingCountLocked()
	q.mu.Unlock()

	if online && !was {
		log.Println("🔄 Connectivity restored")
		if pending > 0 {
			go q.Drain(context.Background())
		}
	} else if !online && was {
		log.Println("⚠️ Connectivity lost, drains suppressed")
	}
}

// Start begins the scheduled drain loop when the configured strategy is
// scheduled mode
func (q *SyncQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("sync queue already running")
	}
	q.running = true
	q.stopChan = make(chan struct{})

	if q.cfg.Strategy == "scheduled" {
		go q.scheduledLoop()
	}

	log.Println("✅ Sync queue started")
	return nil
}

// Stop halts the scheduled loop. In-flight operations are not aborted.
func (q *SyncQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}
	q.running = false
	close(q.stopChan)
	log.Println("🛑 Sync queue stopped")
}

// scheduledLoop periodically drains while idle and online
func (q *SyncQueue) scheduledLoop() {
	interval := q.cfg.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.mu.Lock()
			idle := !q.isSyncing && !q.paused && q.isOnline && q.pendingCountLocked() > 0
			q.mu.Unlock()
			if idle {
				q.Drain(context.Background())
			}
		case <-q.stopChan:
			return
		}
	}
}

// Pause prevents new drains from starting; in-flight requests complete or
// time out naturally
func (q *SyncQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables draining
func (q *SyncQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
}

func (q *SyncQueue) pendingCountLocked() int {
	n := 0
	for _, op := range q.ops {
		if op.Status == StatusPending {
			n++
		}
	}
	return n
}

// State derives the current sync state from the operation and conflict sets
func (q *SyncQueue) State() SyncState {
	q.mu.Lock()
	defer q.mu.Unlock()

	return SyncState{
		IsOnline:      q.isOnline,
		IsSyncing:     q.isSyncing,
		PendingCount:  q.pendingCountLocked(),
		ConflictCount: len(q.conflicts),
		LastSyncTime:  q.lastSync,
		SyncProgress:  q.progress,
	}
}

// Metrics returns aggregate outcome counters with a rolling success rate
func (q *SyncQueue) Metrics() SyncMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.metrics
	total := m.SuccessfulOperations + m.FailedOperations
	if total > 0 {
		m.SuccessRate = float64(m.SuccessfulOperations) / float64(total)
	}
	return m
}

// Conflicts returns the open conflict set
func (q *SyncQueue) Conflicts() []*Conflict {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Conflict, 0, len(q.conflicts))
	for _, c := range q.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// FailedOperations returns operations that exhausted their retries. They
// remain queryable for operator inspection and are never silently dropped.
func (q *SyncQueue) FailedOperations() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Operation, 0)
	for _, op := range q.ops {
		if op.Status == StatusFailed || op.Status == StatusPersistPending {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Operation returns a copy-safe pointer to a queued operation by id
func (q *SyncQueue) Operation(id string) (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	return op, ok
}
