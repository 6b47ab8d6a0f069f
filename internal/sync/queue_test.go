package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexovan/fieldsync/internal/config"
)

// memStore is an in-memory Store and VersionProvider for queue tests
type memStore struct {
	mu        sync.Mutex
	ops       map[string]*Operation
	conflicts map[string]*Conflict
	snapshots map[string]Payload
	versions  map[string]int64
	drains    int

	// persistDelay simulates a slow durable write
	persistDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		ops:       make(map[string]*Operation),
		conflicts: make(map[string]*Conflict),
		snapshots: make(map[string]Payload),
		versions:  make(map[string]int64),
	}
}

func snapKey(entityType, entityID string) string { return entityType + ":" + entityID }

func (m *memStore) LoadPendingOperations() ([]*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Operation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	return out, nil
}

func (m *memStore) PersistOperation(op *Operation) error {
	if m.persistDelay > 0 {
		time.Sleep(m.persistDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = op
	return nil
}

func (m *memStore) UpdateOperation(op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = op
	return nil
}

func (m *memStore) RemoveOperation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, id)
	return nil
}

func (m *memStore) UpsertEntitySnapshot(entityType, entityID string, payload Payload, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapKey(entityType, entityID)] = payload.Clone()
	m.versions[snapKey(entityType, entityID)] = version
	return nil
}

func (m *memStore) GetEntitySnapshot(entityType, entityID string) (Payload, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.snapshots[snapKey(entityType, entityID)]
	if !ok {
		return nil, 0, fmt.Errorf("no snapshot for %s:%s", entityType, entityID)
	}
	return p.Clone(), m.versions[snapKey(entityType, entityID)], nil
}

func (m *memStore) RemoveEntitySnapshot(entityType, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, snapKey(entityType, entityID))
	delete(m.versions, snapKey(entityType, entityID))
	return nil
}

func (m *memStore) SaveConflict(c *Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[c.ID] = c
	return nil
}

func (m *memStore) DeleteConflict(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conflicts, id)
	return nil
}

func (m *memStore) LoadOpenConflicts() ([]*Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Conflict, 0, len(m.conflicts))
	for _, c := range m.conflicts {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) RecordDrain(startedAt time.Time, duration time.Duration, s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	return nil
}

func (m *memStore) CurrentVersion(entityType, entityID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[snapKey(entityType, entityID)], nil
}

// scriptedTransport returns canned results and records dispatch order
type scriptedTransport struct {
	mu      sync.Mutex
	results map[string]SendResult // entityID -> result
	order   []string              // entityIDs in dispatch order
	calls   int
	block   chan struct{} // when set, Send waits until closed
}

func (st *scriptedTransport) Send(ctx context.Context, op *Operation) (SendResult, error) {
	st.mu.Lock()
	st.order = append(st.order, op.EntityID)
	st.calls++
	block := st.block
	res, ok := st.results[op.EntityID]
	st.mu.Unlock()

	if block != nil {
		<-block
	}
	if !ok {
		res = SendResult{Outcome: OutcomeSuccess, Payload: op.Payload.Clone(), Version: op.Metadata.ExpectedVersion + 1}
	}
	return res, nil
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Strategy:               "manual",
		BatchSize:              1,
		InterBatchPause:        time.Millisecond,
		MaxRetries:             1,
		RetryDelay:             time.Millisecond,
		ConflictResolution:     "manual",
		FieldConflictThreshold: 5,
		ConfidenceThreshold:    70,
		CriticalFields:         []string{"status", "total"},
		PreferenceFields:       []string{"language"},
		TerminalStates:         []string{"completed"},
	}
}

func newTestQueue(t *testing.T, cfg *config.SyncConfig, st *scriptedTransport) (*SyncQueue, *memStore) {
	t.Helper()
	store := newMemStore()
	q, err := NewSyncQueue(cfg, store, st, store, NewEventBus(), "test-instance")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	q.mu.Lock()
	q.isOnline = true
	q.mu.Unlock()
	return q, store
}

func TestSyncQueue_PriorityOrdering(t *testing.T) {
	st := &scriptedTransport{results: map[string]SendResult{}}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	payload := Payload{"name": String("x")}
	if _, err := q.Enqueue(OpUpdate, "job", "low-1", payload, EnqueueOptions{Priority: PriorityLow}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(OpUpdate, "job", "high-1", payload, EnqueueOptions{Priority: PriorityHigh}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(OpUpdate, "job", "medium-1", payload, EnqueueOptions{Priority: PriorityMedium}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	summary := q.Drain(context.Background())
	if summary.Succeeded != 3 {
		t.Fatalf("Expected 3 succeeded, got %+v", summary)
	}

	want := []string{"high-1", "medium-1", "low-1"}
	if len(st.order) != len(want) {
		t.Fatalf("Expected %d dispatches, got %d", len(want), len(st.order))
	}
	for i, id := range want {
		if st.order[i] != id {
			t.Errorf("Dispatch %d: expected %s, got %s", i, id, st.order[i])
		}
	}
}

func TestSyncQueue_FIFOWithinPriorityBand(t *testing.T) {
	st := &scriptedTransport{}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("job-%d", i)
		if _, err := q.Enqueue(OpUpdate, "job", id, Payload{"n": Number(float64(i))}, EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	q.Drain(context.Background())

	for i := 0; i < 4; i++ {
		want := fmt.Sprintf("job-%d", i)
		if st.order[i] != want {
			t.Errorf("Dispatch %d: expected %s, got %s", i, want, st.order[i])
		}
	}
}

func TestSyncQueue_AtMostOneDrain(t *testing.T) {
	block := make(chan struct{})
	st := &scriptedTransport{block: block}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"a": Number(1)}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	done := make(chan Summary, 1)
	go func() { done <- q.Drain(context.Background()) }()

	// Wait until the first drain has the operation in flight
	deadline := time.Now().Add(2 * time.Second)
	for {
		st.mu.Lock()
		calls := st.calls
		st.mu.Unlock()
		if calls > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("First drain never dispatched")
		}
		time.Sleep(time.Millisecond)
	}

	// A second drain while one is running must return a zero summary
	second := q.Drain(context.Background())
	if second.Succeeded != 0 || second.Failed != 0 || second.Conflicted != 0 {
		t.Errorf("Concurrent drain should be a no-op, got %+v", second)
	}

	close(block)
	first := <-done
	if first.Succeeded != 1 {
		t.Errorf("Expected first drain to succeed once, got %+v", first)
	}

	if st.calls != 1 {
		t.Errorf("Expected exactly 1 dispatch, got %d", st.calls)
	}
}

func TestSyncQueue_OfflineDrainIsNoop(t *testing.T) {
	st := &scriptedTransport{}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"a": Number(1)}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.mu.Lock()
	q.isOnline = false
	q.mu.Unlock()

	summary := q.Drain(context.Background())
	if summary.Succeeded != 0 || st.calls != 0 {
		t.Errorf("Offline drain should dispatch nothing, got %+v with %d calls", summary, st.calls)
	}

	state := q.State()
	if state.PendingCount != 1 {
		t.Errorf("Operation should remain pending, got %d", state.PendingCount)
	}
}

func TestSyncQueue_IdempotentEnqueue(t *testing.T) {
	st := &scriptedTransport{}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	payload := Payload{"name": String("same")}
	id1, err := q.Enqueue(OpUpdate, "job", "j1", payload, EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	id2, err := q.Enqueue(OpUpdate, "job", "j1", payload, EnqueueOptions{})
	if err != nil {
		t.Fatalf("Second enqueue failed: %v", err)
	}

	if id1 != id2 {
		t.Errorf("Identical pending mutation should dedup to one operation, got %s and %s", id1, id2)
	}
	if q.State().PendingCount != 1 {
		t.Errorf("Expected 1 pending operation, got %d", q.State().PendingCount)
	}

	// A different payload for the same entity is a distinct operation
	id3, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"name": String("different")}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("Third enqueue failed: %v", err)
	}
	if id3 == id1 {
		t.Error("Different payload should not dedup")
	}
}

func TestSyncQueue_ConcurrentIdenticalEnqueueDedup(t *testing.T) {
	store := newMemStore()
	store.persistDelay = 20 * time.Millisecond
	q, err := NewSyncQueue(testSyncConfig(), store, &scriptedTransport{}, store, NewEventBus(), "test-instance")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	q.mu.Lock()
	q.isOnline = true
	q.mu.Unlock()

	// Two racing identical enqueues must collapse to one operation even
	// while the first one's durable write is still in flight
	payload := Payload{"name": String("same")}
	ids := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = q.Enqueue(OpUpdate, "job", "j1", payload, EnqueueOptions{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	if ids[0] != ids[1] {
		t.Errorf("Concurrent identical enqueues should dedup to one id, got %s and %s", ids[0], ids[1])
	}
	if got := q.State().PendingCount; got != 1 {
		t.Errorf("Expected 1 pending operation, got %d", got)
	}

	store.mu.Lock()
	persisted := len(store.ops)
	store.mu.Unlock()
	if persisted != 1 {
		t.Errorf("Expected 1 persisted operation, got %d", persisted)
	}
}

func TestSyncQueue_RetryBackoffAndTerminalFailure(t *testing.T) {
	st := &scriptedTransport{results: map[string]SendResult{
		"j1": {Outcome: OutcomeFailure, Retryable: true, Message: "server unavailable"},
	}}
	cfg := testSyncConfig()
	cfg.MaxRetries = 1
	q, _ := newTestQueue(t, cfg, st)

	opID, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"a": Number(1)}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// First attempt: retryable failure schedules a backoff, not a terminal state
	q.Drain(context.Background())
	op, ok := q.Operation(opID)
	if !ok {
		t.Fatal("Operation disappeared after retryable failure")
	}
	if op.Status != StatusPending {
		t.Fatalf("Expected pending after first failure, got %s", op.Status)
	}
	if op.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", op.RetryCount)
	}

	// Force the backoff window open and retry: exceeds MaxRetries, terminal
	q.mu.Lock()
	op.NextAttemptAt = time.Now().UTC().Add(-time.Second)
	q.mu.Unlock()

	q.Drain(context.Background())
	op, _ = q.Operation(opID)
	if op.Status != StatusFailed {
		t.Fatalf("Expected terminal failure after retries exhausted, got %s", op.Status)
	}

	failed := q.FailedOperations()
	if len(failed) != 1 || failed[0].ID != opID {
		t.Errorf("Terminally failed operation should stay queryable, got %d", len(failed))
	}

	// A terminal operation never re-enters the dispatch rotation
	calls := st.calls
	q.Drain(context.Background())
	if st.calls != calls {
		t.Error("Terminally failed operation was dispatched again")
	}
}

func TestSyncQueue_NonRetryableFailureIsTerminal(t *testing.T) {
	st := &scriptedTransport{results: map[string]SendResult{
		"j1": {Outcome: OutcomeFailure, Retryable: false, Message: "validation rejected"},
	}}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	opID, _ := q.Enqueue(OpUpdate, "job", "j1", Payload{"a": Number(1)}, EnqueueOptions{})
	q.Drain(context.Background())

	op, _ := q.Operation(opID)
	if op.Status != StatusFailed {
		t.Fatalf("Non-retryable failure should be terminal on first attempt, got %s", op.Status)
	}
	if op.RetryCount != 1 {
		t.Errorf("Expected a single attempt, got %d", op.RetryCount)
	}
}

func TestSyncQueue_ConflictRoundTrip(t *testing.T) {
	serverPayload := Payload{
		"status": String("completed"),
		"notes":  String("closed out by dispatch"),
	}
	st := &scriptedTransport{results: map[string]SendResult{
		"j1": {Outcome: OutcomeConflict, Payload: serverPayload, ConflictType: ConflictVersion},
	}}
	q, store := newTestQueue(t, testSyncConfig(), st)

	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"status": String("in_progress")}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	summary := q.Drain(context.Background())
	if summary.Conflicted != 1 {
		t.Fatalf("Expected 1 conflicted, got %+v", summary)
	}

	conflicts := q.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 open conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.ConflictType != ConflictVersion {
		t.Errorf("Expected version conflict, got %s", c.ConflictType)
	}
	if len(c.FieldConflicts) == 0 {
		t.Error("Conflict should carry field-level diffs")
	}

	// Explicit resolution executes the named strategy even on critical fields
	resolved, err := q.ResolveConflict(c.ID, StrategyServerWins, nil)
	if err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}
	if !resolved {
		t.Fatal("Expected server_wins to resolve the conflict")
	}

	if len(q.Conflicts()) != 0 {
		t.Error("Conflict should be closed after resolution")
	}

	// Resolution produces exactly one high-priority follow-up update
	st.mu.Lock()
	st.results = map[string]SendResult{}
	st.mu.Unlock()

	state := q.State()
	if state.PendingCount != 1 {
		t.Fatalf("Expected exactly 1 follow-up operation, got %d", state.PendingCount)
	}

	q.Drain(context.Background())

	snap, _, err := store.GetEntitySnapshot("job", "j1")
	if err != nil {
		t.Fatalf("Expected snapshot after follow-up sync: %v", err)
	}
	if got := snap["status"]; got.Str != "completed" {
		t.Errorf("Expected server status to win, got %q", got.Str)
	}

	metrics := q.Metrics()
	if metrics.ConflictsDetected != 1 || metrics.ConflictsResolved != 1 {
		t.Errorf("Metrics mismatch: %+v", metrics)
	}
}

func TestSyncQueue_CriticalConflictNotAutoResolved(t *testing.T) {
	serverPayload := Payload{"status": String("completed")}
	st := &scriptedTransport{results: map[string]SendResult{
		"j1": {Outcome: OutcomeConflict, Payload: serverPayload},
	}}
	cfg := testSyncConfig()
	cfg.ConflictResolution = "server_wins"
	q, _ := newTestQueue(t, cfg, st)

	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"status": String("in_progress")}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Drain(context.Background())

	// status is a critical field: the auto policy must leave it open
	if len(q.Conflicts()) != 1 {
		t.Fatalf("Critical conflict should remain open, got %d conflicts", len(q.Conflicts()))
	}
}

func TestSyncQueue_AutoResolvesSimpleConflict(t *testing.T) {
	serverPayload := Payload{"notes": String("edited remotely")}
	st := &scriptedTransport{results: map[string]SendResult{
		"j1": {Outcome: OutcomeConflict, Payload: serverPayload},
	}}
	cfg := testSyncConfig()
	cfg.ConflictResolution = "server_wins"
	q, _ := newTestQueue(t, cfg, st)

	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"notes": String("edited locally")}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Drain(context.Background())

	if len(q.Conflicts()) != 0 {
		t.Fatalf("Non-critical conflict should auto-resolve, %d still open", len(q.Conflicts()))
	}
	if q.Metrics().ConflictsResolved != 1 {
		t.Errorf("Expected 1 resolved conflict, got %d", q.Metrics().ConflictsResolved)
	}
	if q.State().PendingCount != 1 {
		t.Errorf("Auto-resolution should enqueue one follow-up, got %d pending", q.State().PendingCount)
	}
}

func TestSyncQueue_ReconnectTriggersDrain(t *testing.T) {
	st := &scriptedTransport{}
	q, _ := newTestQueue(t, testSyncConfig(), st)

	q.SetOnline(false)
	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"a": Number(1)}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for q.State().PendingCount > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Reconnect did not drain the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSyncQueue_OptimisticRollbackOnTerminalFailure(t *testing.T) {
	st := &scriptedTransport{results: map[string]SendResult{
		"j1": {Outcome: OutcomeFailure, Retryable: false, Message: "rejected"},
	}}
	cfg := testSyncConfig()
	cfg.EnableOptimisticUpdates = true
	q, store := newTestQueue(t, cfg, st)

	// Seed a pre-image the optimistic update will overwrite
	if err := store.UpsertEntitySnapshot("job", "j1", Payload{"name": String("before")}, 3); err != nil {
		t.Fatalf("Seed snapshot failed: %v", err)
	}

	if _, err := q.Enqueue(OpUpdate, "job", "j1", Payload{"name": String("after")}, EnqueueOptions{Optimistic: true}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	snap, _, _ := store.GetEntitySnapshot("job", "j1")
	if snap["name"].Str != "after" {
		t.Fatalf("Optimistic update not applied, got %q", snap["name"].Str)
	}

	q.Drain(context.Background())

	snap, ver, err := store.GetEntitySnapshot("job", "j1")
	if err != nil {
		t.Fatalf("Snapshot missing after rollback: %v", err)
	}
	if snap["name"].Str != "before" || ver != 3 {
		t.Errorf("Expected pre-image restored, got %q version %d", snap["name"].Str, ver)
	}
}

func TestSyncQueue_RestoreFromStore(t *testing.T) {
	store := newMemStore()
	op := &Operation{
		ID:         "restored-1",
		Kind:       OpUpdate,
		EntityType: "job",
		EntityID:   "j1",
		Payload:    Payload{"a": Number(1)},
		Status:     StatusPending,
		Seq:        7,
	}
	if err := store.PersistOperation(op); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	q, err := NewSyncQueue(testSyncConfig(), store, &scriptedTransport{}, store, NewEventBus(), "test-instance")
	if err != nil {
		t.Fatalf("Failed to restore queue: %v", err)
	}

	if q.State().PendingCount != 1 {
		t.Fatalf("Expected restored operation, got %d pending", q.State().PendingCount)
	}

	// New operations sequence after the restored maximum
	q.mu.Lock()
	q.isOnline = true
	q.mu.Unlock()
	id, err := q.Enqueue(OpUpdate, "job", "j2", Payload{"b": Number(2)}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	newOp, _ := q.Operation(id)
	if newOp.Seq <= 7 {
		t.Errorf("New operation should sequence after restored ops, got %d", newOp.Seq)
	}
}

// eventRecorder collects published events for assertions
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestSyncQueue_LifecycleEvents(t *testing.T) {
	st := &scriptedTransport{results: map[string]SendResult{
		"conflict-1": {Outcome: OutcomeConflict, Payload: Payload{"notes": String("server copy")}},
		"fail-1":     {Outcome: OutcomeFailure, Retryable: false, Message: "rejected"},
	}}
	store := newMemStore()
	bus := NewEventBus()
	rec := &eventRecorder{}
	unsubscribe := bus.Subscribe(rec.record)
	defer unsubscribe()

	q, err := NewSyncQueue(testSyncConfig(), store, st, store, bus, "test-instance")
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	q.mu.Lock()
	q.isOnline = true
	q.mu.Unlock()

	okID, _ := q.Enqueue(OpUpdate, "job", "ok-1", Payload{"a": Number(1)}, EnqueueOptions{})
	conflictID, _ := q.Enqueue(OpUpdate, "job", "conflict-1", Payload{"notes": String("local copy")}, EnqueueOptions{})
	failID, _ := q.Enqueue(OpUpdate, "job", "fail-1", Payload{"a": Number(2)}, EnqueueOptions{})

	queued := rec.ofType(EventOperationQueued)
	if len(queued) != 3 {
		t.Fatalf("Expected 3 queued events, got %d", len(queued))
	}
	wantQueued := map[string]bool{okID: true, conflictID: true, failID: true}
	for _, ev := range queued {
		if !wantQueued[ev.OperationID] {
			t.Errorf("Queued event for unknown operation %s", ev.OperationID)
		}
		if ev.EntityType != "job" || ev.EntityID == "" {
			t.Errorf("Queued event missing entity identity: %+v", ev)
		}
	}

	q.Drain(context.Background())

	if got := rec.ofType(EventSyncStarted); len(got) != 1 {
		t.Errorf("Expected 1 sync_started event, got %d", len(got))
	}
	if got := rec.ofType(EventSyncCompleted); len(got) != 1 {
		t.Errorf("Expected 1 sync_completed event, got %d", len(got))
	}

	completed := rec.ofType(EventOperationCompleted)
	if len(completed) != 1 || completed[0].OperationID != okID {
		t.Errorf("Expected completion event for %s, got %+v", okID, completed)
	}

	failed := rec.ofType(EventOperationFailed)
	if len(failed) != 1 || failed[0].OperationID != failID {
		t.Errorf("Expected failure event for %s, got %+v", failID, failed)
	}

	detected := rec.ofType(EventConflictDetected)
	if len(detected) != 1 {
		t.Fatalf("Expected 1 conflict_detected event, got %d", len(detected))
	}
	if detected[0].OperationID != conflictID || detected[0].ConflictID == "" {
		t.Errorf("Conflict event should name the operation and conflict, got %+v", detected[0])
	}

	// Explicit resolution emits conflict_resolved and queues the follow-up
	if _, err := q.ResolveConflict(detected[0].ConflictID, StrategyServerWins, nil); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}

	resolved := rec.ofType(EventConflictResolved)
	if len(resolved) != 1 {
		t.Fatalf("Expected 1 conflict_resolved event, got %d", len(resolved))
	}
	if resolved[0].ConflictID != detected[0].ConflictID {
		t.Errorf("Resolved event names conflict %s, detected was %s", resolved[0].ConflictID, detected[0].ConflictID)
	}
	if resolved[0].Detail["strategy"] != string(StrategyServerWins) {
		t.Errorf("Expected strategy detail %q, got %v", StrategyServerWins, resolved[0].Detail["strategy"])
	}

	if got := rec.ofType(EventOperationQueued); len(got) != 4 {
		t.Errorf("Resolution should queue one follow-up operation, got %d queued events total", len(got))
	}
	followUp := rec.ofType(EventOperationQueued)[3]
	if resolved[0].OperationID != followUp.OperationID {
		t.Errorf("Resolved event should name the follow-up operation, got %s and %s", resolved[0].OperationID, followUp.OperationID)
	}
}
