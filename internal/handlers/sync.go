package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexovan/fieldsync/internal/middleware"
	"github.com/nexovan/fieldsync/internal/sync"
	"github.com/nexovan/fieldsync/internal/websocket"
)

// SyncHandler exposes the sync coordinator over HTTP
type SyncHandler struct {
	coordinator *sync.Coordinator
	hub         *websocket.Hub
}

// NewSyncHandler creates a new sync handler and wires lifecycle events into
// the websocket hub
func NewSyncHandler(coordinator *sync.Coordinator, hub *websocket.Hub) *SyncHandler {
	sh := &SyncHandler{
		coordinator: coordinator,
		hub:         hub,
	}

	if hub != nil {
		coordinator.Subscribe(func(ev sync.Event) {
			hub.Broadcast(map[string]interface{}{
				"type":  "SYNC_EVENT",
				"event": ev,
			})
		})
	}

	return sh
}

// RegisterRoutes registers sync routes on the given subrouter
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	// Queue endpoints
	r.HandleFunc("/operations", sh.EnqueueOperation).Methods("POST")
	r.HandleFunc("/operations/failed", sh.GetFailedOperations).Methods("GET")

	// Sync control endpoints
	r.HandleFunc("/start", sh.StartSync).Methods("POST")
	r.HandleFunc("/pause", sh.PauseSync).Methods("POST")
	r.HandleFunc("/resume", sh.ResumeSync).Methods("POST")
	r.HandleFunc("/status", sh.GetSyncStatus).Methods("GET")
	r.HandleFunc("/metrics", sh.GetSyncMetrics).Methods("GET")
	r.HandleFunc("/online", sh.SetOnline).Methods("POST")

	// Conflict endpoints
	r.HandleFunc("/conflicts", sh.GetConflicts).Methods("GET")
	r.HandleFunc("/conflicts/{id}/resolve", sh.ResolveConflict).Methods("POST")
}

// EnqueueOperation records a mutation for synchronization
func (sh *SyncHandler) EnqueueOperation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind       string                 `json:"kind"`
		EntityType string                 `json:"entity_type"`
		EntityID   string                 `json:"entity_id"`
		Payload    map[string]interface{} `json:"payload"`
		Priority   string                 `json:"priority"`
		Immediate  bool                   `json:"immediate"`
		Optimistic bool                   `json:"optimistic"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := sync.EnqueueOptions{
		Priority:   sync.Priority(req.Priority),
		Immediate:  req.Immediate,
		Optimistic: req.Optimistic,
	}
	if actorID, ok := r.Context().Value(middleware.ActorIDKey).(string); ok {
		opts.ActorID = actorID
	}
	if deviceID, ok := r.Context().Value(middleware.DeviceIDKey).(string); ok {
		opts.DeviceID = deviceID
	}

	opID, err := sh.coordinator.Enqueue(
		sync.OperationKind(req.Kind),
		req.EntityType,
		req.EntityID,
		sync.PayloadFromInterface(req.Payload),
		opts,
	)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"operation_id": opID,
	})
}

// StartSync triggers a drain of all eligible pending operations
func (sh *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	summary := sh.coordinator.SyncAll(r.Context())
	respondJSON(w, http.StatusOK, summary)
}

// PauseSync suspends drain scheduling
func (sh *SyncHandler) PauseSync(w http.ResponseWriter, r *http.Request) {
	sh.coordinator.Pause()
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeSync re-enables draining
func (sh *SyncHandler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	sh.coordinator.Resume()
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// GetSyncStatus returns the derived sync state
func (sh *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.coordinator.GetSyncState())
}

// GetSyncMetrics returns aggregate outcome counters
func (sh *SyncHandler) GetSyncMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.coordinator.GetSyncMetrics())
}

// SetOnline overrides the connectivity state
func (sh *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sh.coordinator.SetOnline(req.Online)
	respondJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

// GetConflicts returns the open conflict set
func (sh *SyncHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := sh.coordinator.GetConflicts()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(conflicts),
		"conflicts": conflicts,
	})
}

// GetFailedOperations returns terminally failed operations
func (sh *SyncHandler) GetFailedOperations(w http.ResponseWriter, r *http.Request) {
	failed := sh.coordinator.FailedOperations()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(failed),
		"operations": failed,
	})
}

// ResolveConflict executes a strategy against an open conflict
func (sh *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conflictID := vars["id"]

	var req struct {
		Strategy string         `json:"strategy"`
		Input    sync.UserInput `json:"input,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved, err := sh.coordinator.ResolveConflict(conflictID, sync.Strategy(req.Strategy), req.Input)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conflict_id": conflictID,
		"resolved":    resolved,
	})
}
