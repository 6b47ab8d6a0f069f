package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nexovan/fieldsync/internal/config"
	"github.com/nexovan/fieldsync/internal/database"
	"github.com/nexovan/fieldsync/internal/middleware"
	"github.com/nexovan/fieldsync/internal/models"
	"github.com/nexovan/fieldsync/internal/sync"
	"github.com/nexovan/fieldsync/internal/utils"
	"github.com/nexovan/fieldsync/internal/websocket"
)

// Router wraps the mux router and the service dependencies
type Router struct {
	*mux.Router
	db  *database.DB
	cfg *config.Config

	// bcrypt hash of the enrollment secret, empty when enrollment is open
	enrollHash string
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(cfg *config.Config, db *database.DB, coordinator *sync.Coordinator, hub *websocket.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
		cfg:    cfg,
	}

	if cfg.EnrollSecret != "" {
		hash, err := utils.HashSecret(cfg.EnrollSecret)
		if err != nil {
			log.Printf("⚠️ Failed to hash enrollment secret: %v", err)
		} else {
			r.enrollHash = hash
		}
	}

	// Health check endpoint, also used by peers probing route availability
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Device enrollment
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/device", r.enrollDevice).Methods("POST")

	// Sync routes (protected)
	sh := NewSyncHandler(coordinator, hub)
	api := r.PathPrefix("/api/sync").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))
	sh.RegisterRoutes(api)
	api.HandleFunc("/history", r.syncHistory).Methods("GET")

	// Event stream (token carried in query string by websocket clients)
	r.HandleFunc("/api/sync/events", func(w http.ResponseWriter, req *http.Request) {
		token := req.URL.Query().Get("token")
		if _, err := utils.ValidateToken(token, cfg.JWTSecret); err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		websocket.ServeWs(hub, w, req)
	}).Methods("GET")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "local",
	})
}

// enrollDevice issues a bearer token for a synchronizing device
func (r *Router) enrollDevice(w http.ResponseWriter, req *http.Request) {
	var body struct {
		DeviceID string `json:"device_id"`
		ActorID  string `json:"actor_id"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.DeviceID == "" || body.ActorID == "" {
		respondError(w, http.StatusBadRequest, "device_id and actor_id are required")
		return
	}
	if r.enrollHash != "" && !utils.CheckSecretHash(body.Secret, r.enrollHash) {
		respondError(w, http.StatusUnauthorized, "invalid enrollment secret")
		return
	}

	token, err := utils.GenerateDeviceToken(body.DeviceID, body.ActorID, r.cfg.JWTSecret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token": token,
	})
}

// syncHistory returns the most recent drain passes
func (r *Router) syncHistory(w http.ResponseWriter, req *http.Request) {
	var records []models.SyncHistory
	if err := r.db.Order("started_at desc").Limit(50).Find(&records).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load sync history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"history": records,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
