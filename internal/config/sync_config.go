package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	// ============ SCHEDULING ============
	Strategy     string        `json:"strategy"`      // immediate, batched, scheduled, manual
	SyncInterval time.Duration `json:"sync_interval"` // scheduled mode drain interval
	SyncOnStartup bool         `json:"sync_on_startup"`

	// ============ DRAINING ============
	BatchSize       int           `json:"batch_size"`
	InterBatchPause time.Duration `json:"inter_batch_pause"`
	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"` // backoff base

	// ============ CONFLICTS ============
	ConflictResolution     string   `json:"conflict_resolution"` // client_wins, server_wins, merge, manual
	FieldConflictThreshold int      `json:"field_conflict_threshold"`
	ConfidenceThreshold    int      `json:"confidence_threshold"`
	CriticalFields         []string `json:"critical_fields"`
	PreferenceFields       []string `json:"preference_fields"`
	TerminalStates         []string `json:"terminal_states"`

	// ============ OPTIMISTIC UPDATES ============
	EnableOptimisticUpdates bool `json:"enable_optimistic_updates"`

	// ============ ROUTES ============
	Routes []SyncRouteConfig `json:"routes"`
}

// SyncRouteConfig represents a configured sync route
type SyncRouteConfig struct {
	URL      string `json:"url"`
	Timeout  int    `json:"timeout"` // seconds
	Priority int    `json:"priority"` // lower = higher priority
}

// LoadSyncConfig loads sync configuration from environment with defaults
func LoadSyncConfig() *SyncConfig {
	return &SyncConfig{
		Strategy:      getEnv("SYNC_STRATEGY", "scheduled"),
		SyncInterval:  time.Duration(getIntEnv("SYNC_INTERVAL_MS", 30000)) * time.Millisecond,
		SyncOnStartup: getBoolEnv("SYNC_ON_STARTUP", true),

		BatchSize:       getIntEnv("SYNC_BATCH_SIZE", 10),
		InterBatchPause: time.Duration(getIntEnv("SYNC_BATCH_PAUSE_MS", 100)) * time.Millisecond,
		MaxRetries:      getIntEnv("SYNC_MAX_RETRIES", 3),
		RetryDelay:      time.Duration(getIntEnv("SYNC_RETRY_DELAY_MS", 1000)) * time.Millisecond,

		ConflictResolution:     getEnv("SYNC_CONFLICT_RESOLUTION", "merge"),
		FieldConflictThreshold: getIntEnv("SYNC_FIELD_CONFLICT_THRESHOLD", 5),
		ConfidenceThreshold:    getIntEnv("SYNC_CONFIDENCE_THRESHOLD", 70),
		CriticalFields:         getListEnv("SYNC_CRITICAL_FIELDS", defaultCriticalFields),
		PreferenceFields:       getListEnv("SYNC_PREFERENCE_FIELDS", defaultPreferenceFields),
		TerminalStates:         getListEnv("SYNC_TERMINAL_STATES", defaultTerminalStates),

		EnableOptimisticUpdates: getBoolEnv("SYNC_OPTIMISTIC_UPDATES", true),

		Routes: getDefaultRoutes(),
	}
}

// Fields whose divergence is never auto-resolved: identity, money, and
// workflow state transitions.
var defaultCriticalFields = []string{
	"status", "state", "payment_status", "payment_state",
	"total", "amount_total", "amount_due", "balance", "currency",
	"customer_id", "invoice_number", "vin",
}

// Caller-local user-preference fields kept through policy-aware merges
var defaultPreferenceFields = []string{
	"language", "locale", "units", "timezone", "theme",
}

// Workflow states the server cannot be reverted out of by a stale local edit
var defaultTerminalStates = []string{
	"completed", "cancelled", "delivered", "invoiced", "closed",
}

func getDefaultRoutes() []SyncRouteConfig {
	routes := make([]SyncRouteConfig, 0, 2)

	if primary := os.Getenv("SYNC_PRIMARY_URL"); primary != "" {
		routes = append(routes, SyncRouteConfig{URL: primary, Timeout: 10, Priority: 1})
	}
	if fallback := os.Getenv("SYNC_FALLBACK_URL"); fallback != "" {
		routes = append(routes, SyncRouteConfig{URL: fallback, Timeout: 15, Priority: 2})
	}

	return routes
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
