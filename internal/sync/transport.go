package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/nexovan/fieldsync/internal/config"
)

// RouteStatus tracks the health of one configured route
type RouteStatus struct {
	URL          string        `json:"url"`
	IsAvailable  bool          `json:"is_available"`
	LastCheck    time.Time     `json:"last_check"`
	LastSuccess  *time.Time    `json:"last_success,omitempty"`
	LastFailure  *time.Time    `json:"last_failure,omitempty"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	AvgLatency   time.Duration `json:"avg_latency"`

	latencySum   time.Duration
	latencyCount int
}

// HTTPTransport sends operations to the server over HTTP with route
// fallback. It probes route health periodically and reports connectivity
// transitions through the OnTransition callback.
type HTTPTransport struct {
	mu sync.RWMutex

	routes        []config.SyncRouteConfig
	routeStatuses map[string]*RouteStatus
	currentRoute  string
	isOnline      bool

	tokenSource func() string

	healthCheckInterval time.Duration
	healthCheckRunning  bool
	stopHealthCheck     chan struct{}

	// OnTransition is invoked outside the transport lock whenever online
	// state flips
	OnTransition func(online bool)

	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the configured routes.
// tokenSource supplies the bearer token attached to each request; it may be
// nil for unauthenticated servers.
func NewHTTPTransport(routes []config.SyncRouteConfig, tokenSource func() string) *HTTPTransport {
	t := &HTTPTransport{
		routes:              routes,
		routeStatuses:       make(map[string]*RouteStatus),
		tokenSource:         tokenSource,
		healthCheckInterval: 30 * time.Second,
		stopHealthCheck:     make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	for _, route := range routes {
		t.routeStatuses[route.URL] = &RouteStatus{URL: route.URL}
	}

	return t
}

// Start begins periodic health checking
func (t *HTTPTransport) Start() {
	t.mu.Lock()
	if t.healthCheckRunning {
		t.mu.Unlock()
		return
	}
	t.healthCheckRunning = true
	t.stopHealthCheck = make(chan struct{})
	t.mu.Unlock()

	go t.healthCheckLoop()
}

// Stop halts health checking
func (t *HTTPTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.healthCheckRunning {
		return
	}
	t.healthCheckRunning = false
	close(t.stopHealthCheck)
}

// IsOnline reports whether any route is currently available
func (t *HTTPTransport) IsOnline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isOnline
}

// RouteStatuses returns a snapshot of all route health records
func (t *HTTPTransport) RouteStatuses() map[string]RouteStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]RouteStatus, len(t.routeStatuses))
	for k, v := range t.routeStatuses {
		out[k] = *v
	}
	return out
}

func (t *HTTPTransport) healthCheckLoop() {
	// Probe immediately so connectivity is known before the first drain
	t.checkAllRoutes()

	ticker := time.NewTicker(t.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.checkAllRoutes()
		case <-t.stopHealthCheck:
			return
		}
	}
}

func (t *HTTPTransport) checkAllRoutes() {
	t.mu.Lock()

	available := ""
	for _, route := range t.routes {
		if t.probeLocked(route) {
			available = route.URL
			break
		}
	}

	wasOnline := t.isOnline
	t.isOnline = available != ""
	if available != "" && t.currentRoute != available {
		log.Printf("🔀 Sync route switched: %s -> %s", t.currentRoute, available)
		t.currentRoute = available
	}
	nowOnline := t.isOnline
	callback := t.OnTransition
	t.mu.Unlock()

	if callback != nil && wasOnline != nowOnline {
		callback(nowOnline)
	}
}

// probeLocked tests one route's /health endpoint. Caller holds the mutex.
func (t *HTTPTransport) probeLocked(route config.SyncRouteConfig) bool {
	client := &http.Client{Timeout: time.Duration(route.Timeout) * time.Second}

	status := t.routeStatuses[route.URL]
	status.LastCheck = time.Now()

	start := time.Now()
	resp, err := client.Get(route.URL + "/health")
	latency := time.Since(start)

	now := time.Now()
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		status.IsAvailable = false
		status.FailureCount++
		status.LastFailure = &now
		return false
	}
	resp.Body.Close()

	status.IsAvailable = true
	status.SuccessCount++
	status.LastSuccess = &now
	status.FailureCount = 0
	status.latencySum += latency
	status.latencyCount++
	status.AvgLatency = status.latencySum / time.Duration(status.latencyCount)
	return true
}

// wire shapes for the entity endpoint

type serverResponse struct {
	Payload map[string]interface{} `json:"payload"`
	Version int64                  `json:"version"`
}

type conflictResponse struct {
	ServerPayload map[string]interface{} `json:"server_payload"`
	ConflictType  string                 `json:"conflict_type"`
}

// Send performs one network exchange for an operation. Precondition failures
// (HTTP 409) surface as a conflict outcome carrying the server's current
// payload; timeouts and 5xx responses are retryable failures.
func (t *HTTPTransport) Send(ctx context.Context, op *Operation) (SendResult, error) {
	t.mu.RLock()
	route := t.currentRoute
	t.mu.RUnlock()

	if route == "" {
		return SendResult{Outcome: OutcomeFailure, Retryable: true, Message: "no sync route available"}, nil
	}

	method, url := t.requestLine(route, op)

	var body io.Reader
	if op.Kind != OpDelete && op.Kind != OpRead {
		encoded, err := json.Marshal(op.Payload)
		if err != nil {
			return SendResult{Outcome: OutcomeFailure, Retryable: false, Message: err.Error()}, nil
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operation-ID", op.ID)
	req.Header.Set("X-Expected-Version", fmt.Sprintf("%d", op.Metadata.ExpectedVersion))
	req.Header.Set("X-Checksum", op.Metadata.Checksum)
	if op.Metadata.ActorID != "" {
		req.Header.Set("X-Actor-ID", op.Metadata.ActorID)
	}
	if op.Metadata.DeviceID != "" {
		req.Header.Set("X-Device-ID", op.Metadata.DeviceID)
	}
	if t.tokenSource != nil {
		if token := t.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// Network failure or timeout: retryable
		return SendResult{Outcome: OutcomeFailure, Retryable: true, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr serverResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil && err != io.EOF {
			return SendResult{Outcome: OutcomeFailure, Retryable: true, Message: fmt.Sprintf("malformed server response: %v", err)}, nil
		}
		result := SendResult{Outcome: OutcomeSuccess, Version: sr.Version}
		if sr.Payload != nil {
			result.Payload = PayloadFromInterface(sr.Payload)
		}
		return result, nil

	case resp.StatusCode == http.StatusConflict:
		var cr conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return SendResult{Outcome: OutcomeFailure, Retryable: true, Message: fmt.Sprintf("malformed conflict response: %v", err)}, nil
		}
		return SendResult{
			Outcome:      OutcomeConflict,
			Payload:      PayloadFromInterface(cr.ServerPayload),
			ConflictType: ConflictType(cr.ConflictType),
		}, nil

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SendResult{Outcome: OutcomeFailure, Retryable: true, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)}, nil
	}

	// Remaining 4xx responses are not retryable
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return SendResult{Outcome: OutcomeFailure, Retryable: false, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)}, nil
}

func (t *HTTPTransport) requestLine(route string, op *Operation) (string, string) {
	base := fmt.Sprintf("%s/api/entities/%s/%s", route, op.EntityType, op.EntityID)
	switch op.Kind {
	case OpCreate:
		return http.MethodPost, base
	case OpUpdate:
		return http.MethodPut, base
	case OpDelete:
		return http.MethodDelete, base
	}
	return http.MethodGet, base
}
