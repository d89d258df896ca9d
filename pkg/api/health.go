package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/wexec/pkg/cluster"
	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/gorilla/mux"
)

// Version is reported by the health endpoints. It is "dev" unless a build
// overrides it with -ldflags -X; cmd/wexecd's own Version variable is a
// separate value and does not set this one.
var Version = "dev"

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	cluster *cluster.Manager
	router  *mux.Router
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(clusterMgr *cluster.Manager) *HealthServer {
	router := mux.NewRouter()
	hs := &HealthServer{
		cluster: clusterMgr,
		router:  router,
	}

	// Register endpoints
	router.HandleFunc("/health", hs.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", hs.readyHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint
// This checks if the service is ready to accept traffic
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	// Check 1: Raft cluster
	if hs.cluster != nil {
		if hs.cluster.IsLeader() {
			checks["raft"] = "leader"
		} else {
			leaderAddr := hs.cluster.LeaderAddr()
			if leaderAddr != "" {
				checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
			} else {
				checks["raft"] = "no leader elected"
				ready = false
				message = "Waiting for leader election"
			}
		}
	} else {
		checks["raft"] = "not initialized"
		ready = false
		message = "Cluster manager not initialized"
	}

	// Check 2: replication progress — surfaced rather than gated on, since a
	// follower with a stale applied_index is still ready to serve reads.
	if hs.cluster != nil {
		stats := hs.cluster.RaftStats()
		checks["applied_index"] = fmt.Sprintf("%d", stats["applied_index"])
	}

	// Prepare response
	status := "ready"
	statusCode := http.StatusOK

	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.router
}
