// Package api exposes the node's HTTP surface: liveness, readiness, a
// status summary, and Prometheus exposition. The messaging core has no
// tenant-facing CRUD surface to administer, so the route set is limited to
// observability of the pool/health/control-plane state this node already
// owns.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"github.com/zenithdb/zenith/internal/health"
	"github.com/zenithdb/zenith/internal/pool"
)

// Server is the node's HTTP status and metrics surface.
type Server struct {
	pools          map[string]*pool.Pool
	healthCheck    *health.Checker
	metricsHandler http.Handler
	startTime      time.Time
	nodeID         string
	httpServer     *http.Server
}

// NewServer creates an API server. pools maps peer address to its
// connection pool, used for the status summary.
func NewServer(nodeID string, pools map[string]*pool.Pool, hc *health.Checker, metricsHandler http.Handler) *Server {
	return &Server{
		pools:          pools,
		healthCheck:    hc,
		metricsHandler: metricsHandler,
		nodeID:         nodeID,
		startTime:      time.Now(),
	}
}

// Start starts the HTTP server on addr.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.Handle("/metrics", s.metricsHandler).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] HTTP surface listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status": boolToStatus(allHealthy),
		"peers":  statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if len(s.pools) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for addr := range s.pools {
		if s.healthCheck == nil || s.healthCheck.IsHealthy(addr) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()

	poolStats := make(map[string]pool.Stats, len(s.pools))
	for addr, p := range s.pools {
		poolStats[addr] = p.Stats()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":        s.nodeID,
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"pools":          poolStats,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
