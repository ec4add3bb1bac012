package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/courier/internal/tiering/orchestrator"
)

// Server provides HTTP endpoints for health monitoring and operations.
type Server struct {
	monitor *Monitor
	core    *orchestrator.Core
	server  *http.Server
}

// ServerOption registers additional handlers on the server's mux, so
// the application can expose its API on the same port.
type ServerOption func(mux *http.ServeMux)

// WithHandler mounts h at pattern.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(mux *http.ServeMux) { mux.Handle(pattern, h) }
}

// NewServer creates a health server on the given port.
func NewServer(monitor *Monitor, core *orchestrator.Core, port int, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		core:    core,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/statistics", s.handleStatistics)
	mux.HandleFunc("/failovers", s.handleFailovers)
	mux.Handle("/metrics", promhttp.Handler())

	for _, opt := range opts {
		opt(mux)
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth()

	w.Header().Set("Content-Type", "application/json")
	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.core.Statistics())
}

func (s *Server) handleFailovers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.core.FailoverEvents(limit))
}
