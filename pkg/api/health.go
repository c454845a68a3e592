package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
)

// HealthServer provides the admin HTTP endpoints
type HealthServer struct {
	health  *metrics.HealthChecker
	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
}

// NewHealthServer creates the admin server. metricsHandler may be nil, in
// which case /metrics is not mounted.
func NewHealthServer(health *metrics.HealthChecker, metricsHandler http.Handler, rec metrics.Recorder) *HealthServer {
	if rec == nil {
		rec = metrics.Nop{}
	}

	mux := http.NewServeMux()
	hs := &HealthServer{
		health: health,
		mux:    mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	hs.handler = Instrument(rec, mux, ReadOnly(mux))
	hs.server = &http.Server{
		Handler:      hs.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return hs
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// Start serves on addr until Shutdown. It returns nil once shut down.
func (hs *HealthServer) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(l)
}

// Serve serves on an existing listener
func (hs *HealthServer) Serve(l net.Listener) error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", l.Addr().String()).Msg("admin server listening")
	if err := hs.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// healthHandler implements the /health endpoint.
// The process is alive if it answers; component problems are reported, not fatal.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	if hs.health != nil {
		status := hs.health.Health()
		response.Version = status.Version
		response.Uptime = status.Uptime
		response.Components = status.Components
	}

	writeJSON(w, http.StatusOK, response)
}

// readyHandler implements the /ready endpoint
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if hs.health == nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:    "not ready",
			Timestamp: time.Now(),
			Checks:    map[string]string{},
			Message:   "health checker not initialized",
		})
		return
	}

	status := hs.health.Readiness()

	response := ReadyResponse{
		Status:    "ready",
		Timestamp: status.Timestamp,
		Checks:    status.Components,
		Message:   status.Message,
	}
	if response.Checks == nil {
		response.Checks = map[string]string{}
	}

	statusCode := http.StatusOK
	if status.Status != "ready" {
		response.Status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.handler
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
