// Package server exposes the static service over HTTP together with the
// health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/devstatic/devstatic/internal/config"
	"github.com/devstatic/devstatic/internal/metrics"
	"github.com/devstatic/devstatic/internal/static"
	"github.com/devstatic/devstatic/pkg/utils"
)

const healthTimeout = 5 * time.Second

// Server serves build artifacts and operational endpoints
type Server struct {
	httpServer *http.Server
	service    *static.Service
	collector  *metrics.Collector
	logger     *utils.StructuredLogger
	config     *config.Configuration
	handler    http.Handler
}

// New creates a server. collector may be nil.
func New(cfg *config.Configuration, service *static.Service, collector *metrics.Collector, logger *utils.StructuredLogger) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{
		service:   service,
		collector: collector,
		logger:    logger.WithComponent("server"),
		config:    cfg,
	}

	mux := http.NewServeMux()

	healthPath := cfg.Server.HealthPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	mux.HandleFunc(healthPath, s.handleHealth)

	if collector.Enabled() && cfg.Monitoring.Metrics.Enabled {
		mux.Handle(cfg.Monitoring.Metrics.Path, collector.Handler())
		mux.Handle("/debug/storage", collector.OperationsHandler())
	}

	mux.Handle("/", service.Handler(http.HandlerFunc(s.handleFallback)))

	s.handler = s.loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting server", map[string]interface{}{
		"address": s.config.Server.Address,
		"backend": s.service.BackendName(),
	})
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", map[string]interface{}{"error": err})
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := map[string]interface{}{
		"status":    "healthy",
		"backend":   s.service.BackendName(),
		"timestamp": time.Now(),
	}
	statusCode := http.StatusOK
	if err := s.service.HealthCheck(ctx); err != nil {
		response["status"] = "unhealthy"
		response["error"] = err.Error()
		statusCode = http.StatusServiceUnavailable
		s.logger.Warn("backend health check failed", map[string]interface{}{"error": err})
	}

	s.respondJSON(w, statusCode, response)
}

// handleFallback answers requests the static service did not handle.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondError(w, http.StatusNotFound, "Not found")
}

// Middleware

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.bytes += int64(n)
	return n, err
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w}

		defer func() {
			aborted := recover()
			s.logRequest(r, rr, time.Since(start), aborted != nil)
			if aborted != nil {
				panic(aborted)
			}
		}()

		next.ServeHTTP(rr, r)
	})
}

func (s *Server) logRequest(r *http.Request, rr *responseRecorder, duration time.Duration, aborted bool) {
	status := rr.status
	if status == 0 {
		status = http.StatusOK
	}

	s.collector.RecordRequest(r.Method, status, rr.bytes, duration)

	fields := map[string]interface{}{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   status,
		"bytes":    rr.bytes,
		"duration": duration.String(),
	}
	if rng := r.Header.Get("Range"); rng != "" {
		fields["range"] = rng
	}
	if aborted {
		fields["aborted"] = true
		s.logger.Warn("request aborted", fields)
		return
	}
	s.logger.Debug("request", fields)
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", map[string]interface{}{"error": err})
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
