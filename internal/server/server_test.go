package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstatic/devstatic/internal/config"
	"github.com/devstatic/devstatic/internal/metrics"
	"github.com/devstatic/devstatic/internal/static"
	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/internal/storage/memory"
	"github.com/devstatic/devstatic/pkg/errors"
)

type unhealthyBackend struct {
	*memory.Backend
}

func (unhealthyBackend) HealthCheck(context.Context) error {
	return errors.NewError(errors.ErrCodeStorageOpen, "bucket not found")
}

func newTestServer(t *testing.T, backend storage.Backend) (*Server, *metrics.Collector) {
	t.Helper()

	cfg := config.NewDefault()
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Path:      cfg.Monitoring.Metrics.Path,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	})
	require.NoError(t, err)

	service := static.New(backend, static.DefaultOptions(), nil)
	return New(cfg, service, collector, nil), collector
}

func newMemory() *memory.Backend {
	b := memory.New()
	b.Put("app.js", []byte("console.log('hi')"), time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return b
}

func do(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	s, _ := newTestServer(t, newMemory())
	require.NotNil(t, s.httpServer)
	assert.Equal(t, ":8080", s.httpServer.Addr)
	assert.Equal(t, 30*time.Second, s.httpServer.ReadTimeout)
}

func TestServer_ServesArtifacts(t *testing.T) {
	s, _ := newTestServer(t, newMemory())

	rec := do(s, http.MethodGet, "/app.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('hi')", rec.Body.String())

	rec = do(s, http.MethodGet, "/app.js", http.Header{"Range": {"bytes=0-6"}})
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "console", rec.Body.String())
}

func TestServer_Fallback(t *testing.T) {
	s, _ := newTestServer(t, newMemory())

	rec := do(s, http.MethodGet, "/missing.js", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Not found", body["error"])

	rec = do(s, http.MethodPost, "/app.js", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, newMemory())

	rec := do(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "memory", body["backend"])

	rec = do(s, http.MethodDelete, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Unhealthy(t *testing.T) {
	s, _ := newTestServer(t, unhealthyBackend{newMemory()})

	rec := do(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Contains(t, body["error"], "bucket not found")
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, newMemory())

	do(s, http.MethodGet, "/app.js", nil)
	do(s, http.MethodGet, "/missing.js", nil)

	rec := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scrape := rec.Body.String()
	assert.Contains(t, scrape, `devstatic_http_requests_total{method="GET",status="200"} 1`)
	assert.Contains(t, scrape, `devstatic_http_requests_total{method="GET",status="404"} 1`)

	rec = do(s, http.MethodGet, "/debug/storage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Monitoring.Metrics.Enabled = false
	s := New(cfg, static.New(newMemory(), static.DefaultOptions(), nil), nil, nil)

	rec := do(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodGet, "/app.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingMiddleware_Abort(t *testing.T) {
	s, collector := newTestServer(t, newMemory())

	h := s.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "partial")
		panic(http.ErrAbortHandler)
	}))

	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), req)
	})

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), `devstatic_http_requests_total{method="GET",status="200"} 1`))
}

func TestServer_StartShutdown(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Server.Address = "127.0.0.1:0"
	s := New(cfg, static.New(newMemory(), static.DefaultOptions(), nil), nil, nil)

	s.StartBackground()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
