package metrics

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devstatic/devstatic/pkg/errors"
)

// Collector records HTTP, storage and stream metrics.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesSent        prometheus.Counter
	storageCounter   *prometheus.CounterVec
	storageDuration  *prometheus.HistogramVec
	streamErrors     *prometheus.CounterVec
	openHandlesGauge *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// OperationMetrics tracks one storage operation of one backend
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "devstatic",
			Labels:    make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()

	collector := &Collector{
		config:     config,
		registry:   registry,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordRequest records one finished HTTP request.
func (c *Collector) RecordRequest(method string, status int, bytes int64, duration time.Duration) {
	if !c.Enabled() {
		return
	}

	c.requestCounter.With(prometheus.Labels{
		"method": method,
		"status": strconv.Itoa(status),
	}).Inc()
	c.requestDuration.With(prometheus.Labels{
		"method": method,
	}).Observe(duration.Seconds())
	if bytes > 0 {
		c.bytesSent.Add(float64(bytes))
	}
}

// RecordStorageOperation records one backend call. io.EOF is a normal
// end-of-object result, not a failure.
func (c *Collector) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	if !c.Enabled() {
		return
	}
	failed := err != nil && !stderrors.Is(err, io.EOF)

	c.mu.Lock()
	key := backend + "." + operation
	m, ok := c.operations[key]
	if !ok {
		m = &OperationMetrics{}
		c.operations[key] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	if failed {
		m.Errors++
	}
	c.mu.Unlock()

	status := "success"
	if failed {
		status = classifyError(err)
	}
	c.storageCounter.With(prometheus.Labels{
		"backend":   backend,
		"operation": operation,
		"status":    status,
	}).Inc()
	c.storageDuration.With(prometheus.Labels{
		"backend":   backend,
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordHandleOpened increments the open handle gauge.
func (c *Collector) RecordHandleOpened(backend string) {
	if !c.Enabled() {
		return
	}
	c.openHandlesGauge.With(prometheus.Labels{"backend": backend}).Inc()
}

// RecordHandleClosed decrements the open handle gauge.
func (c *Collector) RecordHandleClosed(backend string) {
	if !c.Enabled() {
		return
	}
	c.openHandlesGauge.With(prometheus.Labels{"backend": backend}).Dec()
}

// RecordStreamError counts a response body that ended early.
func (c *Collector) RecordStreamError(backend string, err error) {
	if !c.Enabled() {
		return
	}
	c.streamErrors.With(prometheus.Labels{
		"backend": backend,
		"type":    classifyError(err),
	}).Inc()
}

// GetMetrics returns a snapshot of storage operation metrics keyed by
// "<backend>.<operation>".
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	if !c.Enabled() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics clears the internal operation tracking.
func (c *Collector) ResetMetrics() {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// OperationsHandler renders the storage operation summary as text.
func (c *Collector) OperationsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

		if !c.Enabled() {
			writef("metrics disabled\n")
			return
		}

		ops := c.GetMetrics()
		c.mu.RLock()
		lastReset := c.lastReset
		c.mu.RUnlock()

		writef("Storage Operations Summary\n")
		writef("==========================\n\n")
		writef("Since: %s (%v)\n\n", lastReset.Format(time.RFC3339), time.Since(lastReset).Round(time.Second))

		if len(ops) == 0 {
			writef("No operations recorded.\n")
			return
		}

		names := make([]string, 0, len(ops))
		for name := range ops {
			names = append(names, name)
		}
		sort.Strings(names)

		writef("%-24s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
		writef("%-24s %10s %10s %14s %10s\n", "---------", "-----", "------", "------------", "-------")
		for _, name := range names {
			op := ops[name]
			writef("%-24s %10d %10d %14v %10s\n",
				name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
		}
	})
}

func (c *Collector) initMetrics() {
	labels := prometheus.Labels(c.config.Labels)

	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests by method and status",
			ConstLabels: labels,
		},
		[]string{"method", "status"},
	)

	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
			ConstLabels: labels,
		},
		[]string{"method"},
	)

	c.bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "response_bytes_total",
			Help:        "Total number of response body bytes written",
			ConstLabels: labels,
		},
	)

	c.storageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "storage_operations_total",
			Help:        "Total number of storage backend operations",
			ConstLabels: labels,
		},
		[]string{"backend", "operation", "status"},
	)

	c.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "storage_operation_duration_seconds",
			Help:        "Duration of storage backend operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 18), // 0.1ms to ~13s
			ConstLabels: labels,
		},
		[]string{"backend", "operation"},
	)

	c.streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "stream_errors_total",
			Help:        "Total number of response bodies terminated by an error",
			ConstLabels: labels,
		},
		[]string{"backend", "type"},
	)

	c.openHandlesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "open_handles",
			Help:        "Number of open storage handles",
			ConstLabels: labels,
		},
		[]string{"backend"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.requestDuration,
		c.bytesSent,
		c.storageCounter,
		c.storageDuration,
		c.streamErrors,
		c.openHandlesGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError maps an error onto a low-cardinality label value.
func classifyError(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeObjectNotFound:
		return "not_found"
	case errors.ErrCodeAccessDenied:
		return "permission"
	case errors.ErrCodeConnectionTimeout:
		return "timeout"
	case errors.ErrCodeNetworkError:
		return "connection"
	case errors.ErrCodeOperationCanceled:
		return "canceled"
	case errors.ErrCodeStorageOpen, errors.ErrCodeStorageRead, errors.ErrCodeStorageClose:
		return "storage"
	default:
		return "other"
	}
}
