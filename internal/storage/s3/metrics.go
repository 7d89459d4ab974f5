package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 backend request metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	Retries         int64         `json:"retries"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// MetricsCollector aggregates BackendMetrics
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRequest records one S3 call
func (mc *MetricsCollector) RecordRequest(duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.Requests++
	if err != nil {
		mc.metrics.Errors++
		mc.metrics.LastError = err.Error()
		mc.metrics.LastErrorTime = time.Now()
	}

	// Rolling average latency
	if mc.metrics.Requests == 1 {
		mc.metrics.AverageLatency = duration
	} else {
		mc.metrics.AverageLatency = time.Duration(
			(int64(mc.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

// RecordRetry counts a retried read
func (mc *MetricsCollector) RecordRetry() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.Retries++
}

// RecordBytesDownloaded adds to the downloaded byte count
func (mc *MetricsCollector) RecordBytesDownloaded(n int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.BytesDownloaded += n
}

// GetMetrics returns a snapshot
func (mc *MetricsCollector) GetMetrics() BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}

// GetErrorRate returns errors per request
func (mc *MetricsCollector) GetErrorRate() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if mc.metrics.Requests == 0 {
		return 0
	}
	return float64(mc.metrics.Errors) / float64(mc.metrics.Requests)
}
