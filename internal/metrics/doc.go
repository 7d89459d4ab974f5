/*
Package metrics exports Prometheus metrics for the static file server.

Collector implements the storage and static recorder interfaces and keeps a
small in-process summary of storage operations for the debug endpoint.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "devstatic",
	})
	if err != nil {
		return err
	}
	backend = storage.NewInstrumentedBackend(backend, collector)
	mux.Handle("/metrics", collector.Handler())

Exported series (with the configured namespace prefix):

	http_requests_total{method,status}
	http_request_duration_seconds{method}
	response_bytes_total
	storage_operations_total{backend,operation,status}
	storage_operation_duration_seconds{backend,operation}
	stream_errors_total{backend,type}
	open_handles{backend}

A disabled collector accepts every call and records nothing.
*/
package metrics
