package storage

import (
	"context"
	"sync"
	"time"
)

// InstrumentedBackend reports every storage call to a Recorder.
type InstrumentedBackend struct {
	Backend
	rec Recorder
}

// NewInstrumentedBackend wraps b. A nil recorder returns b unchanged.
func NewInstrumentedBackend(b Backend, rec Recorder) Backend {
	if rec == nil {
		return b
	}
	return &InstrumentedBackend{Backend: b, rec: rec}
}

func (ib *InstrumentedBackend) Stat(ctx context.Context, name string) (*Metadata, error) {
	start := time.Now()
	m, err := ib.Backend.Stat(ctx, name)
	ib.rec.RecordStorageOperation(ib.Name(), "stat", time.Since(start), err)
	return m, err
}

func (ib *InstrumentedBackend) Open(ctx context.Context, name string) (Handle, error) {
	start := time.Now()
	h, err := ib.Backend.Open(ctx, name)
	ib.rec.RecordStorageOperation(ib.Name(), "open", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	ib.rec.RecordHandleOpened(ib.Name())
	return &instrumentedHandle{Handle: h, backend: ib.Name(), rec: ib.rec}, nil
}

func (ib *InstrumentedBackend) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := ib.Backend.HealthCheck(ctx)
	ib.rec.RecordStorageOperation(ib.Name(), "health", time.Since(start), err)
	return err
}

type instrumentedHandle struct {
	Handle
	backend string
	rec     Recorder
	once    sync.Once
}

func (h *instrumentedHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	start := time.Now()
	n, err := h.Handle.ReadAt(ctx, p, off)
	h.rec.RecordStorageOperation(h.backend, "read", time.Since(start), err)
	return n, err
}

func (h *instrumentedHandle) Close() error {
	start := time.Now()
	err := h.Handle.Close()
	h.rec.RecordStorageOperation(h.backend, "close", time.Since(start), err)
	h.once.Do(func() { h.rec.RecordHandleClosed(h.backend) })
	return err
}
