package storage_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstatic/devstatic/internal/cache"
	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/internal/storage/memory"
	"github.com/devstatic/devstatic/pkg/errors"
)

type countingBackend struct {
	storage.Backend
	stats int
}

func (c *countingBackend) Stat(ctx context.Context, name string) (*storage.Metadata, error) {
	c.stats++
	return c.Backend.Stat(ctx, name)
}

func TestCachedBackend(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.Put("app.js", []byte("console.log(1)"), time.Now())
	inner := &countingBackend{Backend: mem}

	cb := storage.NewCachedBackend(inner, &cache.CacheConfig{MaxEntries: 16, TTL: time.Minute})
	defer cb.Close()

	for i := 0; i < 3; i++ {
		meta, err := cb.Stat(ctx, "app.js")
		require.NoError(t, err)
		assert.Equal(t, int64(14), meta.Size)
	}
	assert.Equal(t, 1, inner.stats)

	// Misses are not cached.
	for i := 0; i < 2; i++ {
		_, err := cb.Stat(ctx, "missing.js")
		assert.True(t, errors.IsNotFound(err))
	}
	assert.Equal(t, 3, inner.stats)

	mem.Put("app.js", []byte("console.log(2);"), time.Now())
	meta, err := cb.Stat(ctx, "app.js")
	require.NoError(t, err)
	assert.Equal(t, int64(14), meta.Size, "stale until invalidated")

	cb.Invalidate("app.js")
	meta, err = cb.Stat(ctx, "app.js")
	require.NoError(t, err)
	assert.Equal(t, int64(15), meta.Size)

	cb.Purge()
	_, err = cb.Stat(ctx, "app.js")
	require.NoError(t, err)
	assert.Equal(t, 5, inner.stats)

	stats := cb.Stats()
	assert.Equal(t, uint64(3), stats.Hits)
	assert.Equal(t, "memory", cb.Name())
}

type recordedOp struct {
	backend, op string
	failed      bool
}

type fakeRecorder struct {
	mu     sync.Mutex
	ops    []recordedOp
	opened int
	closed int
}

func (f *fakeRecorder) RecordStorageOperation(backend, op string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{backend, op, err != nil})
}

func (f *fakeRecorder) RecordHandleOpened(string) { f.opened++ }
func (f *fakeRecorder) RecordHandleClosed(string) { f.closed++ }

func TestInstrumentedBackend(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.Put("a.txt", []byte("hello"), time.Now())
	rec := &fakeRecorder{}

	b := storage.NewInstrumentedBackend(mem, rec)
	assert.Equal(t, "memory", b.Name())

	_, err := b.Stat(ctx, "a.txt")
	require.NoError(t, err)
	_, err = b.Stat(ctx, "nope.txt")
	require.Error(t, err)

	h, err := b.Open(ctx, "a.txt")
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := h.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	_, err = h.ReadAt(ctx, buf, 5)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, h.Close())
	_ = h.Close()

	require.NoError(t, b.HealthCheck(ctx))

	assert.Equal(t, []recordedOp{
		{"memory", "stat", false},
		{"memory", "stat", true},
		{"memory", "open", false},
		{"memory", "read", false},
		{"memory", "read", true},
		{"memory", "close", false},
		{"memory", "close", true},
		{"memory", "health", false},
	}, rec.ops)
	assert.Equal(t, 1, rec.opened)
	assert.Equal(t, 1, rec.closed, "closed gauge moves once per handle")
}

func TestInstrumentedBackend_NilRecorder(t *testing.T) {
	mem := memory.New()
	assert.Same(t, storage.Backend(mem), storage.NewInstrumentedBackend(mem, nil))
}
