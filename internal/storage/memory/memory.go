// Package memory implements an in-memory storage backend holding the output
// of a development build.
package memory

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/pkg/errors"
)

type file struct {
	data    []byte
	modTime time.Time
	gen     uint64
}

// Backend is a flat map of slash-separated names to immutable byte slices.
// Directories are implicit.
type Backend struct {
	mu    sync.RWMutex
	files map[string]*file
	gen   uint64
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{files: make(map[string]*file)}
}

func (b *Backend) Name() string { return "memory" }

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Put stores data under name, replacing any existing object. Every Put
// assigns a new generation, so the object's inode changes on each rebuild.
// The caller must not modify data afterwards.
func (b *Backend) Put(name string, data []byte, modTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	b.files[clean(name)] = &file{data: data, modTime: modTime, gen: b.gen}
}

// LoadDir copies every regular file under dir into the backend, keyed by
// its slash-separated path relative to dir. It returns the number of files
// loaded.
func (b *Backend) LoadDir(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		b.Put(filepath.ToSlash(rel), data, info.ModTime())
		count++
		return nil
	})
	if err != nil {
		return count, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to load directory").
			WithComponent("memory").
			WithContext("dir", dir)
	}
	return count, nil
}

// Remove deletes name. Missing names are ignored.
func (b *Backend) Remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, clean(name))
}

// Names lists stored object names in sorted order.
func (b *Backend) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.files))
	for n := range b.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Stat(ctx context.Context, name string) (*storage.Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	key := clean(name)
	if f, ok := b.files[key]; ok {
		return &storage.Metadata{
			Name:    key,
			Size:    int64(len(f.data)),
			ModTime: f.modTime,
			Inode:   f.gen,
		}, nil
	}

	prefix := key + "/"
	if key == "" {
		prefix = ""
	}
	var newest time.Time
	found := false
	for n, f := range b.files {
		if strings.HasPrefix(n, prefix) {
			found = true
			if f.modTime.After(newest) {
				newest = f.modTime
			}
		}
	}
	if found || key == "" {
		return &storage.Metadata{Name: key, ModTime: newest, IsDir: true}, nil
	}

	return nil, notFound(key)
}

func (b *Backend) Open(ctx context.Context, name string) (storage.Handle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	key := clean(name)
	f, ok := b.files[key]
	if !ok {
		return nil, notFound(key)
	}
	return &handle{data: f.data}, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error { return nil }

func notFound(name string) error {
	return errors.NewError(errors.ErrCodeObjectNotFound, "no such object").
		WithComponent("memory").
		WithContext("name", name)
}

type handle struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (h *handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.NewError(errors.ErrCodeStorageRead, "read on closed handle").WithComponent("memory")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off >= int64(len(h.data)) {
		return 0, io.EOF
	}
	return copy(p, h.data[off:]), nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.NewError(errors.ErrCodeStorageClose, "handle already closed").WithComponent("memory")
	}
	h.closed = true
	return nil
}
