// Package local serves objects from a directory on the OS filesystem.
package local

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/pkg/errors"
	"github.com/devstatic/devstatic/pkg/utils"
)

// Backend maps slash-separated names onto files below Dir.
type Backend struct {
	dir string
}

// New returns a backend rooted at dir. dir must exist and be a directory.
func New(dir string) (*Backend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "cannot resolve directory").
			WithComponent("local")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "cannot stat directory").
			WithComponent("local").WithContext("dir", abs)
	}
	if !info.IsDir() {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "not a directory").
			WithComponent("local").WithContext("dir", abs)
	}
	return &Backend{dir: abs}, nil
}

func (b *Backend) Name() string { return "local" }

// Dir returns the absolute root directory.
func (b *Backend) Dir() string { return b.dir }

func (b *Backend) resolve(name string) (string, error) {
	if utils.HasTraversal(name) {
		return "", errors.NewError(errors.ErrCodePathInvalid, "path escapes root").
			WithComponent("local").WithContext("name", name)
	}
	p, err := utils.SecureJoin(b.dir, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodePathInvalid, "path escapes root").
			WithComponent("local").WithContext("name", name)
	}
	return p, nil
}

func (b *Backend) Stat(ctx context.Context, name string) (*storage.Metadata, error) {
	p, err := b.resolve(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, translate(err, "stat", name)
	}

	return &storage.Metadata{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Inode:   inode(p, info),
	}, nil
}

func (b *Backend) Open(ctx context.Context, name string) (storage.Handle, error) {
	p, err := b.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p) // #nosec G304 -- p is confined to b.dir by resolve
	if err != nil {
		return nil, translate(err, "open", name)
	}
	return &handle{f: f}, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(b.dir); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageOpen, "root directory unavailable").
			WithComponent("local")
	}
	return nil
}

func translate(err error, op, name string) error {
	code := errors.ErrCodeStorageOpen
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		code = errors.ErrCodeObjectNotFound
	case stderrors.Is(err, fs.ErrPermission):
		code = errors.ErrCodeAccessDenied
	}
	return errors.Wrap(err, code, op+" failed").
		WithComponent("local").
		WithOperation(op).
		WithContext("name", name)
}

type handle struct {
	f *os.File
}

func (h *handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := h.f.ReadAt(p, off)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, errors.ErrCodeStorageRead, "read failed").
			WithComponent("local").WithOperation("read")
	}
	return n, err
}

func (h *handle) Close() error {
	if err := h.f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageClose, "close failed").
			WithComponent("local").WithOperation("close")
	}
	return nil
}
