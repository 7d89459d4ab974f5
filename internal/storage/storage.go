// Package storage defines the contract between the static file engine and
// the places build artifacts live.
package storage

import (
	"context"
	"time"
)

// Metadata describes a stored object as of one Stat call.
type Metadata struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool

	// Inode identifies the object's storage identity. Together with Version
	// it changes whenever the object is replaced.
	Inode   uint64
	Version string

	// ContentType is set by backends that store it (S3); empty otherwise.
	ContentType string
}

// Backend resolves slash-separated object names relative to its root.
//
// Stat and Open report missing objects with an error for which
// errors.IsNotFound is true. Every other failure is reported distinctly.
type Backend interface {
	Name() string
	Stat(ctx context.Context, name string) (*Metadata, error)
	Open(ctx context.Context, name string) (Handle, error)
	HealthCheck(ctx context.Context) error
}

// Handle is an open object. At most one ReadAt is in flight per handle.
//
// ReadAt reads up to len(p) bytes starting at off. A read that reaches the
// end of the object returns the bytes read and a nil error; a read starting
// at or beyond the end returns 0, io.EOF.
type Handle interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	Close() error
}

// Recorder receives storage operation outcomes. *metrics.Collector
// implements it.
type Recorder interface {
	RecordStorageOperation(backend, operation string, duration time.Duration, err error)
	RecordHandleOpened(backend string)
	RecordHandleClosed(backend string)
}
