// Package stream implements RangeReadStream, a pull-based reader that
// emits an ordered list of byte ranges of one storage object, each
// optionally framed by synthetic prefix and suffix bytes.
package stream

import (
	"context"
	"io"
	"sync"

	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/pkg/errors"
)

var (
	// ErrStreamClosed is returned by Read after Close.
	ErrStreamClosed = errors.NewError(errors.ErrCodeStreamClosed, "stream closed")

	// ErrConcurrentRead is returned when Read is entered while another
	// Read is still in progress.
	ErrConcurrentRead = errors.NewError(errors.ErrCodeConcurrentRead, "read already in progress")
)

// Range is one contiguous span of the object to emit.
type Range struct {
	Offset int64
	Length int64
	Prefix []byte
	Suffix []byte
}

// Size is the number of bytes the range contributes to the stream.
func (r Range) Size() int64 {
	return int64(len(r.Prefix)) + r.Length + int64(len(r.Suffix))
}

// TotalSize returns the exact number of bytes a stream over ranges emits.
func TotalSize(ranges []Range) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Size()
	}
	return total
}

// State names the byte source being drained for the current range.
type State int

const (
	StatePrefix State = iota
	StateRange
	StateSuffix
)

func (s State) String() string {
	switch s {
	case StatePrefix:
		return "PREFIX"
	case StateRange:
		return "RANGE"
	case StateSuffix:
		return "SUFFIX"
	default:
		return "UNKNOWN"
	}
}

// Opener opens the object the stream reads from.
type Opener func(ctx context.Context) (storage.Handle, error)

// Option configures a RangeReadStream.
type Option func(*RangeReadStream)

// OnClose registers fn to run once the handle has been released. fn
// receives the error that terminated the stream, or the close error when
// nothing else failed, or nil.
func OnClose(fn func(err error)) Option {
	return func(s *RangeReadStream) {
		s.onClose = fn
	}
}

// RangeReadStream reads ranges in order from a lazily opened handle.
//
// At most one positioned read is issued per Read call and Read must not be
// entered concurrently. Closing while a Read is in flight defers releasing
// the handle until that Read returns.
type RangeReadStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
	open   Opener
	ranges []Range

	onClose func(error)
	done    chan struct{}

	// Owned by the goroutine that set busy.
	handle  storage.Handle
	index   int
	state   State
	emitted int64

	mu           sync.Mutex
	busy         bool
	pendingClose bool
	closing      bool
	eof          bool
	err          error
}

// New creates a stream over ranges. Nothing is opened until the first
// Read. Canceling ctx closes the stream with an OPERATION_CANCELED error.
func New(ctx context.Context, open Opener, ranges []Range, opts ...Option) *RangeReadStream {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &RangeReadStream{
		open:   open,
		ranges: ranges,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stop = context.AfterFunc(ctx, func() {
		s.CloseWithError(errors.Wrap(context.Cause(ctx), errors.ErrCodeOperationCanceled, "request canceled").
			WithComponent("stream"))
	})
	return s
}

// Read fills p with the next bytes of the stream.
func (s *RangeReadStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return 0, ErrConcurrentRead
	}
	if s.closing {
		err := s.closedErr()
		s.mu.Unlock()
		return 0, err
	}
	if len(p) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.busy = true
	s.mu.Unlock()

	n, err := s.pull(p)

	s.mu.Lock()
	s.busy = false
	finish := false
	switch {
	case s.pendingClose:
		s.pendingClose = false
		finish = true
	case err != nil:
		s.closing = true
		s.err = err
		finish = true
	case s.index >= len(s.ranges):
		s.closing = true
		s.eof = true
		finish = true
	}
	s.mu.Unlock()

	if finish {
		s.finish()
	}
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// pull runs the state machine until p is full, the stream ends, or a
// second positioned read would be needed.
func (s *RangeReadStream) pull(p []byte) (int, error) {
	if s.index >= len(s.ranges) {
		return 0, nil
	}
	if s.handle == nil {
		h, err := s.open(s.ctx)
		if err != nil {
			return 0, err
		}
		s.handle = h
	}

	total := 0
	readIssued := false
	for total < len(p) && s.index < len(s.ranges) {
		r := &s.ranges[s.index]

		switch s.state {
		case StatePrefix:
			n := copy(p[total:], r.Prefix[s.emitted:])
			total += n
			s.emitted += int64(n)
			if s.emitted == int64(len(r.Prefix)) {
				s.transition(StateRange)
			}

		case StateRange:
			if s.emitted == r.Length {
				s.transition(StateSuffix)
				continue
			}
			if readIssued {
				return total, nil
			}

			want := int64(len(p) - total)
			if remaining := r.Length - s.emitted; want > remaining {
				want = remaining
			}
			n, err := s.handle.ReadAt(s.ctx, p[total:total+int(want)], r.Offset+s.emitted)
			readIssued = true
			total += n
			s.emitted += int64(n)

			switch {
			case err == io.EOF && n > 0:
			case err == io.EOF:
				return total, io.ErrUnexpectedEOF
			case err != nil:
				return total, err
			case n == 0:
				return total, io.ErrNoProgress
			}
			if s.emitted == r.Length {
				s.transition(StateSuffix)
			}

		case StateSuffix:
			n := copy(p[total:], r.Suffix[s.emitted:])
			total += n
			s.emitted += int64(n)
			if s.emitted == int64(len(r.Suffix)) {
				s.index++
				s.transition(StatePrefix)
			}
		}
	}
	return total, nil
}

func (s *RangeReadStream) transition(next State) {
	s.state = next
	s.emitted = 0
}

// Close closes the stream. It is safe to call more than once.
func (s *RangeReadStream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError closes the stream, recording err as the reason. If a Read
// is in flight the handle is released when it returns and CloseWithError
// returns nil immediately.
func (s *RangeReadStream) CloseWithError(err error) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.err = err
	if s.busy {
		s.pendingClose = true
		s.mu.Unlock()
		s.cancel()
		return nil
	}
	s.mu.Unlock()
	return s.finish()
}

// finish releases the handle and fires the close callback. Callers ensure
// it runs exactly once.
func (s *RangeReadStream) finish() error {
	s.stop()
	s.cancel()

	var closeErr error
	if s.handle != nil {
		closeErr = s.handle.Close()
		s.handle = nil
	}

	s.mu.Lock()
	if s.err == nil {
		s.err = closeErr
	}
	reported := s.err
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(reported)
	}
	close(s.done)
	return closeErr
}

func (s *RangeReadStream) closedErr() error {
	switch {
	case s.eof:
		return io.EOF
	case s.err != nil:
		return s.err
	default:
		return ErrStreamClosed
	}
}

// Done is closed once the handle has been released and the close
// callback has returned.
func (s *RangeReadStream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that terminated the stream, if any.
func (s *RangeReadStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
