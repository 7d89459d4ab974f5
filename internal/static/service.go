// Package static resolves HTTP requests to stored build artifacts and
// builds the full, partial or conditional response for them.
package static

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/devstatic/devstatic/internal/conditional"
	"github.com/devstatic/devstatic/internal/ranges"
	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/internal/stream"
	"github.com/devstatic/devstatic/pkg/errors"
	"github.com/devstatic/devstatic/pkg/utils"
)

// Recorder receives stream outcomes. *metrics.Collector implements it.
type Recorder interface {
	RecordStreamError(backend string, err error)
}

// Service serves objects of one storage backend.
type Service struct {
	backend    storage.Backend
	opts       Options
	publicPath string
	resolver   *ranges.Resolver
	logger     *utils.StructuredLogger
	recorder   Recorder
}

// New creates a Service. A nil logger discards output.
func New(backend storage.Backend, opts Options, logger *utils.StructuredLogger) *Service {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = DefaultHighWaterMark
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	return &Service{
		backend:    backend,
		opts:       opts,
		publicPath: normalizePublicPath(opts.PublicPath),
		resolver:   &ranges.Resolver{},
		logger:     logger.WithComponent("static").WithField("backend", backend.Name()),
	}
}

// WithRecorder sets the stream outcome recorder.
func (s *Service) WithRecorder(rec Recorder) *Service {
	s.recorder = rec
	return s
}

// WithResolver replaces the range resolver.
func (s *Service) WithResolver(r *ranges.Resolver) *Service {
	s.resolver = r
	return s
}

// Respond builds the response for r. It returns false when the request is
// not for an existing object: wrong method, outside the public path, path
// traversal, ignored, missing, a directory, or a trailing slash.
func (s *Service) Respond(r *http.Request) (*Response, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.notHandled(r, "method")
		return nil, false
	}

	name, ok := s.resolveName(r)
	if !ok {
		return nil, false
	}

	meta, err := s.backend.Stat(r.Context(), name)
	if err != nil {
		if !errors.IsNotFound(err) {
			s.logger.Warn("stat failed", map[string]interface{}{
				"name":  name,
				"error": err,
			})
		}
		s.notHandled(r, "stat")
		return nil, false
	}
	if meta.IsDir {
		s.notHandled(r, "directory")
		return nil, false
	}

	resp := newResponse(s.opts.HighWaterMark)
	s.setHeaders(resp.Header, name, meta)

	validators := conditional.Validators{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if conditional.IsConditional(r.Header) {
		if conditional.IsPreconditionFailure(r.Header, validators) {
			s.decision(r, name, http.StatusPreconditionFailed)
			return resp.empty(http.StatusPreconditionFailed), true
		}
		if conditional.IsFresh(r.Header, validators) {
			s.decision(r, name, http.StatusNotModified)
			return resp.notModified(), true
		}
	}

	if r.Method == http.MethodHead {
		resp.Header.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		return resp, true
	}

	res, err := s.resolver.Resolve(ranges.Request{
		Header:      r.Header.Get("Range"),
		Size:        meta.Size,
		ContentType: resp.Header.Get("Content-Type"),
		Enabled:     s.opts.AcceptRanges,
		RangeFresh:  conditional.IsRangeFresh(r.Header, validators),
	})
	switch {
	case errors.HasCode(err, errors.ErrCodeRangeMalformed):
		s.decision(r, name, http.StatusBadRequest)
		return resp.empty(http.StatusBadRequest), true
	case errors.HasCode(err, errors.ErrCodeRangeUnsatisfiable):
		s.decision(r, name, http.StatusRequestedRangeNotSatisfiable)
		resp = resp.empty(http.StatusRequestedRangeNotSatisfiable)
		resp.Header.Set("Content-Range", ranges.UnsatisfiedContentRange(meta.Size))
		return resp, true
	case err != nil:
		s.logger.Error("range resolution failed", map[string]interface{}{
			"name":  name,
			"error": err,
		})
		return resp.empty(http.StatusInternalServerError), true
	}

	resp.Status = res.Status
	resp.Header.Set("Content-Type", res.ContentType)
	resp.Header.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	if res.ContentRange != "" {
		resp.Header.Set("Content-Range", res.ContentRange)
	}
	if len(res.Ranges) > 0 {
		resp.Body = s.newStream(r.Context(), name, res.Ranges)
	}
	return resp, true
}

func (s *Service) resolveName(r *http.Request) (string, bool) {
	urlPath := r.URL.Path
	if !strings.HasPrefix(urlPath, s.publicPath) {
		s.notHandled(r, "public path")
		return "", false
	}
	rel := strings.TrimPrefix(urlPath, s.publicPath)

	if utils.HasTraversal(rel) || strings.ContainsRune(rel, 0) {
		s.notHandled(r, "traversal")
		return "", false
	}

	trailing := rel == "" || strings.HasSuffix(rel, "/")
	if trailing {
		if s.opts.Index == "" {
			s.notHandled(r, "trailing slash")
			return "", false
		}
		rel += s.opts.Index
	}

	name, err := utils.SecureJoinSlash(s.opts.Root, rel)
	if err != nil {
		s.notHandled(r, "traversal")
		return "", false
	}

	if s.opts.Ignore != nil && s.opts.Ignore(name) {
		s.notHandled(r, "ignored")
		return "", false
	}
	return name, true
}

func (s *Service) setHeaders(h http.Header, name string, meta *storage.Metadata) {
	h.Set("Content-Type", contentType(name, meta))
	if s.opts.ETag {
		h.Set("ETag", ETag(meta))
	}
	if s.opts.AcceptRanges {
		h.Set("Accept-Ranges", "bytes")
	} else {
		h.Set("Accept-Ranges", "none")
	}
	if s.opts.LastModified && !meta.ModTime.IsZero() {
		h.Set("Last-Modified", meta.ModTime.UTC().Format(http.TimeFormat))
	}
	if s.opts.CacheControl != "" {
		h.Set("Cache-Control", s.opts.CacheControl)
	}
	if s.opts.Headers != nil {
		for k, vs := range s.opts.Headers.headersFor(name, meta) {
			h.Del(k)
			for _, v := range vs {
				h.Add(k, v)
			}
		}
	}
}

func contentType(name string, meta *storage.Metadata) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	if meta.ContentType != "" {
		return meta.ContentType
	}
	return "application/octet-stream"
}

func (s *Service) newStream(ctx context.Context, name string, rs []stream.Range) *stream.RangeReadStream {
	open := func(ctx context.Context) (storage.Handle, error) {
		return s.backend.Open(ctx, name)
	}
	return stream.New(ctx, open, rs, stream.OnClose(func(err error) {
		if err == nil || errors.HasCode(err, errors.ErrCodeOperationCanceled) {
			return
		}
		s.logger.Error("stream terminated", map[string]interface{}{
			"name":  name,
			"error": err,
		})
		if s.recorder != nil {
			s.recorder.RecordStreamError(s.backend.Name(), err)
		}
	}))
}

func (s *Service) notHandled(r *http.Request, reason string) {
	s.logger.Debug("not handled", map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"reason": reason,
	})
}

func (s *Service) decision(r *http.Request, name string, status int) {
	s.logger.Debug("short-circuit response", map[string]interface{}{
		"method": r.Method,
		"name":   name,
		"status": status,
	})
}

// HealthCheck reports the health of the underlying backend.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// BackendName names the underlying backend.
func (s *Service) BackendName() string {
	return s.backend.Name()
}
