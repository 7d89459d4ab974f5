package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cespare/xxhash/v2"

	"github.com/devstatic/devstatic/internal/circuit"
	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/pkg/errors"
	"github.com/devstatic/devstatic/pkg/retry"
	"github.com/devstatic/devstatic/pkg/utils"
)

// Backend serves objects stored under a bucket prefix.
type Backend struct {
	api     ObjectAPI
	bucket  string
	prefix  string
	config  *Config
	retryer *retry.Retryer
	breaker *circuit.Breaker
	logger  *utils.StructuredLogger
	metrics *MetricsCollector
}

// NewBackend creates an S3 client from cfg and verifies the bucket is
// reachable.
func NewBackend(ctx context.Context, cfg *Config, logger *utils.StructuredLogger) (*Backend, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "cannot create S3 client").
			WithComponent("s3")
	}

	backend, err := NewBackendWithClient(client, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := backend.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("S3 backend health check failed: %w", err)
	}

	return backend, nil
}

// NewBackendWithClient creates a backend over an existing client.
func NewBackendWithClient(api ObjectAPI, cfg *Config, logger *utils.StructuredLogger) (*Backend, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	b := &Backend{
		api:     api,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		config:  cfg,
		logger:  logger.WithComponent("s3").WithField("bucket", cfg.Bucket),
		metrics: NewMetricsCollector(),
	}

	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		b.logger.Warn("circuit breaker state changed", map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		})
	}
	b.breaker = circuit.New("s3:"+cfg.Bucket, breakerCfg)

	b.retryer = retry.New(cfg.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		b.metrics.RecordRetry()
		b.logger.Debug("retrying S3 read", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err,
		})
	})
	return b, nil
}

func (b *Backend) Name() string { return "s3" }

// BreakerState reports the state of the backend's circuit breaker.
func (b *Backend) BreakerState() circuit.State {
	return b.breaker.State()
}

// GetMetrics returns request metrics for this backend.
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

func (b *Backend) key(name string) (string, error) {
	if utils.HasTraversal(name) {
		return "", errors.NewError(errors.ErrCodePathInvalid, "path escapes prefix").
			WithComponent("s3").WithContext("name", name)
	}
	trimmed := strings.TrimPrefix(path.Clean("/"+name), "/")
	return b.prefix + trimmed, nil
}

func (b *Backend) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, b.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *Backend) Stat(ctx context.Context, name string) (*storage.Metadata, error) {
	key, err := b.key(name)
	if err != nil {
		return nil, err
	}
	if key == b.prefix || strings.HasSuffix(name, "/") {
		return &storage.Metadata{Name: name, IsDir: true}, nil
	}

	head, err := b.head(ctx, key)
	if err == nil {
		return &storage.Metadata{
			Name:        name,
			Size:        aws.ToInt64(head.ContentLength),
			ModTime:     aws.ToTime(head.LastModified),
			Inode:       xxhash.Sum64String(key),
			Version:     aws.ToString(head.ETag),
			ContentType: aws.ToString(head.ContentType),
		}, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	isDir, lerr := b.hasChildren(ctx, key+"/")
	if lerr != nil {
		return nil, lerr
	}
	if isDir {
		return &storage.Metadata{Name: name, IsDir: true}, nil
	}
	return nil, err
}

func (b *Backend) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	cctx, cancel := b.callContext(ctx)
	defer cancel()

	start := time.Now()
	var out *s3.HeadObjectOutput
	err := b.breaker.Execute(cctx, func(ctx context.Context) error {
		var err error
		out, err = b.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		return b.translateError(err, "HeadObject", key)
	})
	b.metrics.RecordRequest(time.Since(start), ignoreNotFound(err))
	return out, err
}

func (b *Backend) hasChildren(ctx context.Context, prefix string) (bool, error) {
	cctx, cancel := b.callContext(ctx)
	defer cancel()

	start := time.Now()
	var out *s3.ListObjectsV2Output
	err := b.breaker.Execute(cctx, func(ctx context.Context) error {
		var err error
		out, err = b.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(1),
		})
		return b.translateError(err, "ListObjectsV2", prefix)
	})
	b.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

// Open verifies the object exists and pins its ETag, so every ranged read
// of the handle sees the same object version.
func (b *Backend) Open(ctx context.Context, name string) (storage.Handle, error) {
	key, err := b.key(name)
	if err != nil {
		return nil, err
	}

	head, err := b.head(ctx, key)
	if err != nil {
		return nil, err
	}

	return &handle{
		b:    b,
		key:  key,
		size: aws.ToInt64(head.ContentLength),
		etag: aws.ToString(head.ETag),
	}, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	cctx, cancel := b.callContext(ctx)
	defer cancel()

	start := time.Now()
	err := b.breaker.Execute(cctx, func(ctx context.Context) error {
		_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(b.bucket),
		})
		return b.translateError(err, "HeadBucket", "")
	})
	b.metrics.RecordRequest(time.Since(start), err)
	return err
}

type handle struct {
	b    *Backend
	key  string
	size int64
	etag string
}

func (h *handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= h.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if rem := h.size - off; want > rem {
		want = rem
	}
	if want == 0 {
		return 0, nil
	}

	var n int
	err := h.b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var rerr error
		n, rerr = h.readRange(ctx, p[:want], off)
		return rerr
	})
	return n, err
}

func (h *handle) readRange(ctx context.Context, p []byte, off int64) (int, error) {
	cctx, cancel := h.b.callContext(ctx)
	defer cancel()

	start := time.Now()
	var n int
	err := h.b.breaker.Execute(cctx, func(ctx context.Context) error {
		var err error
		n, err = h.fetch(ctx, p, off)
		return err
	})
	h.b.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (h *handle) fetch(ctx context.Context, p []byte, off int64) (int, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(h.b.bucket),
		Key:    aws.String(h.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	}
	if h.etag != "" {
		input.IfMatch = aws.String(h.etag)
	}

	out, err := h.b.api.GetObject(ctx, input)
	if err != nil {
		return 0, h.b.translateError(err, "GetObject", h.key)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	h.b.metrics.RecordBytesDownloaded(int64(n))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeNetworkError, "short ranged read").
			WithComponent("s3").
			WithOperation("GetObject").
			WithContext("key", h.key).
			WithDetail("offset", off).
			WithDetail("read", n)
	}
	return n, nil
}

// Close is a no-op: the handle holds no connection between reads.
func (h *handle) Close() error { return nil }

type httpStatusError interface {
	HTTPStatusCode() int
}

// translateError maps SDK errors onto pkg/errors codes.
func (b *Backend) translateError(err error, operation, key string) error {
	if err == nil {
		return nil
	}

	wrap := func(code errors.ErrorCode, msg string) *errors.Error {
		e := errors.Wrap(err, code, msg).
			WithComponent("s3").
			WithOperation(operation)
		if key != "" {
			e = e.WithContext("key", key)
		}
		return e
	}

	if stderrors.Is(err, context.Canceled) {
		return wrap(errors.ErrCodeOperationCanceled, "request canceled")
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return wrap(errors.ErrCodeConnectionTimeout, "request timed out")
	}

	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return wrap(errors.ErrCodeObjectNotFound, "object not found")
	case isErrorType[*s3types.NoSuchBucket](err):
		return wrap(errors.ErrCodeStorageOpen, "bucket not found").WithRetryable(false)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return wrap(errors.ErrCodeObjectNotFound, "object not found")
		case "AccessDenied", "Forbidden":
			return wrap(errors.ErrCodeAccessDenied, "access denied")
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
			"InternalError", "ServiceUnavailable":
			return wrap(errors.ErrCodeStorageRead, apiErr.ErrorCode()).WithRetryable(true)
		}
	}

	var statusErr httpStatusError
	if stderrors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return wrap(errors.ErrCodeObjectNotFound, "object not found")
		case code == http.StatusForbidden:
			return wrap(errors.ErrCodeAccessDenied, "access denied")
		case code == http.StatusTooManyRequests || code >= 500:
			return wrap(errors.ErrCodeStorageRead, operation+" failed").WithRetryable(true)
		}
	}

	return wrap(errors.ErrCodeStorageRead, operation+" failed")
}

func ignoreNotFound(err error) error {
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
