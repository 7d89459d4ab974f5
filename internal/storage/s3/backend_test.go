package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstatic/devstatic/internal/circuit"
	"github.com/devstatic/devstatic/pkg/errors"
	"github.com/devstatic/devstatic/pkg/retry"
)

type fakeObject struct {
	data    []byte
	etag    string
	modTime time.Time
}

type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	getErrs   []error
	shortBody bool
	gets      []*s3.GetObjectInput
	bucketErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) put(key, data, etag string) {
	f.objects[key] = fakeObject{
		data:    []byte(data),
		etag:    etag,
		modTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modTime),
		ETag:          aws.String(obj.etag),
		ContentType:   aws.String("application/javascript"),
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)

	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return nil, err
	}

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	if in.IfMatch != nil && aws.ToString(in.IfMatch) != obj.etag {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
	}

	var start, end int64
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	body := obj.data[start : end+1]
	if f.shortBody {
		f.shortBody = false
		body = body[:len(body)/2]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.bucketErr
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
			break
		}
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func testConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Bucket = "artifacts"
	cfg.Prefix = "/builds/main/"
	cfg.Retry = retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
	return cfg
}

func newTestBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()
	api := newFakeS3()
	api.put("builds/main/app.js", "0123456789", `"abc"`)
	api.put("builds/main/assets/logo.svg", "<svg/>", `"def"`)
	b, err := NewBackendWithClient(api, testConfig(), nil)
	require.NoError(t, err)
	return b, api
}

func TestNewBackend_EmptyBucket(t *testing.T) {
	backend, err := NewBackend(context.Background(), &Config{Region: "us-east-1"}, nil)
	assert.Nil(t, backend)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
	assert.Contains(t, err.Error(), "bucket name cannot be empty")

	_, err = NewBackendWithClient(newFakeS3(), nil, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestBackend_Stat(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	assert.Equal(t, "s3", b.Name())

	meta, err := b.Stat(ctx, "/app.js")
	require.NoError(t, err)
	assert.Equal(t, int64(10), meta.Size)
	assert.Equal(t, `"abc"`, meta.Version)
	assert.Equal(t, "application/javascript", meta.ContentType)
	assert.False(t, meta.IsDir)
	assert.NotZero(t, meta.Inode)

	dir, err := b.Stat(ctx, "assets")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)

	root, err := b.Stat(ctx, "")
	require.NoError(t, err)
	assert.True(t, root.IsDir)

	_, err = b.Stat(ctx, "missing.js")
	assert.True(t, errors.IsNotFound(err))

	_, err = b.Stat(ctx, "../secrets")
	assert.True(t, errors.HasCode(err, errors.ErrCodePathInvalid))
}

func TestBackend_ReadAt(t *testing.T) {
	ctx := context.Background()
	b, api := newTestBackend(t)

	h, err := b.Open(ctx, "app.js")
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 4)
	n, err := h.ReadAt(ctx, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))

	n, err = h.ReadAt(ctx, buf, 8)
	require.NoError(t, err)
	assert.Equal(t, "89", string(buf[:n]))

	n, err = h.ReadAt(ctx, buf, 10)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	require.Len(t, api.gets, 2)
	assert.Equal(t, "bytes=3-6", aws.ToString(api.gets[0].Range))
	assert.Equal(t, "bytes=8-9", aws.ToString(api.gets[1].Range))
	assert.Equal(t, `"abc"`, aws.ToString(api.gets[0].IfMatch))
	assert.Equal(t, int64(6), b.GetMetrics().BytesDownloaded)
}

func TestBackend_ReadAtRetriesThrottling(t *testing.T) {
	ctx := context.Background()
	b, api := newTestBackend(t)

	h, err := b.Open(ctx, "app.js")
	require.NoError(t, err)

	api.getErrs = []error{&smithy.GenericAPIError{Code: "SlowDown"}}
	api.shortBody = false

	buf := make([]byte, 10)
	n, err := h.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, int64(1), b.GetMetrics().Retries)
}

func TestBackend_ReadAtRetriesShortBody(t *testing.T) {
	ctx := context.Background()
	b, api := newTestBackend(t)

	h, err := b.Open(ctx, "app.js")
	require.NoError(t, err)

	api.shortBody = true
	buf := make([]byte, 10)
	n, err := h.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(buf[:n]))
	assert.Len(t, api.gets, 2)
}

func TestBackend_ReadAtAccessDeniedNotRetried(t *testing.T) {
	ctx := context.Background()
	b, api := newTestBackend(t)

	h, err := b.Open(ctx, "app.js")
	require.NoError(t, err)

	api.getErrs = []error{&smithy.GenericAPIError{Code: "AccessDenied"}}
	_, err = h.ReadAt(ctx, make([]byte, 4), 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAccessDenied))
	assert.Len(t, api.gets, 1)
}

func TestBackend_CircuitBreakerTrips(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.put("builds/main/app.js", "0123456789", `"abc"`)

	cfg := testConfig()
	cfg.Breaker.ConsecutiveFailures = 2
	cfg.Breaker.Timeout = time.Hour
	b, err := NewBackendWithClient(api, cfg, nil)
	require.NoError(t, err)

	h, err := b.Open(ctx, "app.js")
	require.NoError(t, err)

	slow := &smithy.GenericAPIError{Code: "SlowDown"}
	api.getErrs = []error{slow, slow, slow}

	_, err = h.ReadAt(ctx, make([]byte, 4), 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnavailable))
	assert.Len(t, api.gets, 2)
	assert.Equal(t, circuit.StateOpen, b.BreakerState())

	// Calls are rejected without reaching S3.
	err = b.HealthCheck(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnavailable))
	assert.Len(t, api.gets, 2)
}

func TestBackend_NotFoundDoesNotTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.ConsecutiveFailures = 1
	b, err := NewBackendWithClient(newFakeS3(), cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := b.Open(context.Background(), "nope.css")
		assert.True(t, errors.IsNotFound(err))
	}
	assert.Equal(t, circuit.StateClosed, b.BreakerState())
}

func TestBackend_OpenMissing(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.Open(context.Background(), "nope.css")
	assert.True(t, errors.IsNotFound(err))
}

func TestBackend_HealthCheck(t *testing.T) {
	b, api := newTestBackend(t)
	assert.NoError(t, b.HealthCheck(context.Background()))

	api.bucketErr = &s3types.NoSuchBucket{}
	err := b.HealthCheck(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageOpen))
}

func TestTranslateError(t *testing.T) {
	b, _ := newTestBackend(t)

	tests := []struct {
		name      string
		err       error
		code      errors.ErrorCode
		retryable bool
	}{
		{"no such key", &s3types.NoSuchKey{}, errors.ErrCodeObjectNotFound, false},
		{"api not found", &smithy.GenericAPIError{Code: "NotFound"}, errors.ErrCodeObjectNotFound, false},
		{"forbidden", &smithy.GenericAPIError{Code: "Forbidden"}, errors.ErrCodeAccessDenied, false},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, errors.ErrCodeStorageRead, true},
		{"canceled", context.Canceled, errors.ErrCodeOperationCanceled, false},
		{"deadline", context.DeadlineExceeded, errors.ErrCodeConnectionTimeout, true},
		{"other", fmt.Errorf("boom"), errors.ErrCodeStorageRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.translateError(tt.err, "GetObject", "k")
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}

	assert.NoError(t, b.translateError(nil, "GetObject", "k"))
}
