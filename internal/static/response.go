package static

import (
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/devstatic/devstatic/internal/buffer"
	"github.com/devstatic/devstatic/pkg/errors"
)

// Response accumulates status, headers and body. Nothing reaches the
// client until Commit.
type Response struct {
	Status int
	Header http.Header

	// Body is nil for responses without content.
	Body io.ReadCloser

	highWaterMark int
	committed     atomic.Bool
}

func newResponse(highWaterMark int) *Response {
	return &Response{
		Status:        http.StatusOK,
		Header:        make(http.Header),
		highWaterMark: highWaterMark,
	}
}

// empty turns the response into a bodiless status response.
func (resp *Response) empty(status int) *Response {
	resp.Status = status
	resp.Body = nil
	for _, h := range []string{"Content-Type", "Content-Range", "ETag", "Last-Modified"} {
		resp.Header.Del(h)
	}
	resp.Header.Set("Content-Length", "0")
	return resp
}

func (resp *Response) notModified() *Response {
	resp.Status = http.StatusNotModified
	resp.Body = nil
	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Content-Encoding", "Content-Language"} {
		resp.Header.Del(h)
	}
	return resp
}

type errorCloser interface {
	CloseWithError(err error) error
}

// Commit writes the response to w and streams the body in chunks of the
// configured high water mark. It returns the number of body bytes written.
// A Response can be committed once.
func (resp *Response) Commit(w http.ResponseWriter) (int64, error) {
	if !resp.committed.CompareAndSwap(false, true) {
		return 0, errors.NewError(errors.ErrCodeInternalError, "response already committed").
			WithComponent("static")
	}

	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(resp.Status)

	if resp.Body == nil {
		return 0, nil
	}

	buf := buffer.GetBuffer(resp.highWaterMark)
	defer buffer.PutBuffer(buf)

	var written int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				cause := errors.Wrap(werr, errors.ErrCodeOperationCanceled, "client write failed").
					WithComponent("static").
					WithDetail("written", written)
				closeBody(resp.Body, cause)
				return written, cause
			}
		}
		if rerr == io.EOF {
			return written, resp.Body.Close()
		}
		if rerr != nil {
			closeBody(resp.Body, rerr)
			return written, rerr
		}
	}
}

func closeBody(body io.ReadCloser, cause error) {
	if ec, ok := body.(errorCloser); ok {
		_ = ec.CloseWithError(cause)
		return
	}
	_ = body.Close()
}

// Handler serves handled requests and passes the rest to fallback. A nil
// fallback answers 404.
//
// When the body fails after headers were sent the connection is aborted so
// the client sees a truncated response rather than a clean one.
func (s *Service) Handler(fallback http.Handler) http.Handler {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, ok := s.Respond(r)
		if !ok {
			fallback.ServeHTTP(w, r)
			return
		}

		written, err := resp.Commit(w)
		if err == nil {
			return
		}
		if !errors.HasCode(err, errors.ErrCodeOperationCanceled) {
			s.logger.Error("response body failed", map[string]interface{}{
				"path":     r.URL.Path,
				"status":   resp.Status,
				"written":  written,
				"expected": contentLength(resp.Header),
				"error":    err,
			})
		}
		panic(http.ErrAbortHandler)
	})
}

func contentLength(h http.Header) int64 {
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
