// Package ranges parses HTTP Range headers and frames the resulting byte
// ranges, as a single part or as multipart/byteranges.
package ranges

import (
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/devstatic/devstatic/internal/stream"
	"github.com/devstatic/devstatic/pkg/errors"
)

var (
	// ErrMalformed means the Range header is not valid byte-range-set
	// syntax. Respond with 400.
	ErrMalformed = errors.NewError(errors.ErrCodeRangeMalformed, "malformed range header")

	// ErrUnsatisfiable means no requested range overlaps the resource.
	// Respond with 416 and Content-Range: bytes */size.
	ErrUnsatisfiable = errors.NewError(errors.ErrCodeRangeUnsatisfiable, "range not satisfiable")
)

var specPattern = regexp.MustCompile(`^(\d*)-(\d*)$`)

// Spec is an inclusive byte span [Start, End] already clamped to the
// resource.
type Spec struct {
	Start int64
	End   int64
}

// Length is the number of bytes in the span.
func (s Spec) Length() int64 {
	return s.End - s.Start + 1
}

// Parse parses a Range header against a resource of size bytes.
//
// A header whose unit is not "bytes" is ignored: Parse returns nil, nil.
// Specs that start at or beyond size are dropped; when nothing remains
// Parse returns ErrUnsatisfiable.
func Parse(header string, size int64) ([]Spec, error) {
	eq := strings.IndexByte(header, '=')
	if eq < 0 {
		return nil, ErrMalformed
	}
	unit := strings.TrimSpace(header[:eq])
	if !strings.EqualFold(unit, "bytes") {
		return nil, nil
	}

	var specs []Spec
	seen := 0
	for _, raw := range strings.Split(header[eq+1:], ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		seen++

		m := specPattern.FindStringSubmatch(raw)
		if m == nil || (m[1] == "" && m[2] == "") {
			return nil, ErrMalformed
		}

		var spec Spec
		switch {
		case m[1] == "":
			suffix := parseInt(m[2])
			if suffix == 0 {
				continue
			}
			spec = Spec{Start: size - suffix, End: size - 1}
			if spec.Start < 0 {
				spec.Start = 0
			}
		case m[2] == "":
			spec = Spec{Start: parseInt(m[1]), End: size - 1}
		default:
			spec = Spec{Start: parseInt(m[1]), End: parseInt(m[2])}
			if spec.Start > spec.End {
				return nil, ErrMalformed
			}
			if spec.End > size-1 {
				spec.End = size - 1
			}
		}

		if spec.Start >= size {
			continue
		}
		specs = append(specs, spec)
	}

	if seen == 0 {
		return nil, ErrMalformed
	}
	if len(specs) == 0 {
		return nil, ErrUnsatisfiable
	}
	return specs, nil
}

// parseInt parses a run of digits, saturating on overflow.
func parseInt(digits string) int64 {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return n
}

// Combine merges overlapping and adjacent specs. The result keeps the
// order in which each merged span was first requested.
func Combine(specs []Spec) []Spec {
	if len(specs) < 2 {
		return specs
	}

	type indexed struct {
		Spec
		index int
	}
	sorted := make([]indexed, len(specs))
	for i, s := range specs {
		sorted[i] = indexed{Spec: s, index: i}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := []indexed{sorted[0]}
	for _, cur := range sorted[1:] {
		last := &merged[len(merged)-1]
		if cur.Start > last.End+1 {
			merged = append(merged, cur)
			continue
		}
		if cur.End > last.End {
			last.End = cur.End
		}
		if cur.index < last.index {
			last.index = cur.index
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].index < merged[j].index
	})

	out := make([]Spec, len(merged))
	for i, m := range merged {
		out[i] = m.Spec
	}
	return out
}

// Request is the input to Resolve.
type Request struct {
	// Header is the raw Range header value.
	Header string

	Size        int64
	ContentType string

	// Enabled is false when range support is turned off.
	Enabled bool

	// RangeFresh is the If-Range verdict; a stale If-Range means the full
	// resource is sent.
	RangeFresh bool
}

// Result describes the response body to stream.
type Result struct {
	Status        int
	Ranges        []stream.Range
	ContentLength int64
	ContentType   string

	// ContentRange is set for single-range responses only.
	ContentRange string
}

// Resolver resolves Range requests. The zero value is ready to use.
type Resolver struct {
	// Boundary generates multipart boundaries; NewBoundary when nil.
	Boundary func() (string, error)
}

var defaultResolver = &Resolver{}

// Resolve resolves req with the default Resolver.
func Resolve(req Request) (*Result, error) {
	return defaultResolver.Resolve(req)
}

// Resolve returns the body plan for req, or ErrMalformed or
// ErrUnsatisfiable.
func (r *Resolver) Resolve(req Request) (*Result, error) {
	if !req.Enabled || req.Header == "" || !req.RangeFresh {
		return full(req), nil
	}

	specs, err := Parse(req.Header, req.Size)
	if err != nil {
		return nil, err
	}
	if specs == nil {
		return full(req), nil
	}
	specs = Combine(specs)

	if len(specs) == 1 {
		s := specs[0]
		return &Result{
			Status:        http.StatusPartialContent,
			Ranges:        []stream.Range{{Offset: s.Start, Length: s.Length()}},
			ContentLength: s.Length(),
			ContentType:   req.ContentType,
			ContentRange:  ContentRange(s, req.Size),
		}, nil
	}

	newBoundary := r.Boundary
	if newBoundary == nil {
		newBoundary = NewBoundary
	}
	boundary, err := newBoundary()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "cannot generate multipart boundary").
			WithComponent("ranges")
	}

	out := make([]stream.Range, len(specs))
	for i, s := range specs {
		var prefix strings.Builder
		if i > 0 {
			prefix.WriteString("\r\n")
		}
		fmt.Fprintf(&prefix, "--%s\r\n", boundary)
		if req.ContentType != "" {
			fmt.Fprintf(&prefix, "Content-Type: %s\r\n", req.ContentType)
		}
		fmt.Fprintf(&prefix, "Content-Range: %s\r\n\r\n", ContentRange(s, req.Size))

		out[i] = stream.Range{
			Offset: s.Start,
			Length: s.Length(),
			Prefix: []byte(prefix.String()),
		}
	}
	out[len(out)-1].Suffix = []byte("\r\n--" + boundary + "--\r\n")

	return &Result{
		Status:        http.StatusPartialContent,
		Ranges:        out,
		ContentLength: stream.TotalSize(out),
		ContentType:   "multipart/byteranges; boundary=" + boundary,
	}, nil
}

func full(req Request) *Result {
	res := &Result{
		Status:        http.StatusOK,
		ContentLength: req.Size,
		ContentType:   req.ContentType,
	}
	if req.Size > 0 {
		res.Ranges = []stream.Range{{Offset: 0, Length: req.Size}}
	}
	return res
}

// ContentRange formats the Content-Range value of a satisfied span.
func ContentRange(s Spec, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, size)
}

// UnsatisfiedContentRange formats the Content-Range value of a 416.
func UnsatisfiedContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
