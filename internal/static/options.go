package static

import (
	"net/http"
	"path"
	"strings"

	"github.com/devstatic/devstatic/internal/storage"
)

// DefaultHighWaterMark is the preferred chunk size for body copies.
const DefaultHighWaterMark = 64 * 1024

// Options configures a Service.
type Options struct {
	// Root is the object-name prefix requests resolve under.
	Root string

	// PublicPath is the URL prefix the artifacts are mounted at.
	PublicPath string

	// Index is served for directory requests ending in "/". Empty
	// disables it.
	Index string

	ETag         bool
	AcceptRanges bool
	LastModified bool

	// CacheControl is sent verbatim when non-empty.
	CacheControl string

	// Headers adds extra response headers.
	Headers HeaderSource

	// Ignore hides matching object names, as if they did not exist.
	Ignore func(name string) bool

	// HighWaterMark is the preferred chunk size in bytes.
	HighWaterMark int
}

// DefaultOptions enables every validator and range support.
func DefaultOptions() Options {
	return Options{
		Root:          "/",
		PublicPath:    "/",
		ETag:          true,
		AcceptRanges:  true,
		LastModified:  true,
		HighWaterMark: DefaultHighWaterMark,
	}
}

// HeaderSource supplies extra response headers. It is implemented only by
// StaticHeaders and ComputedHeaders.
type HeaderSource interface {
	headersFor(name string, meta *storage.Metadata) http.Header
}

// StaticHeaders are added to every handled response.
type StaticHeaders map[string]string

func (h StaticHeaders) headersFor(string, *storage.Metadata) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, v)
	}
	return out
}

// ComputedHeaders derives headers from the resolved object.
type ComputedHeaders func(name string, meta *storage.Metadata) http.Header

func (f ComputedHeaders) headersFor(name string, meta *storage.Metadata) http.Header {
	if f == nil {
		return nil
	}
	return f(name, meta)
}

// IgnorePatterns returns an Ignore func matching names against glob
// patterns. A pattern without "/" is matched against the base name only.
// Malformed patterns never match.
func IgnorePatterns(patterns []string) func(name string) bool {
	if len(patterns) == 0 {
		return nil
	}
	return func(name string) bool {
		name = strings.TrimPrefix(name, "/")
		base := path.Base(name)
		for _, p := range patterns {
			target := base
			if strings.Contains(p, "/") {
				target = name
				p = strings.TrimPrefix(p, "/")
			}
			if ok, err := path.Match(p, target); err == nil && ok {
				return true
			}
		}
		return false
	}
}

func normalizePublicPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
