// Package conditional evaluates conditional-request headers (If-Match,
// If-None-Match, If-Modified-Since, If-Unmodified-Since, If-Range) against
// a resource's current validators.
//
// Entity tags are always compared with the weak comparison function: a W/
// prefix on either side is ignored.
package conditional

import (
	"net/http"
	"strings"
	"time"
)

// Validators are the current validators of a resource, in header form.
// Empty values mean the validator is not available.
type Validators struct {
	ETag         string
	LastModified string
}

// IsConditional reports whether the request carries any precondition
// header other than If-Range.
func IsConditional(h http.Header) bool {
	return h.Get("If-Match") != "" ||
		h.Get("If-None-Match") != "" ||
		h.Get("If-Modified-Since") != "" ||
		h.Get("If-Unmodified-Since") != ""
}

// IsPreconditionFailure reports whether the request should be answered
// with 412 Precondition Failed.
func IsPreconditionFailure(h http.Header, v Validators) bool {
	if match := h.Get("If-Match"); match != "" {
		if strings.TrimSpace(match) == "*" {
			return false
		}
		return !anyMatch(match, v.ETag)
	}

	if since := h.Get("If-Unmodified-Since"); since != "" {
		unmodifiedSince, err := http.ParseTime(since)
		if err != nil {
			return false
		}
		lastModified, ok := parseTime(v.LastModified)
		if !ok {
			return true
		}
		return lastModified.After(unmodifiedSince)
	}

	return false
}

// IsFresh reports whether the client's cached representation is still
// current, meaning the request can be answered with 304 Not Modified.
//
// If-None-Match takes precedence over If-Modified-Since. A request
// carrying Cache-Control: no-cache is never fresh.
func IsFresh(h http.Header, v Validators) bool {
	noneMatch := h.Get("If-None-Match")
	modifiedSince := h.Get("If-Modified-Since")
	if noneMatch == "" && modifiedSince == "" {
		return false
	}

	if hasNoCache(h.Get("Cache-Control")) {
		return false
	}

	if noneMatch != "" {
		if strings.TrimSpace(noneMatch) == "*" {
			return v.ETag != ""
		}
		return anyMatch(noneMatch, v.ETag)
	}

	since, err := http.ParseTime(modifiedSince)
	if err != nil {
		return false
	}
	lastModified, ok := parseTime(v.LastModified)
	if !ok {
		return false
	}
	return !lastModified.After(since)
}

// IsRangeFresh reports whether a Range header may be honored given the
// request's If-Range header. Without If-Range the range is always fresh.
func IsRangeFresh(h http.Header, v Validators) bool {
	ifRange := strings.TrimSpace(h.Get("If-Range"))
	if ifRange == "" {
		return true
	}

	if isETag(ifRange) {
		return ETagMatch(ifRange, v.ETag)
	}

	date, err := http.ParseTime(ifRange)
	if err != nil {
		return false
	}
	lastModified, ok := parseTime(v.LastModified)
	if !ok {
		return false
	}
	return !lastModified.After(date)
}

// ETagMatch compares two entity tags using weak comparison.
func ETagMatch(a, b string) bool {
	a = opaqueTag(a)
	b = opaqueTag(b)
	return a != "" && a == b
}

func opaqueTag(tag string) string {
	tag = strings.TrimSpace(tag)
	return strings.TrimPrefix(tag, "W/")
}

func isETag(s string) bool {
	return strings.HasPrefix(s, `"`) || strings.HasPrefix(s, `W/"`)
}

// anyMatch reports whether any tag in a comma-separated list matches etag.
func anyMatch(list, etag string) bool {
	if etag == "" {
		return false
	}
	for _, tag := range strings.Split(list, ",") {
		if ETagMatch(tag, etag) {
			return true
		}
	}
	return false
}

func hasNoCache(cacheControl string) bool {
	for _, directive := range strings.Split(cacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(directive), "no-cache") {
			return true
		}
	}
	return false
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
