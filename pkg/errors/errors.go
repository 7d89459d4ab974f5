// Package errors provides a structured error system for devstatic with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for devstatic operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Connection errors
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Storage backend errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeNotRegular     ErrorCode = "NOT_REGULAR_FILE"
	ErrCodeStorageOpen    ErrorCode = "STORAGE_OPEN"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageClose   ErrorCode = "STORAGE_CLOSE"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeUnavailable    ErrorCode = "BACKEND_UNAVAILABLE"

	// Request errors
	ErrCodePathInvalid        ErrorCode = "PATH_INVALID"
	ErrCodeRangeMalformed     ErrorCode = "RANGE_MALFORMED"
	ErrCodeRangeUnsatisfiable ErrorCode = "RANGE_UNSATISFIABLE"

	// Stream state errors
	ErrCodeStreamClosed   ErrorCode = "STREAM_CLOSED"
	ErrCodeConcurrentRead ErrorCode = "CONCURRENT_READ"

	// Operation errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryRequest       ErrorCategory = "request"
	CategoryStream        ErrorCategory = "stream"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// Error represents a structured error with context and metadata.
type Error struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *Error) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values for its code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Wrap creates a new error with the given code around cause.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeConnectionTimeout, ErrCodeNetworkError:
		return CategoryConnection
	case ErrCodeObjectNotFound, ErrCodeNotRegular, ErrCodeStorageOpen,
		ErrCodeStorageRead, ErrCodeStorageClose, ErrCodeAccessDenied, ErrCodeUnavailable:
		return CategoryStorage
	case ErrCodePathInvalid, ErrCodeRangeMalformed, ErrCodeRangeUnsatisfiable:
		return CategoryRequest
	case ErrCodeStreamClosed, ErrCodeConcurrentRead:
		return CategoryStream
	case ErrCodeOperationCanceled, ErrCodeRetryExhausted:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionTimeout, ErrCodeNetworkError, ErrCodeInternalError:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:      400,
		ErrCodePathInvalid:        400,
		ErrCodeRangeMalformed:     400,
		ErrCodeAccessDenied:       403,
		ErrCodeObjectNotFound:     404,
		ErrCodeNotRegular:         404,
		ErrCodeRangeUnsatisfiable: 416,
		ErrCodeInternalError:      500,
		ErrCodeNetworkError:       502,
		ErrCodeUnavailable:        503,
		ErrCodeConnectionTimeout:  504,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry hint.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStack captures the current stack trace
func (e *Error) WithStack() *Error {
	e.Stack = CaptureStack(2)
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknownError
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound)
}

// IsRetryable reports whether err carries a retry hint.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}
