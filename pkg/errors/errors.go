// Package errors provides a structured error system for ovnscale with error
// codes, categories, and context, grounded on objectfs's pkg/errors design.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code is a structured error code for ovnscale operations. The harness uses
// a fixed taxonomy (spec §7) rather than distinct Go error types.
type Code string

const (
	CodeInvalidConfig  Code = "INVALID_CONFIG"
	CodeTransportError Code = "TRANSPORT_ERROR"
	CodeTimeoutError   Code = "TIMEOUT_ERROR"
	CodeChassisTimeout Code = "CHASSIS_TIMEOUT"
	CodePingTimeout    Code = "PING_TIMEOUT"
	CodeSyncTimeout    Code = "SYNC_TIMEOUT"
	CodeUUIDUnknown    Code = "UUID_UNKNOWN"
	CodeConflict       Code = "CONFLICT"
	CodeCommitError    Code = "COMMIT_ERROR"
	CodeNonZeroExit    Code = "NON_ZERO_EXIT"
)

// Category groups codes for coarse-grained handling (retry policy, logging
// level), mirroring objectfs's ErrorCategory.
type Category string

const (
	CategoryConfig     Category = "configuration"
	CategoryTransport  Category = "transport"
	CategoryTimeout    Category = "timeout"
	CategoryDB         Category = "db"
	CategoryInternal   Category = "internal"
)

var categoryByCode = map[Code]Category{
	CodeInvalidConfig:  CategoryConfig,
	CodeTransportError: CategoryTransport,
	CodeNonZeroExit:    CategoryTransport,
	CodeTimeoutError:   CategoryTimeout,
	CodeChassisTimeout: CategoryTimeout,
	CodePingTimeout:    CategoryTimeout,
	CodeSyncTimeout:    CategoryTimeout,
	CodeUUIDUnknown:    CategoryDB,
	CodeConflict:       CategoryDB,
	CodeCommitError:    CategoryDB,
}

// retryableByDefault lists codes that pkg/retry.Retryer treats as
// transient unless the caller overrides RetryableErrors explicitly.
var retryableByDefault = map[Code]bool{
	CodeConflict:       true,
	CodeTransportError: true,
	CodeTimeoutError:   true,
}

// ScaleError is a structured error with context and a cause chain, grounded
// on objectfs's ObjectFSError.
type ScaleError struct {
	Code     Code                   `json:"code"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool   `json:"retryable"`
	Stack     string `json:"stack,omitempty"`
}

func (e *ScaleError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *ScaleError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so errors.Is(err, New(CodeConflict, "")) works.
func (e *ScaleError) Is(target error) bool {
	t, ok := target.(*ScaleError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a ScaleError with defaults derived from its code.
func New(code Code, message string) *ScaleError {
	return &ScaleError{
		Code:      code,
		Category:  categoryByCode[code],
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault[code],
	}
}

// WithCause attaches the underlying error and returns the receiver.
func (e *ScaleError) WithCause(cause error) *ScaleError {
	e.Cause = cause
	return e
}

// WithComponent sets which component raised the error (e.g. "dbclient").
func (e *ScaleError) WithComponent(component string) *ScaleError {
	e.Component = component
	return e
}

// WithOperation sets which operation was in progress (e.g. "lr_add").
func (e *ScaleError) WithOperation(operation string) *ScaleError {
	e.Operation = operation
	return e
}

// WithContext attaches a key/value pair of contextual information.
func (e *ScaleError) WithContext(key, value string) *ScaleError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail attaches a structured detail value.
func (e *ScaleError) WithDetail(key string, value interface{}) *ScaleError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStack captures the current call stack for diagnostics.
func (e *ScaleError) WithStack() *ScaleError {
	e.Stack = CaptureStack(2)
	return e
}

// CaptureStack returns a short textual stack trace, skipping `skip` frames
// plus this function's own frame.
func CaptureStack(skip int) string {
	const depth = 16
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

// JSON renders the error as a JSON object, useful for structured log lines.
func (e *ScaleError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// CodeOf extracts the Code from err if it is (or wraps) a *ScaleError.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if se, ok := err.(*ScaleError); ok {
			return se.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}
