// Package errors provides coded errors for sessiongen.
// Every error carries a stable code, a message, optional context and the
// call site that created it.
package errors

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input/output location errors (1xx)
	CodeFileNotFound   Code = "E101"
	CodeFilePermission Code = "E102"
	CodeInvalidFormat  Code = "E103"

	// Processing errors (2xx)
	CodeParseFailed      Code = "E201"
	CodeValidationFailed Code = "E203"

	// Output errors (3xx)
	CodeWriteFailed Code = "E301"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"

	// Integration errors (6xx)
	CodeLedgerFailed    Code = "E601"
	CodeUploadFailed    Code = "E602"
	CodeQueryFailed     Code = "E603"
	CodeTelemetryFailed Code = "E604"

	CodeUnknown Code = "E999"
)

// GenError is the base error type for all sessiongen errors.
type GenError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed in
// sorted order so messages are stable.
func (e *GenError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *GenError) Unwrap() error {
	return e.Cause
}

// Is matches another GenError with the same code.
func (e *GenError) Is(target error) bool {
	if t, ok := target.(*GenError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *GenError) WithContext(key string, value interface{}) *GenError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new GenError.
func New(code Code, message string) *GenError {
	return &GenError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error. It returns nil for a nil err.
func Wrap(err error, code Code, message string) *GenError {
	if err == nil {
		return nil
	}

	return &GenError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *GenError {
	if err == nil {
		return nil
	}
	e := Wrap(err, code, fmt.Sprintf(format, args...))
	e.StackTrace = captureStack(2)
	return e
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *GenError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// FromFS classifies a filesystem error into not-found, permission or
// write-failed, attaching the path.
func FromFS(err error, op, path string) *GenError {
	if err == nil {
		return nil
	}
	var code Code
	switch {
	case errors.Is(err, os.ErrNotExist):
		code = CodeFileNotFound
	case errors.Is(err, os.ErrPermission):
		code = CodeFilePermission
	default:
		code = CodeWriteFailed
	}
	e := Wrap(err, code, op+" failed")
	e.StackTrace = captureStack(2)
	return e.WithContext("path", path)
}

// Invalid creates a validation error for a named field.
func Invalid(field string, value interface{}, reason string) *GenError {
	return New(CodeValidationFailed, reason).
		WithContext("field", field).
		WithContext("value", value)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *GenError {
	e := New(CodeContextCanceled, "operation canceled")
	e.Cause = cause
	return e.WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var gErr *GenError
	if errors.As(err, &gErr) {
		return gErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var gErr *GenError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
