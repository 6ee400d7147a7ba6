// Package errors provides structured error handling for sheetpipe
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeSheetNotFound is returned when the sheet selector resolves to no sheet
	ErrorTypeSheetNotFound ErrorType = "sheet_not_found"
	// ErrorTypeUnsupportedFormat is returned for containers that are not xlsx or xlsb
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	// ErrorTypeMalformedSource represents corrupt containers or records
	ErrorTypeMalformedSource ErrorType = "malformed_source"
	// ErrorTypeCoercion represents values that cannot be represented in their resolved type
	ErrorTypeCoercion ErrorType = "coercion"
	// ErrorTypeIO represents read/write failures
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInternal represents internal invariant violations
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeCanceled is used when a run stops because its context was canceled
	ErrorTypeCanceled ErrorType = "canceled"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if path, ok := e.Details["path"]; ok {
		msg = fmt.Sprintf("%s (%v)", msg, path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IOError wraps a filesystem failure and records the offending path.
func IOError(err error, path, message string) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, ErrorTypeIO, message)
	return e.WithDetail("path", path)
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the outermost structured error type, or ErrorTypeInternal
// for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
