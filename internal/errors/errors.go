package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig      = "CONFIG"
	ErrSSH         = "SSH"
	ErrConnect     = "CONNECT"
	ErrExec        = "EXEC"
	ErrTimeout     = "TIMEOUT"
	ErrUnreachable = "UNREACHABLE"
	ErrSink        = "SINK"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Short returns the message and cause on a single line, for places where the
// multi-line rendering would break the layout (CSV cells, status lines).
func (e *Error) Short() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + OneLine(e.Cause)
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost structured Error in the chain, or "".
func CodeOf(err error) string {
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr.Code
	}
	return ""
}

// OneLine flattens err into a single line.
func OneLine(err error) string {
	if err == nil {
		return ""
	}
	var devErr *Error
	if errors.As(err, &devErr) && devErr == err {
		return devErr.Short()
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}
