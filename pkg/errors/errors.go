// Package errors provides the unified error type and factory functions for the
// case lifecycle and compliance engine.  Every layer (domain, application,
// infrastructure, interfaces) returns *AppError so that callers receive a typed
// failure category instead of an opaque message.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call-stack string starting two frames above
// the caller (skipping captureStack itself and the factory).
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// AppError
// ─────────────────────────────────────────────────────────────────────────────

// AppError is the single structured error type used throughout the engine.
// It supports errors.Is / errors.As / errors.Unwrap through Unwrap.
//
// Usage:
//
//	return errors.New(errors.ErrCodeInvalidTransition, "investigation -> closed").
//	           WithDetail("case_id=" + id)
//	return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load case")
type AppError struct {
	// Code is the typed error code that identifies the failure category.
	Code ErrorCode

	// Message is the primary human-readable description of the error.
	Message string

	// Detail carries supplementary context (case ids, stage names).
	Detail string

	// Cause is the underlying error, if any.
	Cause error

	// Stack is captured at construction and never included in Error().
	Stack string
}

// Error implements the standard error interface.
// Format: "[<code>] <message>: <detail>"; the detail segment is omitted when empty.
func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by code so that sentinel values declared with
// New can be compared with errors.Is after being re-wrapped.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// WithDetail returns a shallow copy of the receiver with Detail set.
// It is safe to call on a nil pointer (returns nil).
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithCause returns a shallow copy of the receiver with Cause set to err.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// ─────────────────────────────────────────────────────────────────────────────
// Primary factory functions
// ─────────────────────────────────────────────────────────────────────────────

// New constructs a fresh AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Newf is New with fmt.Sprintf formatting of the message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError that wraps an existing error.  If err is nil,
// Wrap returns nil.  When code is CodeUnknown and err already carries an
// AppError, the original code is preserved.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error-chain inspection helpers
// ─────────────────────────────────────────────────────────────────────────────

// IsCode reports whether any error in err's chain is an *AppError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err's chain carries any of the not-found codes.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound) ||
		IsCode(err, ErrCodeCaseNotFound) ||
		IsCode(err, ErrCodeExtensionNotFound)
}

// IsConcurrencyConflict reports whether the caller should re-read the case and
// retry its mutation.
func IsConcurrencyConflict(err error) bool {
	return IsCode(err, ErrCodeConcurrencyConflict)
}

// IsRetryable reports whether a caller may retry the operation that produced
// err.  Only optimistic-concurrency conflicts and unavailable collaborators
// qualify; validation and state errors never change on retry.
func IsRetryable(err error) bool {
	return IsCode(err, ErrCodeConcurrencyConflict) || IsCode(err, ErrCodeExternalUnavailable)
}

// GetCode extracts the ErrorCode from the first *AppError found in err's chain.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// ─────────────────────────────────────────────────────────────────────────────
// Convenience factories for the engine taxonomy
// ─────────────────────────────────────────────────────────────────────────────

// Validation constructs an ErrCodeValidation AppError (malformed input).
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Stack: captureStack(1)}
}

// InvalidTransition constructs an ErrCodeInvalidTransition AppError.
func InvalidTransition(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: message, Stack: captureStack(1)}
}

// TerminalState constructs an ErrCodeTerminalStateViolation AppError.
func TerminalState(message string) *AppError {
	return &AppError{Code: ErrCodeTerminalStateViolation, Message: message, Stack: captureStack(1)}
}

// ConcurrencyConflict constructs an ErrCodeConcurrencyConflict AppError.
func ConcurrencyConflict(message string) *AppError {
	return &AppError{Code: ErrCodeConcurrencyConflict, Message: message, Stack: captureStack(1)}
}

// AlreadyDecided constructs an ErrCodeAlreadyDecided AppError.
func AlreadyDecided(message string) *AppError {
	return &AppError{Code: ErrCodeAlreadyDecided, Message: message, Stack: captureStack(1)}
}

// ExternalUnavailable constructs an ErrCodeExternalUnavailable AppError.
func ExternalUnavailable(message string) *AppError {
	return &AppError{Code: ErrCodeExternalUnavailable, Message: message, Stack: captureStack(1)}
}

// CatalogueIntegrity constructs an ErrCodeCatalogueIntegrity AppError.
func CatalogueIntegrity(message string) *AppError {
	return &AppError{Code: ErrCodeCatalogueIntegrity, Message: message, Stack: captureStack(1)}
}

// NotFound constructs a CodeNotFound AppError.
func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Stack: captureStack(1)}
}

// Forbidden constructs an ErrCodeForbidden AppError.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message, Stack: captureStack(1)}
}

// Internal constructs a CodeInternal AppError.
func Internal(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Stack: captureStack(1)}
}
