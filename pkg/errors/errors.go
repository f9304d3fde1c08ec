// Package errors defines coded error types shared across trace-pprof.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeParseError         = "PARSE_ERROR"
	CodeStoreError         = "STORE_ERROR"
	CodeStorageError       = "STORAGE_ERROR"
	CodeExportError        = "EXPORT_ERROR"
	CodeConfigError        = "CONFIG_ERROR"
	CodeInvariantViolation = "INVARIANT_VIOLATION"
)

// AppError is an error carrying a stable code, a message and an optional cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput       = New(CodeInvalidInput, "invalid input")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrParseError         = New(CodeParseError, "parse error")
	ErrStoreError         = New(CodeStoreError, "trace store error")
	ErrStorageError       = New(CodeStorageError, "profile storage error")
	ErrExportError        = New(CodeExportError, "export error")
	ErrConfigError        = New(CodeConfigError, "configuration error")
	ErrInvariantViolation = New(CodeInvariantViolation, "invariant violation")
)

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvariantViolation checks if the error reports a broken internal invariant.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
