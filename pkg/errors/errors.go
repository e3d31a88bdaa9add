// Package errors defines the error kinds raised while building, ordering
// and persisting call graphs.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeCyclicForceInline  = "CYCLIC_FORCE_INLINING"
	CodeInternal           = "INTERNAL_ERROR"
	CodeTaskFailed         = "TASK_FAILED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeConfigError        = "CONFIG_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeStorageError       = "STORAGE_ERROR"
	CodeExportError        = "EXPORT_ERROR"
	CodeFrontendError      = "FRONTEND_ERROR"
	cyclicForceInliningMsg = "Unable to satisfy force inlining constraints due to cyclic force inlining"
)

// AppError carries a code, a message and an optional cause.
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

// Is matches on the error code only.
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
func Newf(code string, format string, args ...interface{}) *AppError {
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

// Sentinels for errors.Is.
var (
	ErrCyclicForceInline = New(CodeCyclicForceInline, cyclicForceInliningMsg)
	ErrInternal          = New(CodeInternal, "internal error")
	ErrTaskFailed        = New(CodeTaskFailed, "task failed")
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrConfigError       = New(CodeConfigError, "configuration error")
	ErrNotFound          = New(CodeNotFound, "resource not found")
	ErrDatabaseError     = New(CodeDatabaseError, "database error")
	ErrStorageError      = New(CodeStorageError, "storage error")
	ErrExportError       = New(CodeExportError, "export error")
	ErrFrontendError     = New(CodeFrontendError, "frontend error")
)

// CyclicForceInlining builds the fatal error raised when no edge of a cycle
// may be removed. The cycle is rendered into the message.
func CyclicForceInlining(cycle []string) *AppError {
	if len(cycle) == 0 {
		return New(CodeCyclicForceInline, cyclicForceInliningMsg)
	}
	return Newf(CodeCyclicForceInline, "%s: %v", cyclicForceInliningMsg, cycle)
}

// Internal builds an internal consistency error.
func Internal(format string, args ...interface{}) *AppError {
	return Newf(CodeInternal, format, args...)
}

// IsCyclicForceInline checks if the error is the fatal force inlining error.
func IsCyclicForceInline(err error) bool {
	return errors.Is(err, ErrCyclicForceInline)
}

// IsInternal checks if the error is an internal consistency error.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsTaskFailed checks if the error wraps a failed worker task.
func IsTaskFailed(err error) bool {
	return errors.Is(err, ErrTaskFailed)
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
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
