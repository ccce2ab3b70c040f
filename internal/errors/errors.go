// Package errors provides error code definitions shared across the companion daemon.
package errors

import "fmt"

// ErrorCode is a stable identifier the UI layer can switch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Geolocation errors
	ErrGeoDenied      ErrorCode = "GEO_PERMISSION_DENIED"
	ErrGeoUnavailable ErrorCode = "GEO_UNAVAILABLE"
	ErrGeoNotWatching ErrorCode = "GEO_NOT_WATCHING"

	// Offline queue errors
	ErrQueuePersist  ErrorCode = "QUEUE_PERSIST_FAILED"
	ErrAssetMissing  ErrorCode = "ASSET_MISSING"
	ErrAssetTooLarge ErrorCode = "ASSET_TOO_LARGE"
	ErrStorage       ErrorCode = "STORAGE_ERROR"

	// Sync errors
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrSyncOffline      ErrorCode = "SYNC_OFFLINE"
	ErrSyncTimeout      ErrorCode = "SYNC_TIMEOUT"
	ErrSyncRejected     ErrorCode = "SYNC_REJECTED"
	ErrSyncUnauthorized ErrorCode = "SYNC_UNAUTHORIZED"
	ErrRetriesExhausted ErrorCode = "SYNC_RETRIES_EXHAUSTED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
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

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
