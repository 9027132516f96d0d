package errors

import (
	"context"
	"errors"
	"net"
	"time"
)

// StorageError represents a checkpoint-backend failure with backend context
type StorageError struct {
	*AppError
	Backend   string        `json:"backend,omitempty"`   // "local", "s3", "redis", "postgres"
	Key       string        `json:"key,omitempty"`       // checkpoint key
	Operation string        `json:"operation,omitempty"` // "save", "load", "delete"
	Duration  time.Duration `json:"duration,omitempty"`
	Transient bool          `json:"transient"`
}

// Unwrap exposes the embedded AppError to errors.As/Is
func (se *StorageError) Unwrap() error {
	return se.AppError
}

// WrapStorageError wraps a backend error with the operation that failed
func WrapStorageError(err error, operation, backend string) *StorageError {
	if err == nil {
		return nil
	}

	code := CodeReadFailed
	if operation == "save" || operation == "delete" {
		code = CodeWriteFailed
	}

	transient := isTransientStorageError(err)
	appErr := WrapError(err, ErrorTypeStorage, code, "checkpoint "+operation+" failed")
	appErr.Retryable = appErr.Retryable || transient

	return &StorageError{
		AppError:  appErr,
		Backend:   backend,
		Operation: operation,
		Transient: transient,
	}
}

// WithKey adds the checkpoint key to the storage error
func (se *StorageError) WithKey(key string) *StorageError {
	se.Key = key
	return se
}

// WithDuration adds timing information to the storage error
func (se *StorageError) WithDuration(duration time.Duration) *StorageError {
	se.Duration = duration
	return se
}

// isTransientStorageError reports whether the failure is likely to clear on retry
func isTransientStorageError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
