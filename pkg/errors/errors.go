package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Configuration errors
	ErrUnknownFamily        = errors.New("unknown model family")
	ErrInvalidWindow        = errors.New("invalid window length: must be positive")
	ErrChannelMismatch      = errors.New("channel count does not match model input width")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing configuration")

	// Numerical errors
	ErrNonFiniteLoss = errors.New("loss became non-finite")

	// Checkpoint errors
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointCorrupt  = errors.New("checkpoint corrupt")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageWriteFailed      = errors.New("storage write failed")
	ErrStorageReadFailed       = errors.New("storage read failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")

	// Dataset errors
	ErrDatasetNotFound = errors.New("processed data not found")
	ErrInvalidDataset  = errors.New("invalid dataset")

	// Telemetry errors
	ErrTelemetryUnavailable = errors.New("telemetry sink unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNumerical     ErrorType = "numerical"
	ErrorTypeCheckpoint    ErrorType = "checkpoint"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeDataset       ErrorType = "dataset"
	ErrorTypeTelemetry     ErrorType = "telemetry"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause attaches an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: isRetryable(err),
	}
}

// NewConfigurationError creates a configuration error. Configuration errors are
// raised before any epoch runs and are never retryable.
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewNumericalError creates a numerical divergence error
func NewNumericalError(code, message string) *AppError {
	return NewAppError(ErrorTypeNumerical, code, message)
}

// NewCheckpointError creates a checkpoint error
func NewCheckpointError(code, message string) *AppError {
	return NewAppError(ErrorTypeCheckpoint, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewDatasetError creates a dataset error
func NewDatasetError(code, message string) *AppError {
	return NewAppError(ErrorTypeDataset, code, message)
}

// NewTelemetryError creates a telemetry error
func NewTelemetryError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeTelemetry,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    CodeInternalError,
		Message: message,
	}
}

// IsType reports whether err is (or wraps) an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// Is lets callers that import this package match sentinels without also
// importing the standard errors package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	case errors.Is(err, ErrTelemetryUnavailable):
		return true
	default:
		return false
	}
}

// Error codes for different error scenarios
const (
	// Configuration error codes
	CodeUnknownFamily      = "UNKNOWN_FAMILY"
	CodeInvalidWindow      = "INVALID_WINDOW"
	CodeChannelMismatch    = "CHANNEL_MISMATCH"
	CodeInvalidParameter   = "INVALID_PARAMETER"
	CodeUnsupportedNetwork = "UNSUPPORTED_NETWORK"

	// Numerical error codes
	CodeNonFiniteLoss  = "NON_FINITE_LOSS"
	CodeBackwardFailed = "BACKWARD_FAILED"

	// Checkpoint error codes
	CodeCheckpointNotFound = "CHECKPOINT_NOT_FOUND"
	CodeCheckpointCorrupt  = "CHECKPOINT_CORRUPT"
	CodeCheckpointMismatch = "CHECKPOINT_MISMATCH"
	CodeCheckpointWrite    = "CHECKPOINT_WRITE_FAILED"

	// Storage error codes
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeNotConnected     = "NOT_CONNECTED"
	CodeInvalidConfig    = "INVALID_CONFIG"

	// Dataset error codes
	CodeDatasetNotFound = "DATASET_NOT_FOUND"
	CodeDatasetInvalid  = "DATASET_INVALID"

	// Telemetry error codes
	CodeTelemetryUnavailable = "TELEMETRY_UNAVAILABLE"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
