package backup

import (
	"errors"
	"fmt"
)

// BackupError represents errors that occur during backup and recovery runs
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeMissingInput       BackupErrorType = "MISSING_INPUT"
	BackupErrorTypeInvalidContainer   BackupErrorType = "INVALID_CONTAINER"
	BackupErrorTypeIntegrityViolation BackupErrorType = "INTEGRITY_VIOLATION"
	BackupErrorTypeSubprocess         BackupErrorType = "SUBPROCESS_FAILURE"
	BackupErrorTypeFilesystem         BackupErrorType = "FILESYSTEM_FAILURE"
	BackupErrorTypeCompression        BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeConfiguration      BackupErrorType = "CONFIGURATION_ERROR"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewMissingInputError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeMissingInput, message, cause)
}

func NewInvalidContainerError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeInvalidContainer, message, cause)
}

func NewIntegrityError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeIntegrityViolation, message, cause)
}

func NewSubprocessError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeSubprocess, message, cause)
}

func NewFilesystemError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeFilesystem, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

// IsType reports whether err carries a BackupError of the given type anywhere in its chain
func IsType(err error, errorType BackupErrorType) bool {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type == errorType
	}
	return false
}

// ErrorType returns the BackupErrorType of err, or "" if it is not a BackupError
func ErrorType(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}
