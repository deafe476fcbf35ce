package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"sitekeeper/internal/backup"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeUsage represents invalid command-line usage
	ErrorTypeUsage ErrorType = "usage"
	// ErrorTypeConfiguration represents invalid configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeMissingInput represents a missing archive or argument
	ErrorTypeMissingInput ErrorType = "missing_input"
	// ErrorTypeInvalidContainer represents an unreadable or malformed archive
	ErrorTypeInvalidContainer ErrorType = "invalid_container"
	// ErrorTypeIntegrity represents checksum verification failures
	ErrorTypeIntegrity ErrorType = "integrity"
	// ErrorTypeSubprocess represents failed external commands
	ErrorTypeSubprocess ErrorType = "subprocess"
	// ErrorTypeFilesystem represents file system errors
	ErrorTypeFilesystem ErrorType = "filesystem"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// Process exit codes per error type. A missing archive exits 1 like any
// generic failure; the remaining failure kinds get distinct codes for scripts.
var exitCodes = map[ErrorType]int{
	ErrorTypeUsage:            2,
	ErrorTypeMissingInput:     1,
	ErrorTypeInvalidContainer: 4,
	ErrorTypeIntegrity:        5,
	ErrorTypeSubprocess:       6,
	ErrorTypeFilesystem:       7,
	ErrorTypePermission:       7,
	ErrorTypeConfiguration:    8,
	ErrorTypeTimeout:          124,
	ErrorTypeInterruption:     130,
	ErrorTypeUnknown:          1,
}

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// ExitCode returns the process exit code for this error
func (e *AppError) ExitCode() int {
	if code, ok := exitCodes[e.Type]; ok {
		return code
	}
	return 1
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewUsageError creates an error for invalid command-line usage
func NewUsageError(message string) *AppError {
	return NewAppError(ErrorTypeUsage, message, nil)
}

// ErrorClassifier maps arbitrary errors onto AppError categories
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	// Interruption wins over whatever the interrupted step reported
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}

	if backupErr := ec.classifyBackupError(err); backupErr != nil {
		return backupErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

var backupErrorTypes = map[backup.BackupErrorType]ErrorType{
	backup.BackupErrorTypeMissingInput:       ErrorTypeMissingInput,
	backup.BackupErrorTypeInvalidContainer:   ErrorTypeInvalidContainer,
	backup.BackupErrorTypeIntegrityViolation: ErrorTypeIntegrity,
	backup.BackupErrorTypeSubprocess:         ErrorTypeSubprocess,
	backup.BackupErrorTypeFilesystem:         ErrorTypeFilesystem,
	backup.BackupErrorTypeCompression:        ErrorTypeInvalidContainer,
	backup.BackupErrorTypeConfiguration:      ErrorTypeConfiguration,
}

// classifyBackupError classifies errors raised by the backup and recovery pipelines
func (ec *ErrorClassifier) classifyBackupError(err error) *AppError {
	var backupErr *backup.BackupError
	if !errors.As(err, &backupErr) {
		return nil
	}

	errorType, ok := backupErrorTypes[backupErr.Type]
	if !ok {
		errorType = ErrorTypeUnknown
	}
	if errorType == ErrorTypeFilesystem && isPermissionError(backupErr.Cause) {
		errorType = ErrorTypePermission
	}
	if errorType == ErrorTypeSubprocess && errors.Is(err, context.DeadlineExceeded) {
		errorType = ErrorTypeTimeout
	}

	appErr := NewAppError(errorType, backupErr.Message, err)
	appErr.UserMessage = backupErr.Message
	if backupErr.Cause != nil {
		appErr.UserMessage = fmt.Sprintf("%s: %v", backupErr.Message, backupErr.Cause)
	}
	for k, v := range backupErr.Context {
		appErr.WithContext(k, v)
	}
	return appErr
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeMissingInput,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES, syscall.EPERM:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeFilesystem,
				"No space left on device", err)
		default:
			return NewAppError(ErrorTypeFilesystem,
				fmt.Sprintf("File system error on %s: %v", pathErr.Path, pathErr.Err), err)
		}
	}
	return nil
}

func isPermissionError(err error) bool {
	return err != nil && (errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES))
}

// GracefulShutdownHandler cancels a context on SIGINT/SIGTERM and runs
// registered cleanup functions in reverse order
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan struct{}
	cancel        context.CancelFunc
	interrupted   bool
	mu            sync.Mutex
	stopOnce      sync.Once
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals and returns a context that is
// canceled when one arrives
func (gsh *GracefulShutdownHandler) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	gsh.cancel = cancel
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case _, ok := <-gsh.signalChan:
			if ok {
				gsh.shutdown()
			}
		case <-gsh.done:
		}
	}()
	return ctx
}

// Stop stops listening for signals and releases the context
func (gsh *GracefulShutdownHandler) Stop() {
	gsh.stopOnce.Do(func() {
		signal.Stop(gsh.signalChan)
		close(gsh.done)
		if gsh.cancel != nil {
			gsh.cancel()
		}
	})
}

// Interrupted reports whether a shutdown signal was received
func (gsh *GracefulShutdownHandler) Interrupted() bool {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	return gsh.interrupted
}

func (gsh *GracefulShutdownHandler) shutdown() {
	gsh.mu.Lock()
	gsh.interrupted = true
	funcs := append([]func() error(nil), gsh.shutdownFuncs...)
	gsh.mu.Unlock()

	if gsh.cancel != nil {
		gsh.cancel()
	}
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	return NewErrorClassifier().ClassifyError(err).Type
}

// ExitCode maps an error onto the process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return NewErrorClassifier().ClassifyError(err).ExitCode()
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	appErr := NewErrorClassifier().ClassifyError(err)
	if appErr.Type == ErrorTypeUnknown {
		return err.Error()
	}
	return appErr.GetUserMessage()
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	classified := NewErrorClassifier().ClassifyError(err)
	return NewAppError(classified.Type, message, err)
}
