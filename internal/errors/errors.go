package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Connector errors - auth, network or stream configuration failures of the bulk connector
	ErrorTypeConnector ErrorType = iota
	// Store errors - graph or relational store write/read failures
	ErrorTypeStore
	// MissingReference errors - a relationship endpoint is not in the store
	ErrorTypeMissingReference
	// MalformedRecord errors - a connector record cannot be interpreted
	ErrorTypeMalformedRecord
	// Config errors - missing or invalid configuration
	ErrorTypeConfig
	// Validation errors - invalid input data
	ErrorTypeValidation
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - fails the current stage
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
	// Permanent marks errors that retrying cannot fix (bad credentials, bad config)
	Permanent bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// AsPermanent marks the error as not retryable
func (e *Error) AsPermanent() *Error {
	e.Permanent = true
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConnector:
		return "CONNECTOR"
	case ErrorTypeStore:
		return "STORE"
	case ErrorTypeMissingReference:
		return "MISSING_REFERENCE"
	case ErrorTypeMalformedRecord:
		return "MALFORMED_RECORD"
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Convenience constructors for common error types

// ConnectorError wraps a bulk connector failure. Retryable unless marked permanent.
func ConnectorError(err error, message string) *Error {
	return Wrap(err, ErrorTypeConnector, SeverityHigh, message)
}

// ConnectorErrorf wraps a connector failure with formatting
func ConnectorErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeConnector, SeverityHigh, fmt.Sprintf(format, args...))
}

// StoreError wraps a graph/relational store failure. Always retryable.
func StoreError(err error, message string) *Error {
	return Wrap(err, ErrorTypeStore, SeverityHigh, message)
}

// StoreErrorf wraps a store failure with formatting
func StoreErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeStore, SeverityHigh, fmt.Sprintf(format, args...))
}

// MissingReferenceErrorf reports a relationship endpoint that is not in the store
func MissingReferenceErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeMissingReference, SeverityLow, fmt.Sprintf(format, args...))
}

// MalformedRecordError wraps a record that cannot be interpreted
func MalformedRecordError(err error, message string) *Error {
	if err == nil {
		return New(ErrorTypeMalformedRecord, SeverityLow, message)
	}
	return Wrap(err, ErrorTypeMalformedRecord, SeverityLow, message)
}

// MalformedRecordErrorf creates a malformed record error with formatting
func MalformedRecordErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeMalformedRecord, SeverityLow, fmt.Sprintf(format, args...))
}

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message).AsPermanent()
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...)).AsPermanent()
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...)).AsPermanent()
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.IsFatal()
	}
	return false
}

// IsRetryable reports whether a stage failing with err may succeed on a later attempt.
// Connector and store errors are retryable unless marked permanent; errors from
// outside this taxonomy are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return true
	}
	if e.Permanent {
		return false
	}
	switch e.Type {
	case ErrorTypeConnector, ErrorTypeStore, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Severity
	}
	return SeverityMedium
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err (or anything it wraps) is of the given type
func IsType(err error, t ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == t
	}
	return false
}
