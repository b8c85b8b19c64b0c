package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Bus errors
	ErrCodeBusTransport ErrorCode = "BUS_TRANSPORT"
	ErrCodeBusProtocol  ErrorCode = "BUS_PROTOCOL"

	// Activity errors
	ErrCodeActivityRejected ErrorCode = "ACTIVITY_REJECTED"

	// Window errors
	ErrCodeWindowCreate ErrorCode = "WINDOW_CREATE"
	ErrCodeWindowClosed ErrorCode = "WINDOW_CLOSED"
	ErrCodeToolkitDown  ErrorCode = "TOOLKIT_UNAVAILABLE"

	// Instance errors
	ErrCodeInstanceNotFound  ErrorCode = "INSTANCE_NOT_FOUND"
	ErrCodeInstanceDuplicate ErrorCode = "INSTANCE_DUPLICATE"
	ErrCodeInstanceDestroyed ErrorCode = "INSTANCE_DESTROYED"

	// Descriptor errors
	ErrCodeDescriptorParse    ErrorCode = "DESCRIPTOR_PARSE"
	ErrCodeDescriptorInvalid  ErrorCode = "DESCRIPTOR_INVALID"
	ErrCodeDescriptorNotFound ErrorCode = "DESCRIPTOR_NOT_FOUND"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured cardhost error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with cardhost error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	cardErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return cardErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	cardErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}

	return cardErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	cardErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return cardErr.Retryable
}
