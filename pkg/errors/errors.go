// Package errors carries the typed error model of the client engine.
//
// The taxonomy follows the failure classes of the session lifecycle:
// invalid construction input, transport failures, authorization rejections,
// local device failures, and negotiation failures. Errors local to one
// item (one candidate, one queued offer) are contained by their subsystem
// and never become an AppError.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an application error.
type ErrorCode string

const (
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeTransport        ErrorCode = "TRANSPORT"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeDevicePermission ErrorCode = "DEVICE_PERMISSION"
	ErrCodeDeviceNotFound   ErrorCode = "DEVICE_NOT_FOUND"
	ErrCodeDeviceUnknown    ErrorCode = "DEVICE_UNKNOWN"
	ErrCodeNegotiation      ErrorCode = "NEGOTIATION"
)

// AppError is an error with a code and optional structured context.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// Common constructors.

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func NewTransportError(err error, message string) *AppError {
	return Wrap(err, ErrCodeTransport, message)
}

func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, reason)
}

func NewNegotiationError(err error, message string) *AppError {
	return Wrap(err, ErrCodeNegotiation, message)
}

// Get extracts an AppError from an error chain, or nil.
func Get(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	if appErr := Get(err); appErr != nil {
		return appErr.Code
	}
	return ""
}

// IsDeviceError reports whether err is a local media device failure.
func IsDeviceError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDevicePermission, ErrCodeDeviceNotFound, ErrCodeDeviceUnknown:
		return true
	}
	return false
}
