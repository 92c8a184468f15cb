package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a CoordinationError.
type ErrorKind string

const (
	ErrAgentNotFound         ErrorKind = "AGENT_NOT_FOUND"
	ErrMessageDeliveryFailed ErrorKind = "MESSAGE_DELIVERY_FAILED"
	ErrSessionNotFound       ErrorKind = "SESSION_NOT_FOUND"
	ErrResourceNotAvailable  ErrorKind = "RESOURCE_NOT_AVAILABLE"
	ErrInvalidMessageFormat  ErrorKind = "INVALID_MESSAGE_FORMAT"
	ErrAgentOffline          ErrorKind = "AGENT_OFFLINE"
	ErrSessionAlreadyExists  ErrorKind = "SESSION_ALREADY_EXISTS"
	ErrPermissionDenied      ErrorKind = "PERMISSION_DENIED"
)

// CoordinationError is the error type returned by all coordination operations.
// Structural and validation failures are returned synchronously and never
// retried internally.
type CoordinationError struct {
	Kind    ErrorKind
	Message string
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches against another CoordinationError by kind, so callers can use
// errors.Is(err, &CoordinationError{Kind: ErrAgentNotFound}).
func (e *CoordinationError) Is(target error) bool {
	var other *CoordinationError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// NewError creates a CoordinationError with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *CoordinationError {
	return &CoordinationError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the ErrorKind from an error chain, or "" if the chain does
// not contain a CoordinationError.
func KindOf(err error) ErrorKind {
	var ce *CoordinationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
