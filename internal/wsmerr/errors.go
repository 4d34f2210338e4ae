// Package wsmerr is the shared error taxonomy used across the service:
// validation, authentication and transient-store/backbone errors, each
// wrapping an Op/Err pair the way pkg/dcb/errors.go embeds EventStoreError.
package wsmerr

import (
	"errors"
	"fmt"
)

// OpError is the base of every error in this package: an operation name and
// the underlying cause.
type OpError struct {
	Op  string
	Err error
}

func (e OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e OpError) Unwrap() error { return e.Err }

// ValidationError reports an invalid envelope, query, or request shape.
// Surfaced to HTTP callers as 400.
type ValidationError struct {
	OpError
	Field string
	Value string
}

// NewValidation builds a ValidationError from a formatted message.
func NewValidation(op, field, value, msg string) *ValidationError {
	return &ValidationError{
		OpError: OpError{Op: op, Err: errors.New(msg)},
		Field:   field,
		Value:   value,
	}
}

// AuthError reports a missing or invalid bearer token. Surfaced as 401.
type AuthError struct {
	OpError
}

// NewAuth builds an AuthError.
func NewAuth(op, msg string) *AuthError {
	return &AuthError{OpError: OpError{Op: op, Err: errors.New(msg)}}
}

// TransientError reports a retryable store or backbone failure: the
// projection worker must not commit its offset when it sees one (spec.md
// §4.5 step 2, §7).
type TransientError struct {
	OpError
}

// NewTransient builds a TransientError, wrapping the underlying cause.
func NewTransient(op string, cause error) *TransientError {
	return &TransientError{OpError: OpError{Op: op, Err: cause}}
}

// NotFoundError reports a lookup miss (e.g. update_status on an unknown
// entry_id).
type NotFoundError struct {
	OpError
}

// NewNotFound builds a NotFoundError.
func NewNotFound(op, msg string) *NotFoundError {
	return &NotFoundError{OpError: OpError{Op: op, Err: errors.New(msg)}}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}
