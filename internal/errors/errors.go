// Package errors classifies failures seen by the collection pipeline so
// callers can decide whether an operation is worth retrying.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType is the coarse failure category attached to classified
// errors.
type ErrorType string

const (
	// TypeAuthentication marks session failures: bad credentials,
	// rejected TOTP codes, or an expired token that survived re-auth.
	TypeAuthentication ErrorType = "authentication"

	// TypeTransient marks failures that a later retry may clear, such
	// as network timeouts and upstream 5xx responses.
	TypeTransient ErrorType = "transient"

	// TypeValidation marks caller mistakes. These never retry.
	TypeValidation ErrorType = "validation"

	// TypeStorage marks failures in the persistence layer.
	TypeStorage ErrorType = "storage"

	// TypeRateLimit marks upstream throttling responses.
	TypeRateLimit ErrorType = "rate_limit"
)

// Error is a classified pipeline error. Op names the operation that
// failed in package.Method form.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(t ErrorType, op, message string) *Error {
	return &Error{Type: t, Op: op, Message: message}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(t ErrorType, op, message string, err error) *Error {
	return &Error{Type: t, Op: op, Message: message, Err: err}
}

// TypeOf extracts the classification from err, walking the wrap chain.
// Unclassified errors report TypeTransient so unknown failures are
// retried rather than silently dropped.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return TypeTransient
}

// IsRetryable reports whether a retry of the failed operation could
// plausibly succeed.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case TypeTransient, TypeRateLimit:
		return true
	default:
		return false
	}
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	return TypeOf(err) == TypeAuthentication
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return TypeOf(err) == TypeValidation
}
