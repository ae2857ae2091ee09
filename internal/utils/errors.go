package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the collection and remediation pipeline.
var (
	// ErrNotConfigured marks a dependency whose credentials or endpoint are
	// absent. Callers skip the work instead of retrying.
	ErrNotConfigured = errors.New("integration not configured")

	// ErrUnauthorized marks a credential rejection from an upstream system.
	// Retrying without operator intervention cannot succeed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks a lookup miss in a store.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a fix lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidArgument marks caller input that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
