package plugin

import (
	"context"
	"errors"
	"fmt"
)

// Common transfer errors
var (
	// ErrNotFound indicates the remote file was not found
	ErrNotFound = errors.New("transfer: file not found")

	// ErrAccessDenied indicates the target refused the operation
	ErrAccessDenied = errors.New("transfer: access denied")

	// ErrInvalidConfig indicates unusable target settings
	ErrInvalidConfig = errors.New("transfer: invalid configuration")

	// ErrNotSupported indicates the target type cannot perform the
	// requested operation
	ErrNotSupported = errors.New("transfer: operation not supported")

	// ErrNoContent indicates a descriptor without a content accessor
	ErrNoContent = errors.New("transfer: no content provider attached")

	// ErrCancelled indicates cooperative cancellation stopped the
	// operation
	ErrCancelled = errors.New("transfer: operation cancelled")
)

// Error carries the context of a failed transfer step.
type Error struct {
	Op     string // operation that failed: upload, download, delete, list
	Target string // target name
	Path   string // file involved, empty for target-level failures
	Err    error  // underlying error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Target, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError wraps err with operation context.
func NewError(op, target, path string, err error) error {
	return &Error{Op: op, Target: target, Path: path, Err: err}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCancelled checks if an error came from cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsNotSupported checks if an error is a not supported error.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
