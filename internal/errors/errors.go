// Package errors defines the sentinel errors use cases return and handlers map to HTTP statuses.
// Domain packages wrap these sentinels (for example domain.ErrNotificationNotFound wraps ErrNotFound)
// so transport code never needs to know domain error values.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation clashes with the current state, such as a forbidden
	// status transition or a duplicate notification.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates malformed or invalid input, such as an undecodable change envelope.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates a dependency, such as the subscription registry, could not serve the request.
	ErrUnavailable = errors.New("unavailable")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap adds message to err, keeping err in the chain. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
