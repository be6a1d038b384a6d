package domain

import (
	"fmt"

	apperrors "github.com/allisson/hookrelay/internal/errors"
)

// MalformedEventError reports an envelope that cannot be decoded.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed change event: %s", e.Reason)
}

// Unwrap lets callers match the error against apperrors.ErrInvalidInput.
func (e *MalformedEventError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// NewMalformedEventError creates a MalformedEventError with a formatted reason.
func NewMalformedEventError(format string, args ...any) *MalformedEventError {
	return &MalformedEventError{Reason: fmt.Sprintf(format, args...)}
}
