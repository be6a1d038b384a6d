package resilience

import (
	apperrors "github.com/allisson/hookrelay/internal/errors"
)

// ErrCircuitOpen is returned instead of calling a target whose circuit is open.
var ErrCircuitOpen = apperrors.Wrap(apperrors.ErrUnavailable, "circuit open")
