package avstemming

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWindow is returned when a window or cutoff cannot be reconciled
	ErrInvalidWindow = errors.New("invalid reconciliation window")
	// ErrInvariantViolation is matched by every InvariantError
	ErrInvariantViolation = errors.New("reconciliation invariant violated")
)

// InvariantError reports a reconciliation whose internal arithmetic does not add up.
// It signals a defect in the builder, never bad input, and must abort transmission.
type InvariantError struct {
	Check  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariantViolation, e.Check, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

func invariant(check, format string, args ...any) *InvariantError {
	return &InvariantError{Check: check, Detail: fmt.Sprintf(format, args...)}
}
