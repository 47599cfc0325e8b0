package escrow

import (
	"errors"
	"fmt"
)

// Guard failures never mutate state. The HTTP layer maps each of these to a
// status code the frontend branches on.
var (
	// ErrUnauthorized means the caller is not a party to the booking or has
	// the wrong role for the operation.
	ErrUnauthorized = errors.New("not authorized for this booking")

	// ErrInvalidState means the transition is not allowed from the booking's
	// current status.
	ErrInvalidState = errors.New("invalid state for this operation")

	// ErrInvalidCode means the supplied confirmation code does not match or
	// has expired.
	ErrInvalidCode = errors.New("invalid confirmation code")

	// ErrConflict means a concurrent transition won the race.
	ErrConflict = errors.New("booking was modified concurrently")

	// ErrNotFound means the booking or related record does not exist.
	ErrNotFound = errors.New("booking not found")
)

// ValidationError reports malformed input, field by field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
