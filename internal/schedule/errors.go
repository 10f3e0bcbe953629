package schedule

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	ErrNotFound    = errors.New("schedule: not found")
	ErrLockTimeout = errors.New("schedule: store lock acquisition timed out")
)

// ValidationError reports a rejected field on create or update.
// The record is never written when validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schedule: invalid %s: %s", e.Field, e.Reason)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsLockTimeout checks if error is a lock timeout; callers can safely retry
// the whole operation
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
