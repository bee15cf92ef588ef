package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a malformed submission or request. It is always
	// wrapped with the specific message.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("verification not found")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PartialDeletionError reports a deletion that removed only some of the
// verification's artifacts.
type PartialDeletionError struct {
	VerificationID string
	Deleted        []string
	Remaining      []string
	Err            error
}

func (e *PartialDeletionError) Error() string {
	return fmt.Sprintf("verification %s partially deleted (removed: [%s], remaining: [%s]): %v",
		e.VerificationID, strings.Join(e.Deleted, ", "), strings.Join(e.Remaining, ", "), e.Err)
}

func (e *PartialDeletionError) Unwrap() error { return e.Err }
