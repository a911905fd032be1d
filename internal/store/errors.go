package store

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by every validation failure: missing required
// envelope fields, malformed ranges, unsupported duplicate policies, and
// out-of-order checkpoint input. Callers match it with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// invalidInput builds a validation error wrapping ErrInvalidInput.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// IsInvalidInput reports whether err is a validation error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// DuplicateEventError is returned when a duplicate event id is written with
// the "raise" policy. It carries the id and the partition file that already
// holds the record; the partition file is not modified.
type DuplicateEventError struct {
	IDField string // "signal_id" or "emission_id"
	ID      string
	Path    string // existing partition file
}

// Error implements the error interface.
func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate %s=%q already exists in %s", e.IDField, e.ID, e.Path)
}

// IsDuplicate reports whether err is a DuplicateEventError.
// Uses errors.As to handle wrapped errors.
func IsDuplicate(err error) bool {
	var de *DuplicateEventError
	return errors.As(err, &de)
}
