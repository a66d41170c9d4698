package conflict

import "errors"

var (
	// ErrConflictUnresolved is returned when a conflict could not be closed.
	// The originating change stays queued for a later attempt.
	ErrConflictUnresolved = errors.New("conflict unresolved")
	// ErrValidation marks incoming changes that fail entity validation.
	ErrValidation = errors.New("validation error")
	// ErrConflictNotFound is returned for unknown conflict ids.
	ErrConflictNotFound = errors.New("conflict not found")
)
