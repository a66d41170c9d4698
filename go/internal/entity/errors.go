package entity

import "errors"

var (
	// ErrUnknownEntity is returned for entity types without a mapping.
	ErrUnknownEntity = errors.New("unknown entity type")
	// ErrInvalidPayload is returned when a version does not match its mapping.
	ErrInvalidPayload = errors.New("invalid entity payload")
	// ErrMissingReference is returned when a version points at an absent entity.
	ErrMissingReference = errors.New("referenced entity does not exist")
)
