package schedule

import "errors"

var (
	// ErrNoSchedule is returned when a tournament has no blind levels.
	ErrNoSchedule = errors.New("no blind schedule")
	// ErrInvalidSchedule is returned for schedules that fail validation.
	ErrInvalidSchedule = errors.New("invalid blind schedule")
)
