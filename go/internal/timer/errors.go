package timer

import "errors"

var (
	// ErrTournamentNotFound is returned for unknown or unloaded tournaments.
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrTimerNotRunning is returned when an operation needs a started timer.
	ErrTimerNotRunning = errors.New("timer not running")
	// ErrScheduleUnavailable is reported when the blind schedule cannot be resolved.
	// The level is frozen at its last known value.
	ErrScheduleUnavailable = errors.New("blind schedule unavailable")
	// ErrNotPrimary is returned when a tick task would start on a standby.
	ErrNotPrimary = errors.New("not primary")
	// ErrTimerEnded is returned when starting a timer that ran out of levels.
	ErrTimerEnded = errors.New("timer has ended")
	// ErrInvalidLevel is returned for levels missing from the schedule.
	ErrInvalidLevel = errors.New("invalid level")
)
