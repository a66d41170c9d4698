package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerPhase is the derived state-machine position of a timer.
type TimerPhase string

const (
	TimerPhaseIdle    TimerPhase = "IDLE"
	TimerPhaseRunning TimerPhase = "RUNNING"
	TimerPhasePaused  TimerPhase = "PAUSED"
	TimerPhaseEnded   TimerPhase = "ENDED"
)

// TimerState is the authoritative clock state of one tournament.
// All durations are whole milliseconds.
type TimerState struct {
	IsRunning      bool      `json:"isRunning"`
	IsPaused       bool      `json:"isPaused"`
	Level          int       `json:"level"`
	ElapsedTime    int64     `json:"elapsedTime"`
	RemainingTime  *int64    `json:"remainingTime"`
	Tenths         int       `json:"tenths"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
}

// Phase derives the state-machine position from the flags.
// A timer that has stopped on a level with no remaining time has ended.
func (s TimerState) Phase() TimerPhase {
	switch {
	case s.IsRunning && s.IsPaused:
		return TimerPhasePaused
	case s.IsRunning:
		return TimerPhaseRunning
	case s.Level > 0 && s.RemainingTime == nil:
		return TimerPhaseEnded
	default:
		return TimerPhaseIdle
	}
}

// Clone returns a deep copy so snapshots never alias the live state.
func (s TimerState) Clone() TimerState {
	c := s
	if s.RemainingTime != nil {
		r := *s.RemainingTime
		c.RemainingTime = &r
	}
	return c
}

// Remaining returns RemainingTime or 0 when unset.
func (s TimerState) Remaining() int64 {
	if s.RemainingTime == nil {
		return 0
	}
	return *s.RemainingTime
}

// TimerEventType enumerates timer transitions.
type TimerEventType string

const (
	TimerEventStart      TimerEventType = "start"
	TimerEventPause      TimerEventType = "pause"
	TimerEventResume     TimerEventType = "resume"
	TimerEventLevelStart TimerEventType = "level_start"
	TimerEventLevelEnd   TimerEventType = "level_end"
	TimerEventOverride   TimerEventType = "override"
	TimerEventEnd        TimerEventType = "end"
)

// TimerEvent is an immutable audit row written on every transition.
type TimerEvent struct {
	EventID       uuid.UUID      `json:"eventId"`
	TournamentID  uuid.UUID      `json:"tournamentId"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     TimerEventType `json:"eventType"`
	PreviousState TimerState     `json:"previousState"`
	NewState      TimerState     `json:"newState"`
	OriginDevice  string         `json:"originDevice"`
}
