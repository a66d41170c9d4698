package models

import (
	"time"

	"github.com/google/uuid"
)

// TournamentStatus defines the lifecycle status of a tournament.
type TournamentStatus string

const (
	TournamentStatusScheduled TournamentStatus = "SCHEDULED"
	TournamentStatusRunning   TournamentStatus = "RUNNING"
	TournamentStatusCompleted TournamentStatus = "COMPLETED"
	TournamentStatusCancelled TournamentStatus = "CANCELLED"
)

// Tournament represents a single poker tournament.
type Tournament struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	Status        TournamentStatus `json:"status"`
	BuyIn         int64            `json:"buyIn"`
	StartingChips int64            `json:"startingChips"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Player is an entrant in a tournament.
type Player struct {
	ID           uuid.UUID `json:"id"`
	TournamentID uuid.UUID `json:"tournamentId"`
	Name         string    `json:"name"`
	ChipCount    int64     `json:"chipCount"`
	Seat         *int      `json:"seat,omitempty"`
	Eliminated   bool      `json:"eliminated"`
}

// BlindLevel is one entry of a tournament's blind schedule.
type BlindLevel struct {
	Level           int   `json:"level" yaml:"level"`
	SmallBlind      int64 `json:"smallBlind" yaml:"small_blind"`
	BigBlind        int64 `json:"bigBlind" yaml:"big_blind"`
	Ante            int64 `json:"ante" yaml:"ante"`
	DurationMinutes int   `json:"durationMinutes" yaml:"duration_minutes"`
	IsBreak         bool  `json:"isBreak" yaml:"is_break"`
}

// DurationMs returns the level length in milliseconds.
func (b BlindLevel) DurationMs() int64 {
	return int64(b.DurationMinutes) * int64(time.Minute/time.Millisecond)
}
