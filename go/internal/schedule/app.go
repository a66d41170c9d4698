package schedule

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ScheduleRepository defines what the app layer needs from the repository
type ScheduleRepository interface {
	Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error)
	Replace(ctx context.Context, tournamentID uuid.UUID, levels []models.BlindLevel) error
}

// App handles blind schedule business logic
type App struct {
	repo ScheduleRepository
}

// NewApp creates a new schedule App
func NewApp(repo ScheduleRepository) *App {
	return &App{repo: repo}
}

// Levels returns the stored schedule.
func (a *App) Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error) {
	return a.repo.Levels(ctx, tournamentID)
}

// SetSchedule validates and stores a tournament's schedule.
func (a *App) SetSchedule(ctx context.Context, tournamentID uuid.UUID, levels []models.BlindLevel) ([]models.BlindLevel, error) {
	sorted := Normalize(levels)
	if err := Validate(sorted); err != nil {
		return nil, err
	}
	if err := a.repo.Replace(ctx, tournamentID, sorted); err != nil {
		return nil, fmt.Errorf("failed to store schedule: %w", err)
	}

	log.Info().
		Str("tournament_id", tournamentID.String()).
		Int("levels", len(sorted)).
		Msg("blind schedule stored")
	return sorted, nil
}

// Normalize returns a copy of levels sorted by level number.
func Normalize(levels []models.BlindLevel) []models.BlindLevel {
	out := append([]models.BlindLevel(nil), levels...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// Validate checks a sorted schedule: levels numbered 1..n with no gaps,
// positive durations and sane blinds.
func Validate(levels []models.BlindLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("%w: no levels", ErrInvalidSchedule)
	}
	for i, l := range levels {
		if l.Level != i+1 {
			return fmt.Errorf("%w: expected level %d, got %d", ErrInvalidSchedule, i+1, l.Level)
		}
		if l.DurationMinutes <= 0 {
			return fmt.Errorf("%w: level %d has no duration", ErrInvalidSchedule, l.Level)
		}
		if l.SmallBlind < 0 || l.BigBlind < 0 || l.Ante < 0 {
			return fmt.Errorf("%w: level %d has negative blinds", ErrInvalidSchedule, l.Level)
		}
		if !l.IsBreak && l.BigBlind < l.SmallBlind {
			return fmt.Errorf("%w: level %d big blind below small blind", ErrInvalidSchedule, l.Level)
		}
	}
	return nil
}
