package timer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// LoadOrRecover loads a tournament into the registry. A timer persisted as
// running is caught up by the wall-clock time since its last update, with
// any owed level transitions replayed synchronously, and then resumes
// ticking when this process is primary.
//
// When the schedule cannot be resolved the state is still loaded and keeps
// ticking, and the returned error wraps ErrScheduleUnavailable. Only a level
// transition needs the schedule: one that comes due without it freezes the
// level at zero until a later tick resolves the schedule.
func (e *Engine) LoadOrRecover(ctx context.Context, id uuid.UUID) (models.TimerState, error) {
	if ent, ok := e.registry.get(id); ok {
		return e.resumeLoaded(ctx, ent)
	}

	exists, err := e.repo.TournamentExists(ctx, id)
	if err != nil {
		return models.TimerState{}, fmt.Errorf("failed to check tournament: %w", err)
	}
	if !exists {
		return models.TimerState{}, ErrTournamentNotFound
	}

	persisted, err := e.repo.LoadState(ctx, id)
	if err != nil {
		return models.TimerState{}, fmt.Errorf("failed to load timer state: %w", err)
	}

	now := e.clock.Now()
	state := models.TimerState{LastUpdateTime: now}
	if persisted != nil {
		state = persisted.Clone()
	}

	ent := newEntry(id, state)
	ent.mu.Lock()
	_ = e.refreshLevels(ctx, ent)

	if state.IsRunning && !state.IsPaused {
		since := elapsedSince(state.LastUpdateTime, now)
		ent.lastTick = now
		ent.state.ElapsedTime += since
		if ent.state.RemainingTime != nil {
			rem := *ent.state.RemainingTime - since
			ent.state.RemainingTime = &rem
		}
		ent.state.Tenths = tenthsOf(ent.state.ElapsedTime)
		ent.state.LastUpdateTime = now

		e.rollLevels(ctx, ent, now)
		e.persist(ctx, ent, now)

		log.Info().
			Str("tournament_id", id.String()).
			Int64("caught_up_ms", since).
			Int("level", ent.state.Level).
			Msg("recovered running timer")
	}
	ent.mu.Unlock()

	ent, inserted := e.registry.insertIfAbsent(ent)
	if !inserted {
		// another caller loaded it first
		return e.resumeLoaded(ctx, ent)
	}
	e.metrics.SetActiveTimers(e.registry.Len())
	return e.resumeLoaded(ctx, ent)
}

// resumeLoaded retries a frozen schedule and starts the tick task of a loaded
// running timer if it has none.
func (e *Engine) resumeLoaded(ctx context.Context, ent *entry) (models.TimerState, error) {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.scheduleErr != nil && e.refreshLevels(ctx, ent) == nil && ent.state.IsRunning && !ent.state.IsPaused {
		now := e.clock.Now()
		e.accrue(ent, now)
		e.rollLevels(ctx, ent, now)
	}

	if ent.state.IsRunning && !ent.state.IsPaused && ent.task == nil && e.role.IsPrimary() {
		now := e.clock.Now()
		e.accrue(ent, now)
		if ent.lastTick.IsZero() {
			ent.lastTick = now
		}
		if err := e.startTicking(ent); err != nil {
			return ent.state.Clone(), err
		}
	}

	e.notify(ent)
	return ent.state.Clone(), ent.scheduleErr
}
