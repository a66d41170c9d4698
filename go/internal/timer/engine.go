package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Transition is a recorded timer event and its ledger record. Change is
// the timer_state entry devices pull.
type Transition struct {
	Event  models.TimerEvent
	Change *models.ChangeRecord
}

// Repository persists timer snapshots and the append-only event trail.
// RecordTransition stores the event, its change and its new state
// atomically.
type Repository interface {
	LoadState(ctx context.Context, tournamentID uuid.UUID) (*models.TimerState, error)
	SaveState(ctx context.Context, tournamentID uuid.UUID, state models.TimerState) error
	RecordTransition(ctx context.Context, tr Transition) error
	TournamentExists(ctx context.Context, tournamentID uuid.UUID) (bool, error)
	TrackedTournaments(ctx context.Context) ([]uuid.UUID, error)
}

// ScheduleProvider resolves a tournament's blind schedule.
type ScheduleProvider interface {
	Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error)
}

// RoleSource tells the engine whether this process may run tick tasks.
type RoleSource interface {
	IsPrimary() bool
}

// RoleFunc adapts a function to RoleSource.
type RoleFunc func() bool

func (f RoleFunc) IsPrimary() bool { return f() }

type alwaysPrimary struct{}

func (alwaysPrimary) IsPrimary() bool { return true }

// Config holds engine tuning.
type Config struct {
	TickInterval    time.Duration
	PersistInterval time.Duration
	WriteTimeout    time.Duration
	OriginDevice    string
}

// DefaultConfig returns the production tick and persistence cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:    100 * time.Millisecond,
		PersistInterval: time.Second,
		WriteTimeout:    2 * time.Second,
		OriginDevice:    "server",
	}
}

// Dependencies are the collaborators of an Engine. Role and Metrics are
// optional.
type Dependencies struct {
	Repo      Repository
	Schedules ScheduleProvider
	Role      RoleSource
	Metrics   MetricsCollector
	Clock     Clock
}

// Engine is the authoritative per-tournament clock.
type Engine struct {
	registry  *Registry
	repo      Repository
	schedules ScheduleProvider
	role      RoleSource
	metrics   MetricsCollector
	clock     Clock
	cfg       Config
}

// NewEngine creates an engine with its own registry.
func NewEngine(deps Dependencies, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Role == nil {
		deps.Role = alwaysPrimary{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NoOpMetricsCollector{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultConfig().PersistInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.OriginDevice == "" {
		cfg.OriginDevice = DefaultConfig().OriginDevice
	}

	return &Engine{
		registry:  NewRegistry(),
		repo:      deps.Repo,
		schedules: deps.Schedules,
		role:      deps.Role,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		cfg:       cfg,
	}
}

// Start moves an idle timer to running at its current (or first) level.
func (e *Engine) Start(ctx context.Context, id uuid.UUID) (models.TimerState, error) {
	if !e.role.IsPrimary() {
		return models.TimerState{}, ErrNotPrimary
	}
	ent, err := e.ensureLoaded(ctx, id)
	if err != nil {
		return models.TimerState{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	switch ent.state.Phase() {
	case models.TimerPhaseRunning, models.TimerPhasePaused:
		return ent.state.Clone(), nil
	case models.TimerPhaseEnded:
		return ent.state.Clone(), ErrTimerEnded
	}

	levels, err := e.currentLevels(ctx, ent)
	if err != nil {
		return ent.state.Clone(), err
	}
	level := ent.state.Level
	if level == 0 {
		level = 1
	}
	lvl, ok := levelFor(levels, level)
	if !ok {
		return ent.state.Clone(), fmt.Errorf("%w: level %d not in schedule", ErrInvalidLevel, level)
	}

	now := e.clock.Now()
	prev := ent.state.Clone()
	ent.state.IsRunning = true
	ent.state.IsPaused = false
	ent.state.Level = level
	if ent.state.RemainingTime == nil || level != prev.Level {
		rem := lvl.DurationMs()
		ent.state.RemainingTime = &rem
	}
	ent.state.LastUpdateTime = now
	ent.state.Tenths = tenthsOf(ent.state.ElapsedTime)
	ent.lastTick = now

	if err := e.startTicking(ent); err != nil {
		ent.state = prev
		return prev.Clone(), err
	}

	e.record(ctx, ent, models.TimerEventStart, prev, now)
	e.notify(ent)

	log.Info().
		Str("tournament_id", id.String()).
		Int("level", level).
		Msg("timer started")
	return ent.state.Clone(), nil
}

// Pause suspends ticking of a running timer.
func (e *Engine) Pause(ctx context.Context, id uuid.UUID) (models.TimerState, error) {
	ent, ok := e.registry.get(id)
	if !ok {
		return models.TimerState{}, ErrTournamentNotFound
	}

	ent.mu.Lock()
	if !ent.state.IsRunning {
		st := ent.state.Clone()
		ent.mu.Unlock()
		return st, ErrTimerNotRunning
	}
	if ent.state.IsPaused {
		st := ent.state.Clone()
		ent.mu.Unlock()
		return st, nil
	}

	now := e.clock.Now()
	e.accrue(ent, now)
	e.rollLevels(ctx, ent, now)
	if !ent.state.IsRunning {
		// the accrued time ended the tournament
		st := ent.state.Clone()
		stopped := detachTask(ent)
		ent.mu.Unlock()
		waitStopped(stopped)
		return st, nil
	}

	prev := ent.state.Clone()
	ent.state.IsPaused = true
	ent.state.LastUpdateTime = now
	stopped := detachTask(ent)
	e.record(ctx, ent, models.TimerEventPause, prev, now)
	e.notify(ent)
	st := ent.state.Clone()
	ent.mu.Unlock()

	waitStopped(stopped)

	log.Info().Str("tournament_id", id.String()).Int64("elapsed_ms", st.ElapsedTime).Msg("timer paused")
	return st, nil
}

// Resume restarts ticking of a paused timer.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) (models.TimerState, error) {
	if !e.role.IsPrimary() {
		return models.TimerState{}, ErrNotPrimary
	}
	ent, ok := e.registry.get(id)
	if !ok {
		return models.TimerState{}, ErrTournamentNotFound
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !ent.state.IsRunning {
		return ent.state.Clone(), ErrTimerNotRunning
	}
	if !ent.state.IsPaused {
		return ent.state.Clone(), nil
	}

	now := e.clock.Now()
	prev := ent.state.Clone()
	ent.state.IsPaused = false
	ent.state.LastUpdateTime = now
	ent.lastTick = now

	if err := e.startTicking(ent); err != nil {
		ent.state = prev
		return prev.Clone(), err
	}

	e.record(ctx, ent, models.TimerEventResume, prev, now)
	e.notify(ent)

	log.Info().Str("tournament_id", id.String()).Msg("timer resumed")
	return ent.state.Clone(), nil
}

// SetLevel jumps to level, resetting the remaining time to its duration.
func (e *Engine) SetLevel(ctx context.Context, id uuid.UUID, level int) (models.TimerState, error) {
	ent, err := e.ensureLoaded(ctx, id)
	if err != nil {
		return models.TimerState{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	levels, err := e.currentLevels(ctx, ent)
	if err != nil {
		return ent.state.Clone(), err
	}
	lvl, ok := levelFor(levels, level)
	if !ok {
		return ent.state.Clone(), fmt.Errorf("%w: level %d not in schedule", ErrInvalidLevel, level)
	}

	now := e.clock.Now()
	if ent.state.IsRunning && !ent.state.IsPaused {
		e.accrue(ent, now)
	}

	prev := ent.state.Clone()
	rem := lvl.DurationMs()
	ent.state.Level = level
	ent.state.RemainingTime = &rem
	ent.state.LastUpdateTime = now

	e.record(ctx, ent, models.TimerEventOverride, prev, now)
	e.notify(ent)

	log.Info().
		Str("tournament_id", id.String()).
		Int("from_level", prev.Level).
		Int("to_level", level).
		Msg("level overridden")
	return ent.state.Clone(), nil
}

// AdjustTime adds ms (possibly negative) to the remaining time of the level.
func (e *Engine) AdjustTime(ctx context.Context, id uuid.UUID, ms int64) (models.TimerState, error) {
	ent, err := e.ensureLoaded(ctx, id)
	if err != nil {
		return models.TimerState{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.state.RemainingTime == nil {
		return ent.state.Clone(), ErrTimerNotRunning
	}

	now := e.clock.Now()
	ticking := ent.state.IsRunning && !ent.state.IsPaused
	if ticking {
		e.accrue(ent, now)
	}

	prev := ent.state.Clone()
	rem := ent.state.Remaining() + ms
	if rem < 0 && !ticking {
		rem = 0
	}
	ent.state.RemainingTime = &rem
	ent.state.LastUpdateTime = now

	e.record(ctx, ent, models.TimerEventOverride, prev, now)
	if ticking {
		e.rollLevels(ctx, ent, now)
	}
	if !ent.state.IsRunning && ent.task != nil {
		// adjustment ran past the final level; the tick goroutine exits on its own
		detachTask(ent)
	}
	e.notify(ent)

	log.Info().
		Str("tournament_id", id.String()).
		Int64("adjust_ms", ms).
		Int64("remaining_ms", ent.state.Remaining()).
		Msg("time adjusted")
	return ent.state.Clone(), nil
}

// GetState returns the current state of a loaded tournament.
func (e *Engine) GetState(id uuid.UUID) (models.TimerState, error) {
	ent, ok := e.registry.get(id)
	if !ok {
		return models.TimerState{}, ErrTournamentNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.state.Clone(), nil
}

// Subscribe returns a handle that receives the current state immediately and
// every state published afterwards. Close the handle to unsubscribe.
func (e *Engine) Subscribe(id uuid.UUID) (*Subscription, error) {
	ent, ok := e.registry.get(id)
	if !ok {
		return nil, ErrTournamentNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.hub.subscribe(ent.state.Clone()), nil
}

// Stop cancels the tournament's tick task, persists its state and unloads it.
// No tick runs after Stop returns. The entry leaves the registry only after
// the final snapshot is written, so a load racing Stop never reads an older
// one.
func (e *Engine) Stop(ctx context.Context, id uuid.UUID) error {
	ent, ok := e.registry.get(id)
	if !ok {
		return ErrTournamentNotFound
	}

	ent.mu.Lock()
	ent.stopping = true
	stopped := detachTask(ent)
	ent.mu.Unlock()
	waitStopped(stopped)

	ent.mu.Lock()
	if ent.state.IsRunning && !ent.state.IsPaused {
		now := e.clock.Now()
		e.accrue(ent, now)
		ent.state.LastUpdateTime = now
	}
	e.persist(ctx, ent, e.clock.Now())
	ent.mu.Unlock()

	if !e.registry.remove(ent) {
		return ErrTournamentNotFound
	}
	ent.hub.closeAll()
	e.metrics.SetActiveTimers(e.registry.Len())

	log.Info().Str("tournament_id", id.String()).Msg("timer stopped")
	return nil
}

// StopAll stops every loaded tournament.
func (e *Engine) StopAll(ctx context.Context) {
	for _, id := range e.registry.IDs() {
		if err := e.Stop(ctx, id); err != nil && !errors.Is(err, ErrTournamentNotFound) {
			log.Error().Err(err).Str("tournament_id", id.String()).Msg("failed to stop timer")
		}
	}
}

// Loaded returns the ids of tournaments currently held by this engine.
func (e *Engine) Loaded() []uuid.UUID {
	return e.registry.IDs()
}

// Tracked returns every tournament with persisted timer state plus the
// loaded ones. Used when promoting a standby.
func (e *Engine) Tracked(ctx context.Context) ([]uuid.UUID, error) {
	persisted, err := e.repo.TrackedTournaments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked tournaments: %w", err)
	}
	seen := make(map[uuid.UUID]bool, len(persisted))
	out := make([]uuid.UUID, 0, len(persisted))
	for _, id := range append(persisted, e.registry.IDs()...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// ensureLoaded returns the registry entry, recovering it on first use.
func (e *Engine) ensureLoaded(ctx context.Context, id uuid.UUID) (*entry, error) {
	if ent, ok := e.registry.get(id); ok {
		return ent, nil
	}
	if _, err := e.LoadOrRecover(ctx, id); err != nil && !errors.Is(err, ErrScheduleUnavailable) {
		return nil, err
	}
	ent, ok := e.registry.get(id)
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return ent, nil
}

// currentLevels returns the cached schedule, loading it when absent.
// Caller holds ent.mu.
func (e *Engine) currentLevels(ctx context.Context, ent *entry) ([]models.BlindLevel, error) {
	if len(ent.levels) > 0 {
		return ent.levels, nil
	}
	if err := e.refreshLevels(ctx, ent); err != nil {
		return nil, err
	}
	return ent.levels, nil
}

// refreshLevels reloads the schedule, keeping the cached copy on failure.
// Caller holds ent.mu.
func (e *Engine) refreshLevels(ctx context.Context, ent *entry) error {
	ent.lastScheduleAttempt = e.clock.Now()
	if e.schedules == nil {
		ent.scheduleErr = ErrScheduleUnavailable
		return ErrScheduleUnavailable
	}

	lctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	levels, err := e.schedules.Levels(lctx, ent.id)
	if err == nil && len(levels) == 0 {
		err = errors.New("empty schedule")
	}
	if err != nil {
		if len(ent.levels) > 0 {
			log.Warn().Err(err).Str("tournament_id", ent.id.String()).Msg("schedule refresh failed, using cached levels")
			return nil
		}
		ent.scheduleErr = fmt.Errorf("%w: %v", ErrScheduleUnavailable, err)
		return ent.scheduleErr
	}

	ent.levels = levels
	ent.scheduleErr = nil
	return nil
}

// accrue advances the counters by the whole milliseconds elapsed since the
// last tick. The sub-millisecond remainder stays in lastTick so nothing is
// lost across ticks. Caller holds ent.mu.
func (e *Engine) accrue(ent *entry, now time.Time) {
	if ent.lastTick.IsZero() {
		ent.lastTick = now
		return
	}
	delta := now.Sub(ent.lastTick) / time.Millisecond
	if delta <= 0 {
		return
	}
	ent.lastTick = ent.lastTick.Add(delta * time.Millisecond)

	ms := int64(delta)
	ent.state.ElapsedTime += ms
	if ent.state.RemainingTime != nil {
		rem := *ent.state.RemainingTime - ms
		ent.state.RemainingTime = &rem
	}
	ent.state.Tenths = tenthsOf(ent.state.ElapsedTime)
	ent.state.LastUpdateTime = now
}

// rollLevels performs every level transition owed by a non-positive remaining
// time, carrying the overflow into the next level. When the schedule runs
// out the timer ends; when it cannot be resolved the level is frozen.
// Caller holds ent.mu.
func (e *Engine) rollLevels(ctx context.Context, ent *entry, at time.Time) {
	for ent.state.IsRunning && ent.state.RemainingTime != nil && *ent.state.RemainingTime <= 0 {
		overflow := *ent.state.RemainingTime

		if ent.lastScheduleAttempt.IsZero() || at.Sub(ent.lastScheduleAttempt) >= e.cfg.PersistInterval {
			_ = e.refreshLevels(ctx, ent)
		}
		if len(ent.levels) == 0 {
			e.freeze(ent)
			return
		}
		ent.scheduleErr = nil
		ent.frozen = false

		prev := ent.state.Clone()
		zero := int64(0)
		ent.state.RemainingTime = &zero
		ent.state.LastUpdateTime = at
		e.record(ctx, ent, models.TimerEventLevelEnd, prev, at)

		next, ok := levelFor(ent.levels, ent.state.Level+1)
		if !ok {
			prev = ent.state.Clone()
			ent.state.IsRunning = false
			ent.state.IsPaused = false
			ent.state.RemainingTime = nil
			e.record(ctx, ent, models.TimerEventEnd, prev, at)

			log.Info().
				Str("tournament_id", ent.id.String()).
				Int("final_level", ent.state.Level).
				Msg("blind schedule exhausted, timer ended")
			return
		}

		prev = ent.state.Clone()
		rem := next.DurationMs() + overflow
		ent.state.Level = next.Level
		ent.state.RemainingTime = &rem
		e.record(ctx, ent, models.TimerEventLevelStart, prev, at)

		log.Info().
			Str("tournament_id", ent.id.String()).
			Int("level", next.Level).
			Bool("is_break", next.IsBreak).
			Msg("level started")
	}
}

// freeze holds the level at its last known value. Caller holds ent.mu.
func (e *Engine) freeze(ent *entry) {
	if ent.state.RemainingTime != nil && *ent.state.RemainingTime < 0 {
		zero := int64(0)
		ent.state.RemainingTime = &zero
	}
	if ent.scheduleErr == nil {
		ent.scheduleErr = ErrScheduleUnavailable
	}
	if ent.frozen {
		return
	}
	ent.frozen = true
	log.Error().
		Err(ent.scheduleErr).
		Str("tournament_id", ent.id.String()).
		Int("level", ent.state.Level).
		Msg("level frozen")
}

// record writes the transition event, its ledger record, its outbox row and
// the new state in one transaction. Failures are logged; the clock keeps
// going and the next persist retries the snapshot.
// Caller holds ent.mu.
func (e *Engine) record(ctx context.Context, ent *entry, eventType models.TimerEventType, prev models.TimerState, at time.Time) {
	event := models.TimerEvent{
		EventID:       uuid.New(),
		TournamentID:  ent.id,
		Timestamp:     at,
		EventType:     eventType,
		PreviousState: prev,
		NewState:      ent.state.Clone(),
		OriginDevice:  e.cfg.OriginDevice,
	}
	tr := Transition{Event: event}
	if payload, err := json.Marshal(event.NewState); err == nil {
		tr.Change = &models.ChangeRecord{
			ChangeID:       event.EventID,
			OriginID:       e.cfg.OriginDevice,
			EntityType:     models.EntityTimerState,
			Operation:      models.OperationUpdate,
			EntityID:       ent.id,
			Payload:        payload,
			LocalTimestamp: at.UnixMilli(),
		}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()

	if err := e.repo.RecordTransition(wctx, tr); err != nil {
		e.metrics.RecordPersistFailure("record_transition")
		log.Error().Err(err).
			Str("tournament_id", ent.id.String()).
			Str("event_type", string(eventType)).
			Msg("failed to record timer transition")
	} else {
		ent.lastPersist = at
	}
	e.metrics.RecordTransition(eventType)
}

// persist writes the snapshot. Caller holds ent.mu.
func (e *Engine) persist(ctx context.Context, ent *entry, at time.Time) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()

	if err := e.repo.SaveState(wctx, ent.id, ent.state); err != nil {
		e.metrics.RecordPersistFailure("save_state")
		log.Error().Err(err).Str("tournament_id", ent.id.String()).Msg("failed to persist timer state")
		return
	}
	ent.lastPersist = at
}

// notify publishes the current state. Caller holds ent.mu.
func (e *Engine) notify(ent *entry) {
	ent.hub.publish(ent.state.Clone())
}

func levelFor(levels []models.BlindLevel, n int) (models.BlindLevel, bool) {
	for _, l := range levels {
		if l.Level == n {
			return l, true
		}
	}
	return models.BlindLevel{}, false
}

func tenthsOf(elapsedMs int64) int {
	return int((elapsedMs % 1000) / 100)
}
