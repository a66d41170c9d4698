package timer

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningState(level int, elapsed, remaining int64, at time.Time) models.TimerState {
	return models.TimerState{
		IsRunning:      true,
		Level:          level,
		ElapsedTime:    elapsed,
		RemainingTime:  &remaining,
		LastUpdateTime: at,
	}
}

func TestRecoverCatchesUpRunningTimer(t *testing.T) {
	h := newHarness(t, twoLevels())
	ctx := context.Background()
	h.repo.states[h.id] = runningState(1, 600_000, 600_000, h.clock.Now().Add(-5*time.Minute))

	st, err := h.engine.LoadOrRecover(ctx, h.id)
	require.NoError(t, err)

	assert.InDelta(t, 900_000, st.ElapsedTime, 1000)
	assert.InDelta(t, 300_000, st.Remaining(), 1000)
	assert.Equal(t, 1, st.Level)
	assert.True(t, h.hasTask(t))

	h.step(t, time.Second)
	st, err = h.engine.GetState(h.id)
	require.NoError(t, err)
	assert.Equal(t, int64(901_000), st.ElapsedTime)
}

func TestRecoverReplaysOwedTransitions(t *testing.T) {
	h := newHarness(t, twoLevels())
	h.repo.states[h.id] = runningState(1, 600_000, 600_000, h.clock.Now().Add(-15*time.Minute))

	st, err := h.engine.LoadOrRecover(context.Background(), h.id)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Level)
	assert.Equal(t, int64(900_000), st.Remaining())
	assert.Len(t, h.repo.eventsOf(models.TimerEventLevelEnd), 1)
	assert.Len(t, h.repo.eventsOf(models.TimerEventLevelStart), 1)
	assert.Equal(t, 2, h.repo.saved(h.id).Level)
}

func TestRecoverPausedTimerStaysPut(t *testing.T) {
	h := newHarness(t, twoLevels())
	paused := runningState(1, 60_000, 1_140_000, h.clock.Now().Add(-time.Hour))
	paused.IsPaused = true
	h.repo.states[h.id] = paused

	st, err := h.engine.LoadOrRecover(context.Background(), h.id)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), st.ElapsedTime)
	assert.Equal(t, models.TimerPhasePaused, st.Phase())
	assert.False(t, h.hasTask(t))
}

func TestRecoverOnStandbyDoesNotTick(t *testing.T) {
	h := newHarness(t, twoLevels())
	h.role.set(false)
	h.repo.states[h.id] = runningState(1, 0, 1_200_000, h.clock.Now().Add(-time.Minute))

	st, err := h.engine.LoadOrRecover(context.Background(), h.id)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), st.ElapsedTime)
	assert.False(t, h.hasTask(t))

	// promotion loads it again and the tick task starts
	h.role.set(true)
	_, err = h.engine.LoadOrRecover(context.Background(), h.id)
	require.NoError(t, err)
	assert.True(t, h.hasTask(t))
}

func TestRecoverWithoutScheduleKeepsTicking(t *testing.T) {
	h := newHarness(t, twoLevels())
	ctx := context.Background()
	h.schedules.fail(errScheduleDown)
	h.repo.states[h.id] = runningState(1, 600_000, 600_000, h.clock.Now().Add(-5*time.Minute))

	st, err := h.engine.LoadOrRecover(ctx, h.id)
	assert.ErrorIs(t, err, ErrScheduleUnavailable)
	assert.Equal(t, 1, st.Level)
	assert.Equal(t, int64(300_000), st.Remaining())
	assert.True(t, h.hasTask(t))

	h.step(t, time.Second)
	st, err = h.engine.GetState(h.id)
	require.NoError(t, err)
	assert.Equal(t, int64(901_000), st.ElapsedTime)
	assert.Equal(t, int64(299_000), st.Remaining())
	assert.Equal(t, int64(901_000), h.repo.saved(h.id).ElapsedTime)
}

func TestRecoverFrozenLevelThawsOnTick(t *testing.T) {
	h := newHarness(t, twoLevels())
	ctx := context.Background()
	h.schedules.fail(errScheduleDown)
	h.repo.states[h.id] = runningState(1, 1_199_000, 1000, h.clock.Now().Add(-5*time.Second))

	st, err := h.engine.LoadOrRecover(ctx, h.id)
	assert.ErrorIs(t, err, ErrScheduleUnavailable)
	assert.Equal(t, 1, st.Level)
	assert.Equal(t, int64(0), st.Remaining())
	assert.True(t, h.hasTask(t))
	assert.Empty(t, h.repo.eventsOf(models.TimerEventLevelEnd))

	// still down: the level holds at zero while elapsed keeps counting
	h.step(t, time.Second)
	st, err = h.engine.GetState(h.id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Level)
	assert.Equal(t, int64(0), st.Remaining())
	assert.Equal(t, int64(1_205_000), st.ElapsedTime)

	h.schedules.fail(nil)
	h.step(t, time.Second)
	st, err = h.engine.GetState(h.id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Level)
	assert.Equal(t, int64(1_199_000), st.Remaining())
	assert.Len(t, h.repo.eventsOf(models.TimerEventLevelEnd), 1)
	assert.Len(t, h.repo.eventsOf(models.TimerEventLevelStart), 1)
	assert.True(t, h.hasTask(t))
	assert.Equal(t, 2, h.repo.saved(h.id).Level)
}

func TestRecoverUnknownTournament(t *testing.T) {
	h := newHarness(t, twoLevels())
	delete(h.repo.tournaments, h.id)

	_, err := h.engine.LoadOrRecover(context.Background(), h.id)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestRecoverIdleTimer(t *testing.T) {
	h := newHarness(t, twoLevels())

	st, err := h.engine.LoadOrRecover(context.Background(), h.id)
	require.NoError(t, err)
	assert.Equal(t, models.TimerPhaseIdle, st.Phase())
	assert.Nil(t, st.RemainingTime)
}
