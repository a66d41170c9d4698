package timer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// tickTask is one tournament's periodic tick goroutine.
type tickTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startTicking launches the tick goroutine. Caller holds ent.mu.
func (e *Engine) startTicking(ent *entry) error {
	if !e.role.IsPrimary() {
		return ErrNotPrimary
	}
	if ent.stopping {
		return ErrTournamentNotFound
	}
	if ent.task != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := e.clock.NewTicker(e.cfg.TickInterval)
	t := &tickTask{cancel: cancel, done: make(chan struct{})}
	ent.task = t

	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.tick(ctx, ent, t)
			}
		}
	}()

	e.metrics.SetActiveTimers(e.registry.Len())
	log.Debug().
		Str("tournament_id", ent.id.String()).
		Dur("interval", e.cfg.TickInterval).
		Msg("tick task started")
	return nil
}

// detachTask cancels the tick task and clears it from the entry. The
// returned task must be waited on after ent.mu is released.
// Caller holds ent.mu.
func detachTask(ent *entry) *tickTask {
	t := ent.task
	if t == nil {
		return nil
	}
	ent.task = nil
	t.cancel()
	return t
}

// waitStopped blocks until the tick goroutine has exited.
func waitStopped(t *tickTask) {
	if t == nil {
		return
	}
	<-t.done
}

// tick advances a running timer by the measured time since the last tick.
func (e *Engine) tick(ctx context.Context, ent *entry, t *tickTask) {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	// a task detached while this tick waited on the lock must not mutate state
	if ent.task != t || ctx.Err() != nil {
		return
	}
	if !ent.state.IsRunning || ent.state.IsPaused {
		return
	}

	now := e.clock.Now()
	e.accrue(ent, now)

	if ent.state.RemainingTime != nil && *ent.state.RemainingTime <= 0 {
		// retries the schedule at most once per persist interval while frozen
		e.rollLevels(ctx, ent, now)
		if !ent.state.IsRunning {
			detachTask(ent)
		}
	}
	if ent.state.IsRunning && now.Sub(ent.lastPersist) >= e.cfg.PersistInterval {
		e.persist(ctx, ent, now)
	}

	e.notify(ent)
	e.metrics.RecordTick(ent.id)
}

// elapsedSince returns whole milliseconds between then and now, never negative.
func elapsedSince(then, now time.Time) int64 {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return int64(d / time.Millisecond)
}
