package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/require"
)

var errScheduleDown = errors.New("schedule store down")

type memRepo struct {
	mu          sync.Mutex
	tournaments map[uuid.UUID]bool
	states      map[uuid.UUID]models.TimerState
	events      []models.TimerEvent
	changes     []models.ChangeRecord

	// onSave runs before a snapshot is stored
	onSave func(id uuid.UUID)
}

func newMemRepo(ids ...uuid.UUID) *memRepo {
	r := &memRepo{
		tournaments: make(map[uuid.UUID]bool),
		states:      make(map[uuid.UUID]models.TimerState),
	}
	for _, id := range ids {
		r.tournaments[id] = true
	}
	return r
}

func (r *memRepo) LoadState(_ context.Context, id uuid.UUID) (*models.TimerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return nil, nil
	}
	st = st.Clone()
	return &st, nil
}

func (r *memRepo) SaveState(_ context.Context, id uuid.UUID, st models.TimerState) error {
	r.mu.Lock()
	hook := r.onSave
	r.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = st.Clone()
	return nil
}

func (r *memRepo) RecordTransition(_ context.Context, tr Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, tr.Event)
	if tr.Change != nil {
		r.changes = append(r.changes, *tr.Change)
	}
	r.states[tr.Event.TournamentID] = tr.Event.NewState.Clone()
	return nil
}

func (r *memRepo) TournamentExists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tournaments[id], nil
}

func (r *memRepo) TrackedTournaments(context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memRepo) eventsOf(t models.TimerEventType) []models.TimerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TimerEvent
	for _, ev := range r.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memRepo) saved(id uuid.UUID) models.TimerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id].Clone()
}

type memSchedules struct {
	mu     sync.Mutex
	levels []models.BlindLevel
	err    error
	calls  int
}

func (s *memSchedules) Levels(context.Context, uuid.UUID) ([]models.BlindLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.BlindLevel(nil), s.levels...), nil
}

func (s *memSchedules) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type switchRole struct {
	mu      sync.Mutex
	primary bool
}

func (r *switchRole) IsPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

func (r *switchRole) set(v bool) {
	r.mu.Lock()
	r.primary = v
	r.mu.Unlock()
}

// twoLevels is 20 minutes of 25/50 followed by 20 minutes of 50/100.
func twoLevels() []models.BlindLevel {
	return []models.BlindLevel{
		{Level: 1, SmallBlind: 25, BigBlind: 50, DurationMinutes: 20},
		{Level: 2, SmallBlind: 50, BigBlind: 100, DurationMinutes: 20},
	}
}

type harness struct {
	engine    *Engine
	clock     *clockwork.FakeClock
	repo      *memRepo
	schedules *memSchedules
	role      *switchRole
	id        uuid.UUID
}

func newHarness(t *testing.T, levels []models.BlindLevel) *harness {
	t.Helper()
	id := uuid.New()
	h := &harness{
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)),
		repo:      newMemRepo(id),
		schedules: &memSchedules{levels: levels},
		role:      &switchRole{primary: true},
		id:        id,
	}
	h.engine = h.newEngine()
	t.Cleanup(func() { h.engine.StopAll(context.Background()) })
	return h
}

// newEngine builds an engine over the harness collaborators. The ticker
// interval is long enough that it never fires on its own; tests drive ticks
// through step.
func (h *harness) newEngine() *Engine {
	return NewEngine(Dependencies{
		Repo:      h.repo,
		Schedules: h.schedules,
		Role:      h.role,
		Clock:     h.clock,
	}, Config{
		TickInterval:    24 * time.Hour,
		PersistInterval: time.Second,
		WriteTimeout:    time.Second,
		OriginDevice:    "test",
	})
}

// step advances the clock by d and runs one tick.
func (h *harness) step(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	h.tick(t)
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	ent, ok := h.engine.registry.get(h.id)
	require.True(t, ok)
	ent.mu.Lock()
	task := ent.task
	ent.mu.Unlock()
	if task == nil {
		return
	}
	h.engine.tick(context.Background(), ent, task)
}

func (h *harness) hasTask(t *testing.T) bool {
	t.Helper()
	ent, ok := h.engine.registry.get(h.id)
	require.True(t, ok)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.task != nil
}
