package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakeProber) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeTimers struct {
	mu        sync.Mutex
	tracked   []uuid.UUID
	recovered []uuid.UUID
	stopAll   int
	primary   func() bool
	sawRole   []bool
}

func (f *fakeTimers) Tracked(context.Context) ([]uuid.UUID, error) {
	return f.tracked, nil
}

func (f *fakeTimers) LoadOrRecover(_ context.Context, id uuid.UUID) (models.TimerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, id)
	if f.primary != nil {
		f.sawRole = append(f.sawRole, f.primary())
	}
	return models.TimerState{IsRunning: true}, nil
}

func (f *fakeTimers) StopAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAll++
}

func (f *fakeTimers) snapshot() ([]uuid.UUID, int, []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.recovered...), f.stopAll, append([]bool(nil), f.sawRole...)
}

type memSink struct {
	mu     sync.Mutex
	events []models.FailoverEvent
}

func (s *memSink) InsertFailoverEvent(_ context.Context, ev models.FailoverEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) types() []models.FailoverEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FailoverEventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	clock  *clockwork.FakeClock
	prober *fakeProber
	timers *fakeTimers
	sink   *memSink
	coord  *Coordinator
	events <-chan models.FailoverEvent
	ctx    context.Context
}

func newHarness(t *testing.T, role models.Role) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	prober := &fakeProber{}
	timers := &fakeTimers{tracked: []uuid.UUID{uuid.New(), uuid.New()}}
	sink := &memSink{}
	coord := NewCoordinator(role, Dependencies{
		Prober: prober,
		Timers: timers,
		Sink:   sink,
		Clock:  clock,
	}, DefaultConfig())
	timers.primary = coord.IsPrimary

	events, release := coord.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		coord.Stop()
		release()
		cancel()
	})
	return &harness{clock: clock, prober: prober, timers: timers, sink: sink, coord: coord, events: events, ctx: ctx}
}

// start launches the coordinator and waits for its first ticker.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.coord.Start(h.ctx)
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
}

// next returns the next event, skipping heartbeat_sent noise.
func (h *harness) next(t *testing.T) models.FailoverEvent {
	t.Helper()
	for {
		select {
		case ev := <-h.events:
			if ev.Type == models.FailoverHeartbeatSent {
				continue
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for failover event")
		}
	}
}

// beat advances one heartbeat interval and returns the resulting event.
func (h *harness) beat(t *testing.T) models.FailoverEvent {
	t.Helper()
	h.clock.Advance(time.Second)
	return h.next(t)
}

func (h *harness) failOver(t *testing.T) time.Time {
	t.Helper()
	h.prober.set(errDown)
	for i := 1; i < 5; i++ {
		ev := h.beat(t)
		require.Equal(t, models.FailoverFailureDetected, ev.Type)
		require.Equal(t, i, ev.ConsecutiveFailures)
	}
	require.Equal(t, models.FailoverFailureDetected, h.beat(t).Type)
	trig := h.next(t)
	require.Equal(t, models.FailoverTriggered, trig.Type)
	require.Eventually(t, func() bool { return h.coord.Role() == models.RolePrimary }, 2*time.Second, 5*time.Millisecond)
	return trig.At
}

func TestFailoverTriggersWithinBound(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	started := h.clock.Now()
	h.start(t)

	triggeredAt := h.failOver(t)
	assert.LessOrEqual(t, triggeredAt.Sub(started), 6*time.Second)

	st := h.coord.Status()
	assert.True(t, st.HasFailedOver)
	assert.True(t, st.IsHealthy)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	require.NotNil(t, st.FailoverTime)
	// promotion runs without the clock moving, well inside its 5s budget
	assert.LessOrEqual(t, st.FailoverTime.Sub(triggeredAt), 5*time.Second)

	recovered, _, sawRole := h.timers.snapshot()
	assert.ElementsMatch(t, h.timers.tracked, recovered)
	for _, primary := range sawRole {
		assert.True(t, primary, "tick tasks must be allowed during promotion")
	}
	assert.Equal(t, []models.FailoverEventType{models.FailoverTriggered}, h.sink.types())
}

func TestSuccessfulProbeResetsCounter(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	h.start(t)

	h.prober.set(errDown)
	for i := 0; i < 4; i++ {
		require.Equal(t, models.FailoverFailureDetected, h.beat(t).Type)
	}
	assert.Equal(t, 4, h.coord.Status().ConsecutiveFailures)

	h.prober.set(nil)
	ev := h.beat(t)
	assert.Equal(t, models.FailoverHeartbeatReceived, ev.Type)
	st := h.coord.Status()
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.True(t, st.IsHealthy)
	assert.NotNil(t, st.LastHeartbeat)

	h.prober.set(errDown)
	for i := 1; i <= 4; i++ {
		assert.Equal(t, i, h.beat(t).ConsecutiveFailures)
	}
	assert.Equal(t, models.RoleStandby, h.coord.Role())
	assert.False(t, h.coord.IsPrimary())
}

func TestReportedProbeReplacesOwnProbe(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	h.start(t)

	h.coord.ReportProbe(errDown)
	ev := h.beat(t)
	assert.Equal(t, models.FailoverFailureDetected, ev.Type)
	assert.Equal(t, "connection refused", ev.Error)
	assert.Equal(t, 0, h.prober.count())

	// no report pending: the coordinator probes itself
	ev = h.beat(t)
	assert.Equal(t, models.FailoverHeartbeatReceived, ev.Type)
	assert.Equal(t, 1, h.prober.count())
}

func TestTriggerFiresOnce(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	h.start(t)
	h.failOver(t)

	assert.ErrorIs(t, h.coord.Promote(h.ctx), ErrAlreadyPrimary)
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, []models.FailoverEventType{models.FailoverTriggered}, h.sink.types())
}

func TestPrimaryRecoveredReportedOnce(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	h.start(t)
	h.failOver(t)

	h.prober.set(nil)
	require.Eventually(t, func() bool {
		h.clock.Advance(time.Second)
		return len(h.sink.types()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, []models.FailoverEventType{models.FailoverTriggered, models.FailoverPrimaryRecovered}, h.sink.types())
	assert.Equal(t, models.RolePrimary, h.coord.Role(), "recovery never demotes")
}

func TestPrimaryEmitsHeartbeats(t *testing.T) {
	h := newHarness(t, models.RolePrimary)
	h.start(t)

	h.clock.Advance(time.Second)
	select {
	case ev := <-h.events:
		assert.Equal(t, models.FailoverHeartbeatSent, ev.Type)
		assert.Equal(t, models.RolePrimary, ev.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat emitted")
	}
	assert.True(t, h.coord.IsPrimary())
	assert.Equal(t, 0, h.prober.count())
}

func TestReportProbeIgnoredOnPrimary(t *testing.T) {
	h := newHarness(t, models.RolePrimary)
	h.coord.ReportProbe(errDown)
	assert.Nil(t, h.coord.report)
}

func TestDemoteRestartsMonitor(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	var demoted int
	h.coord.OnDemote(func(context.Context) error {
		demoted++
		return nil
	})
	h.start(t)
	h.failOver(t)

	require.NoError(t, h.coord.Demote(h.ctx))
	assert.Equal(t, 1, demoted)
	_, stops, _ := h.timers.snapshot()
	assert.Equal(t, 1, stops)

	st := h.coord.Status()
	assert.Equal(t, models.RoleStandby, st.Role)
	assert.False(t, st.HasFailedOver)
	assert.False(t, h.coord.IsPrimary())
	assert.ErrorIs(t, h.coord.Demote(h.ctx), ErrNotPrimary)

	// the monitor is back and counts from zero
	h.prober.set(errDown)
	require.Eventually(t, func() bool {
		h.clock.Advance(time.Second)
		return h.coord.Status().ConsecutiveFailures >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.RoleStandby, h.coord.Role())
}

func TestPromoteHooksRunBeforeRecovery(t *testing.T) {
	h := newHarness(t, models.RoleStandby)
	var order []string
	var mu sync.Mutex
	h.coord.OnPromote(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		recovered, _, _ := h.timers.snapshot()
		order = append(order, "hook")
		assert.Empty(t, recovered)
		return errors.New("poller already stopped")
	})
	h.start(t)

	require.NoError(t, h.coord.Promote(h.ctx))
	mu.Lock()
	assert.Equal(t, []string{"hook"}, order)
	mu.Unlock()
	assert.Equal(t, models.RolePrimary, h.coord.Role())
	recovered, _, _ := h.timers.snapshot()
	assert.Len(t, recovered, 2)
}

func TestRoleChangesBeforeStart(t *testing.T) {
	c := NewCoordinator(models.RoleStandby, Dependencies{Clock: clockwork.NewFakeClock()}, Config{})
	assert.ErrorIs(t, c.Promote(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, c.Demote(context.Background()), ErrNotStarted)
	assert.Equal(t, DefaultConfig().FailureThreshold, c.cfg.FailureThreshold)
}
