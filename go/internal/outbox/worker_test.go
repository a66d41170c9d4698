package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	failures map[string]int
	got      []OutboxEvent
	calls    int
}

func (p *recordingPublisher) Publish(_ context.Context, ev OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures[ev.EventType] > 0 {
		p.failures[ev.EventType]--
		return errors.New("nats: timeout")
	}
	p.got = append(p.got, ev)
	return nil
}

type role bool

func (r role) IsPrimary() bool { return bool(r) }

func newTestRepository(t *testing.T) (*Repository, *clockwork.FakeClock) {
	t.Helper()
	db, err := database.OpenAndMigrate(dbconfig.Config{
		Path:          filepath.Join(t.TempDir(), "outbox.db"),
		BusyTimeoutMs: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC))
	return NewRepository(database.StaticProvider(db), clock), clock
}

func timerEvent(tournamentID uuid.UUID, typ models.TimerEventType) models.TimerEvent {
	return models.TimerEvent{
		EventID:      uuid.New(),
		TournamentID: tournamentID,
		EventType:    typ,
		OriginDevice: "server",
		NewState:     models.TimerState{IsRunning: true, Level: 1},
	}
}

func TestRepositoryQueuesTimerAndFailoverEvents(t *testing.T) {
	repo, clock := newTestRepository(t)
	ctx := context.Background()
	tournament := uuid.New()

	ev := timerEvent(tournament, models.TimerEventStart)
	require.NoError(t, repo.InsertTimerEvent(ctx, repo.db.DB(), ev))
	// same event id twice is one row
	require.NoError(t, repo.InsertTimerEvent(ctx, repo.db.DB(), ev))
	clock.Advance(time.Millisecond)
	require.NoError(t, repo.InsertFailoverEvent(ctx, models.FailoverEvent{
		Type: models.FailoverTriggered,
		Role: models.RoleStandby,
	}))

	events, err := repo.FetchUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, ev.EventID, events[0].ID)
	assert.Equal(t, tournament, events[0].TournamentID)
	assert.Equal(t, "timer.start", events[0].EventType)
	var decoded models.TimerEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &decoded))
	assert.Equal(t, 1, decoded.NewState.Level)

	assert.Equal(t, uuid.Nil, events[1].TournamentID)
	assert.Equal(t, "failover.failover_triggered", events[1].EventType)

	require.NoError(t, repo.MarkSent(ctx, []uuid.UUID{events[0].ID}))
	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestWorkerRelaysAndMarksSent(t *testing.T) {
	repo, clock := newTestRepository(t)
	ctx := context.Background()
	tournament := uuid.New()
	for _, typ := range []models.TimerEventType{models.TimerEventStart, models.TimerEventPause, models.TimerEventResume} {
		require.NoError(t, repo.InsertTimerEvent(ctx, repo.db.DB(), timerEvent(tournament, typ)))
		clock.Advance(time.Millisecond)
	}

	pub := &recordingPublisher{failures: map[string]int{"timer.pause": 1}}
	w := NewWorker(repo, pub, role(true), nil, clock, Config{BatchSize: 10, MaxRetries: 2})

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, pub.calls, "pause retried once")

	var types []string
	for _, ev := range pub.got {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{"timer.start", "timer.pause", "timer.resume"}, types)

	processed, last := w.Stats()
	assert.EqualValues(t, 3, processed)
	assert.Equal(t, clock.Now(), last)

	n, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerKeepsFailedEventsPending(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertTimerEvent(ctx, repo.db.DB(), timerEvent(uuid.New(), models.TimerEventEnd)))

	pub := &recordingPublisher{failures: map[string]int{"timer.end": 10}}
	w := NewWorker(repo, pub, role(true), nil, nil, Config{MaxRetries: 1})

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	events, err := repo.FetchUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Attempts)
}

func TestWorkerIdleOnStandby(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertTimerEvent(ctx, repo.db.DB(), timerEvent(uuid.New(), models.TimerEventStart)))

	pub := &recordingPublisher{}
	w := NewWorker(repo, pub, role(false), nil, nil, DefaultConfig())

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, pub.calls)
}

func TestWorkerStartStop(t *testing.T) {
	repo, clock := newTestRepository(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	w := NewWorker(repo, pub, role(true), nil, clock, Config{PollInterval: time.Second})

	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), ErrWorkerRunning)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, repo.InsertTimerEvent(ctx, repo.db.DB(), timerEvent(uuid.New(), models.TimerEventStart)))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		processed, _ := w.Stats()
		return processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.Running())
	assert.ErrorIs(t, w.Stop(), ErrWorkerNotRunning)
}
