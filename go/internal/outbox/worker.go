package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrWorkerRunning    = errors.New("outbox worker already running")
	ErrWorkerNotRunning = errors.New("outbox worker not running")
)

// Store is the slice of the repository the worker drives.
type Store interface {
	FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkSent(ctx context.Context, ids []uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause error) error
	CountPending(ctx context.Context) (int, error)
}

// RoleSource gates relaying to the primary.
type RoleSource interface {
	IsPrimary() bool
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Worker relays unsent outbox rows to the publisher. Events are published
// before they are marked sent; JetStream dedupes on the event id.
type Worker struct {
	store     Store
	publisher EventPublisher
	role      RoleSource
	metrics   MetricsCollector
	clock     clockwork.Clock
	config    Config

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processed uint64
	lastEvent time.Time
}

func NewWorker(store Store, publisher EventPublisher, role RoleSource, metrics MetricsCollector, clock clockwork.Clock, cfg Config) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Worker{
		store:     store,
		publisher: publisher,
		role:      role,
		metrics:   metrics,
		clock:     clock,
		config:    cfg,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWorkerRunning
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("batch_size", w.config.BatchSize).
		Msg("outbox worker started")
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	log.Info().Msg("outbox worker stopped")
	return nil
}

// Running reports whether the relay loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns the number of relayed events and when the last one went out.
func (w *Worker) Stats() (uint64, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed, w.lastEvent
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("outbox relay failed")
	}
}

// ProcessOnce relays one batch and returns how many events went out.
// Standbys relay nothing.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	if w.role != nil && !w.role.IsPrimary() {
		return 0, nil
	}
	start := w.clock.Now()

	events, err := w.store.FetchUnsent(ctx, w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		w.metrics.RecordOutboxLag(0)
		return 0, nil
	}

	log.Debug().Int("count", len(events)).Msg("processing outbox events")

	var sent []uuid.UUID
	for _, event := range events {
		began := w.clock.Now()
		err := w.publishWithRetry(ctx, event)
		w.metrics.RecordEventProcessed(event.EventType, err == nil, w.clock.Since(began))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Msg("failed to publish event")
			if rerr := w.store.RecordFailure(ctx, event.ID, err); rerr != nil {
				log.Error().Err(rerr).Msg("failed to record publish failure")
			}
			continue
		}
		sent = append(sent, event.ID)
	}

	if err := w.store.MarkSent(ctx, sent); err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.processed += uint64(len(sent))
	if len(sent) > 0 {
		w.lastEvent = w.clock.Now()
	}
	w.mu.Unlock()

	if pending, err := w.store.CountPending(ctx); err == nil {
		w.metrics.RecordOutboxLag(pending)
	}
	w.metrics.RecordBatchProcessed(len(sent), w.clock.Since(start))

	log.Info().
		Int("total", len(events)).
		Int("successful", len(sent)).
		Msg("processed outbox events")
	return len(sent), nil
}

func (w *Worker) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 && w.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.clock.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := w.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			w.metrics.RecordPublishAttempt(event.EventType, attempt+1, false)
			log.Warn().Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}

		w.metrics.RecordPublishAttempt(event.EventType, attempt+1, true)
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
