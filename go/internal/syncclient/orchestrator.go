package syncclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/ledger"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

type Config struct {
	OriginID    string
	Interval    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	PullLimit   int
}

func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BaseBackoff: time.Minute,
		MaxBackoff:  time.Hour,
		PullLimit:   ledger.DefaultPageSize,
	}
}

// Orchestrator is the device side of sync. Local edits are applied to the
// local store and queued in one transaction; Sync uploads them one at a time
// and then pulls the server's changes.
type Orchestrator struct {
	db        database.Provider
	transport Transport
	store     *entity.Store
	queue     *Queue
	changes   *ledger.Repository
	clock     clockwork.Clock
	cfg       Config

	// serializes Sync passes
	mu sync.Mutex
}

func New(db database.Provider, transport Transport, store *entity.Store, clock clockwork.Clock, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.PullLimit <= 0 {
		cfg.PullLimit = def.PullLimit
	}
	if cfg.OriginID == "" {
		cfg.OriginID = "device-" + uuid.NewString()[:8]
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		db:        db,
		transport: transport,
		store:     store,
		queue:     NewQueue(),
		changes:   ledger.NewRepository(),
		clock:     clock,
		cfg:       cfg,
	}
}

// OriginID identifies this device in every change it queues.
func (o *Orchestrator) OriginID() string {
	return o.cfg.OriginID
}

// QueueChange stamps change with this device's origin and local time,
// applies it locally and queues it for upload.
func (o *Orchestrator) QueueChange(ctx context.Context, change models.ChangeRecord) (models.ChangeRecord, error) {
	if change.ChangeID == uuid.Nil {
		change.ChangeID = uuid.New()
	}
	if !change.Operation.Valid() {
		return change, fmt.Errorf("invalid operation %q", change.Operation)
	}
	now := o.clock.Now()
	change.OriginID = o.cfg.OriginID
	change.LocalTimestamp = now.UnixMilli()
	change.ServerTimestamp = 0

	err := sqlutil.Run(ctx, o.db.DB(), func(tx *sql.Tx) error {
		if err := o.applyLocal(ctx, tx, change); err != nil {
			return err
		}
		return o.queue.Enqueue(ctx, tx, change, now)
	})
	if err != nil {
		return change, fmt.Errorf("failed to queue change: %w", err)
	}

	log.Debug().
		Str("change_id", change.ChangeID.String()).
		Str("entity_type", change.EntityType).
		Str("operation", string(change.Operation)).
		Msg("change queued")
	return change, nil
}

// Pending returns every queued change.
func (o *Orchestrator) Pending(ctx context.Context) ([]models.SyncQueueItem, error) {
	return o.queue.All(ctx, o.db.DB())
}

// LastSync returns the download cursor.
func (o *Orchestrator) LastSync(ctx context.Context) (int64, error) {
	return o.queue.LastSync(ctx, o.db.DB())
}

// Sync runs one upload pass then one download pass. Per-item failures are
// collected in the result; the returned error is set only when the local
// database fails.
func (o *Orchestrator) Sync(ctx context.Context) (models.SyncResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := models.SyncResult{Conflicts: []models.Conflict{}}
	if err := o.upload(ctx, &result); err != nil {
		return result, err
	}
	if err := o.download(ctx, &result); err != nil {
		result.Errors = append(result.Errors, err)
	}

	log.Info().
		Int("uploaded", result.Uploaded).
		Int("downloaded", result.Downloaded).
		Int("conflicts", len(result.Conflicts)).
		Int("errors", len(result.Errors)).
		Msg("sync pass finished")
	return result, nil
}

func (o *Orchestrator) upload(ctx context.Context, result *models.SyncResult) error {
	db := o.db.DB()
	items, err := o.queue.Due(ctx, db, o.clock.Now())
	if err != nil {
		return err
	}
	lastSync, err := o.queue.LastSync(ctx, db)
	if err != nil {
		return err
	}

	for _, item := range items {
		resp, err := o.transport.Upload(ctx, models.SyncUploadRequest{
			OriginID:          o.cfg.OriginID,
			Changes:           []models.ChangeRecord{item.Change},
			LastSyncTimestamp: lastSync,
		})
		if err != nil {
			result.Errors = append(result.Errors, err)
			if ferr := o.fail(ctx, item, err); ferr != nil {
				return ferr
			}
			if errors.Is(err, ErrServerUnreachable) {
				// the rest would fail the same way; their backoff is untouched
				break
			}
			continue
		}

		var resolved *models.Conflict
		for i, c := range resp.Conflicts {
			result.Conflicts = append(result.Conflicts, c)
			if c.ChangeID == item.ChangeID && c.Resolved {
				resolved = &resp.Conflicts[i]
			}
		}

		if resp.Accepted > 0 {
			if err := o.queue.Delete(ctx, db, item.ChangeID); err != nil {
				return err
			}
			result.Uploaded++
			continue
		}
		if resolved != nil {
			if err := o.settle(ctx, item, *resolved); err != nil {
				return err
			}
			continue
		}

		cause := fmt.Errorf("%w: change %s", ErrConflictPending, item.ChangeID)
		if ferr := o.fail(ctx, item, cause); ferr != nil {
			return ferr
		}
	}
	return nil
}

// settle replaces the local edit with the server's resolution and drops the
// item from the queue in one transaction.
func (o *Orchestrator) settle(ctx context.Context, item models.SyncQueueItem, c models.Conflict) error {
	change := item.Change
	change.Operation = models.OperationUpdate
	change.Payload = c.ResolvedVersion
	if c.ResolvedDeleted {
		change.Operation = models.OperationDelete
		change.Payload = nil
	}

	err := sqlutil.Run(ctx, o.db.DB(), func(tx *sql.Tx) error {
		// an empty version without a delete carries nothing to apply
		if c.ResolvedDeleted || len(c.ResolvedVersion) > 0 {
			if err := o.applyLocal(ctx, tx, change); err != nil {
				return err
			}
		}
		return o.queue.Delete(ctx, tx, item.ChangeID)
	})
	if err != nil {
		return fmt.Errorf("failed to apply resolution %s: %w", c.ConflictID, err)
	}

	strategy := ""
	if c.Strategy != nil {
		strategy = string(*c.Strategy)
	}
	log.Info().
		Str("change_id", item.ChangeID.String()).
		Str("conflict_id", c.ConflictID.String()).
		Str("strategy", strategy).
		Bool("deleted", c.ResolvedDeleted).
		Msg("applied conflict resolution")
	return nil
}

// fail reschedules item with exponential backoff.
func (o *Orchestrator) fail(ctx context.Context, item models.SyncQueueItem, cause error) error {
	now := o.clock.Now()
	item.NextRetry = now.Add(o.Backoff(item.RetryCount))
	item.RetryCount++
	item.LastAttempt = &now
	item.LastError = cause.Error()

	log.Warn().Err(cause).
		Str("change_id", item.ChangeID.String()).
		Int("retry_count", item.RetryCount).
		Time("next_retry", item.NextRetry).
		Msg("queued change not acknowledged")
	return o.queue.MarkFailed(ctx, o.db.DB(), item)
}

// Backoff returns base·2^retries capped at the configured maximum.
func (o *Orchestrator) Backoff(retries int) time.Duration {
	d := o.cfg.BaseBackoff
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= o.cfg.MaxBackoff {
			return o.cfg.MaxBackoff
		}
	}
	if d > o.cfg.MaxBackoff {
		return o.cfg.MaxBackoff
	}
	return d
}

// download pulls pages until a short page. Each page is applied in one
// transaction together with the cursor, so a failure leaves no gap.
func (o *Orchestrator) download(ctx context.Context, result *models.SyncResult) error {
	since, err := o.queue.LastSync(ctx, o.db.DB())
	if err != nil {
		return err
	}

	for {
		page, err := o.transport.Pull(ctx, since, o.cfg.PullLimit)
		if err != nil {
			return err
		}
		if len(page.Changes) == 0 {
			return nil
		}

		err = sqlutil.Run(ctx, o.db.DB(), func(tx *sql.Tx) error {
			for _, change := range page.Changes {
				if err := o.applyRemote(ctx, tx, change); err != nil {
					return err
				}
			}
			return o.queue.SetLastSync(ctx, tx, page.ServerTimestamp)
		})
		if err != nil {
			return fmt.Errorf("failed to apply batch after %d: %w", since, err)
		}

		result.Downloaded += len(page.Changes)
		log.Debug().
			Int("changes", len(page.Changes)).
			Int64("last_sync", page.ServerTimestamp).
			Msg("applied server changes")

		if len(page.Changes) < o.cfg.PullLimit || page.ServerTimestamp <= since {
			return nil
		}
		since = page.ServerTimestamp
	}
}

// applyRemote mirrors one server record into the local store and ledger.
func (o *Orchestrator) applyRemote(ctx context.Context, tx *sql.Tx, change models.ChangeRecord) error {
	seen, err := o.changes.GetByChangeID(ctx, tx, change.ChangeID)
	if err != nil {
		return err
	}
	if seen != nil {
		return nil
	}
	if err := o.applyLocal(ctx, tx, change); err != nil {
		return err
	}
	return o.changes.Insert(ctx, tx, change)
}

// applyLocal writes change into the entity store. Types without a mapping
// (timer_state) are only ledgered.
func (o *Orchestrator) applyLocal(ctx context.Context, tx *sql.Tx, change models.ChangeRecord) error {
	if _, ok := o.store.Mapping(change.EntityType); !ok {
		return nil
	}
	var version json.RawMessage
	if change.Operation != models.OperationDelete {
		version = change.Payload
	}
	return o.store.Apply(ctx, tx, change.EntityType, change.EntityID, version)
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := o.clock.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Str("origin_id", o.cfg.OriginID).
		Dur("interval", o.cfg.Interval).
		Msg("sync loop started")

	for {
		if _, err := o.Sync(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("sync pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}
