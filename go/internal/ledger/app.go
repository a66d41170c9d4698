package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// ErrInvalidChange is returned for records missing required fields.
var ErrInvalidChange = errors.New("invalid change record")

// DefaultPageSize bounds ChangesSince when the caller passes no limit.
const DefaultPageSize = 500

// Ledger is the append-only change log. Appends run in IMMEDIATE transactions,
// so the database write lock serializes them and server timestamps are
// strictly increasing in insertion order.
type Ledger struct {
	db    database.Provider
	repo  *Repository
	clock clockwork.Clock
}

// New creates a ledger over db.
func New(db database.Provider, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{
		db:    db,
		repo:  NewRepository(),
		clock: clock,
	}
}

// Append records change and returns it with its server timestamp. Appending a
// changeId that already exists returns the stored record unchanged.
func (l *Ledger) Append(ctx context.Context, change models.ChangeRecord) (*models.ChangeRecord, error) {
	var out *models.ChangeRecord
	err := sqlutil.Run(ctx, l.db.DB(), func(tx *sql.Tx) error {
		rec, err := l.AppendTx(ctx, tx, change)
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendTx is Append inside a caller-owned transaction.
func (l *Ledger) AppendTx(ctx context.Context, tx *sql.Tx, change models.ChangeRecord) (*models.ChangeRecord, error) {
	if err := validate(change); err != nil {
		return nil, err
	}

	existing, err := l.repo.GetByChangeID(ctx, tx, change.ChangeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug().Str("change_id", change.ChangeID.String()).Msg("change already in ledger")
		return existing, nil
	}

	last, err := l.repo.MaxServerTimestamp(ctx, tx)
	if err != nil {
		return nil, err
	}
	ts := l.clock.Now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	change.ServerTimestamp = ts
	if change.LocalTimestamp == 0 {
		change.LocalTimestamp = ts
	}

	if err := l.repo.Insert(ctx, tx, change); err != nil {
		return nil, err
	}

	log.Debug().
		Str("change_id", change.ChangeID.String()).
		Str("entity_type", change.EntityType).
		Str("entity_id", change.EntityID.String()).
		Str("operation", string(change.Operation)).
		Int64("server_ts", ts).
		Msg("change appended")
	return &change, nil
}

// Get returns a record by changeId, nil when absent.
func (l *Ledger) Get(ctx context.Context, changeID uuid.UUID) (*models.ChangeRecord, error) {
	return l.repo.GetByChangeID(ctx, l.db.DB(), changeID)
}

// ChangesSince returns up to limit records with serverTimestamp > since,
// ordered by server timestamp then insertion order.
func (l *Ledger) ChangesSince(ctx context.Context, since int64, limit int) ([]models.ChangeRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return l.repo.ChangesSince(ctx, l.db.DB(), since, limit)
}

// LatestChangeFor returns the newest record for an entity, nil when none.
func (l *Ledger) LatestChangeFor(ctx context.Context, entityType string, entityID uuid.UUID) (*models.ChangeRecord, error) {
	return l.repo.LatestFor(ctx, l.db.DB(), entityType, entityID)
}

// HighWaterMark returns the newest server timestamp in the ledger.
func (l *Ledger) HighWaterMark(ctx context.Context) (int64, error) {
	return l.repo.MaxServerTimestamp(ctx, l.db.DB())
}

func validate(c models.ChangeRecord) error {
	switch {
	case c.ChangeID == uuid.Nil:
		return fmt.Errorf("%w: changeId is required", ErrInvalidChange)
	case c.EntityID == uuid.Nil:
		return fmt.Errorf("%w: entityId is required", ErrInvalidChange)
	case c.EntityType == "":
		return fmt.Errorf("%w: entityType is required", ErrInvalidChange)
	case c.OriginID == "":
		return fmt.Errorf("%w: originId is required", ErrInvalidChange)
	case !c.Operation.Valid():
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidChange, c.Operation)
	}
	return nil
}
