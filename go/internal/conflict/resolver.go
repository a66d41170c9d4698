package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// ChangeAppender records the resolved version in the ledger inside the
// resolution transaction.
type ChangeAppender interface {
	AppendTx(ctx context.Context, tx *sql.Tx, change models.ChangeRecord) (*models.ChangeRecord, error)
}

// MergePolicy decides field ties in the merge strategy.
type MergePolicy struct {
	// PreferClient keeps the local value when both sides set a field.
	PreferClient bool
}

// Resolver closes conflicts. Each resolution writes the audit row, the
// entity and the ledger record in one transaction.
type Resolver struct {
	db     database.Provider
	repo   *Repository
	store  *entity.Store
	ledger ChangeAppender
	clock  clockwork.Clock
	policy MergePolicy
}

// NewResolver creates a resolver. ledger may be nil.
func NewResolver(db database.Provider, store *entity.Store, ledger ChangeAppender, clock clockwork.Clock, policy MergePolicy) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		db:     db,
		repo:   NewRepository(),
		store:  store,
		ledger: ledger,
		clock:  clock,
		policy: policy,
	}
}

// Record persists a freshly detected conflict.
func (r *Resolver) Record(ctx context.Context, c models.Conflict) error {
	return r.repo.Insert(ctx, r.db.DB(), c)
}

// Get returns a conflict by id.
func (r *Resolver) Get(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	return r.repo.Get(ctx, r.db.DB(), id)
}

// LatestForChange returns the newest conflict raised by a change, nil when none.
func (r *Resolver) LatestForChange(ctx context.Context, changeID uuid.UUID) (*models.Conflict, error) {
	return r.repo.LatestForChange(ctx, r.db.DB(), changeID)
}

// List returns recent conflicts, optionally only the open ones.
func (r *Resolver) List(ctx context.Context, openOnly bool, limit int) ([]models.Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.repo.List(ctx, r.db.DB(), openOnly, limit)
}

// Resolve closes the conflict with strategy. manualVersion is required for
// the manual strategy; a JSON null there deletes the entity. Resolving an
// already resolved conflict returns the stored result with Replayed set and
// writes nothing.
func (r *Resolver) Resolve(ctx context.Context, conflictID uuid.UUID, strategy models.ResolutionStrategy, manualVersion json.RawMessage) (*models.ResolutionResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrValidation, strategy)
	}
	if strategy == models.StrategyManual && len(manualVersion) == 0 {
		return nil, fmt.Errorf("%w: manual resolution needs a version", ErrValidation)
	}

	var result *models.ResolutionResult
	err := sqlutil.Run(ctx, r.db.DB(), func(tx *sql.Tx) error {
		existing, err := r.repo.GetResolution(ctx, tx, conflictID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Replayed = true
			result = existing
			return nil
		}

		c, err := r.repo.Get(ctx, tx, conflictID)
		if err != nil {
			return err
		}

		version, deleted, write, err := r.resolvedVersion(ctx, tx, *c, strategy, manualVersion)
		if err != nil {
			return err
		}

		if write {
			if err := r.store.Apply(ctx, tx, c.EntityType, c.EntityID, version); err != nil {
				return err
			}
		}
		// every outcome is ledgered under the conflicting change id so the
		// device that raised it converges on its next pull
		if r.ledger != nil {
			if _, err := r.ledger.AppendTx(ctx, tx, r.resolvedChange(*c, version, deleted)); err != nil {
				return err
			}
		}

		res := models.ResolutionResult{
			ConflictID:      c.ConflictID,
			Strategy:        strategy,
			ResolvedVersion: version,
			Deleted:         deleted,
			DetectedAt:      c.DetectedAt,
			ResolvedAt:      r.clock.Now(),
		}
		if err := r.repo.InsertResolution(ctx, tx, res); err != nil {
			return err
		}
		result = &res
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflictNotFound) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		log.Error().Err(err).
			Str("conflict_id", conflictID.String()).
			Str("strategy", string(strategy)).
			Msg("conflict resolution failed")
		return nil, fmt.Errorf("%w: %v", ErrConflictUnresolved, err)
	}

	if !result.Replayed {
		log.Info().
			Str("conflict_id", conflictID.String()).
			Str("strategy", string(strategy)).
			Bool("deleted", result.Deleted).
			Msg("conflict resolved")
	}
	return result, nil
}

// resolvedVersion computes the final version. write reports whether the
// entity store must change; server_wins never writes because the store
// already holds the server's version, so it reports that whole row.
func (r *Resolver) resolvedVersion(ctx context.Context, q sqlutil.Querier, c models.Conflict, strategy models.ResolutionStrategy, manual json.RawMessage) (version json.RawMessage, deleted, write bool, err error) {
	serverDeleted := c.ServerOperation == models.OperationDelete
	localDeleted := c.LocalOperation == models.OperationDelete

	switch strategy {
	case models.StrategyServerWins:
		if _, ok := r.store.Mapping(c.EntityType); ok {
			current, err := r.store.Get(ctx, q, c.EntityType, c.EntityID)
			if err != nil {
				return nil, false, false, err
			}
			return current, current == nil, false, nil
		}
		if serverDeleted {
			return nil, true, false, nil
		}
		return c.ServerVersion, false, false, nil

	case models.StrategyClientWins:
		if c.ConflictType == models.ConflictValidationError {
			return nil, false, false, fmt.Errorf("%w: an invalid change cannot win", ErrValidation)
		}
		if localDeleted {
			return nil, true, true, nil
		}
		return c.LocalVersion, false, true, nil

	case models.StrategyManual:
		if entity.IsDeletion(manual) {
			return nil, true, true, nil
		}
		return manual, false, true, nil

	case models.StrategyMerge:
		if c.ConflictType == models.ConflictValidationError {
			return nil, false, false, fmt.Errorf("%w: an invalid change cannot be merged", ErrValidation)
		}
		if serverDeleted || localDeleted {
			// nothing to merge field by field; the policy picks a side
			if r.policy.PreferClient {
				return r.resolvedVersion(ctx, q, c, models.StrategyClientWins, nil)
			}
			return r.resolvedVersion(ctx, q, c, models.StrategyServerWins, nil)
		}
		merged, err := MergeFields(c.ServerVersion, c.LocalVersion, r.policy)
		if err != nil {
			return nil, false, false, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return merged, false, true, nil
	}
	return nil, false, false, fmt.Errorf("%w: unknown strategy %q", ErrValidation, strategy)
}

func (r *Resolver) resolvedChange(c models.Conflict, version json.RawMessage, deleted bool) models.ChangeRecord {
	op := models.OperationUpdate
	if deleted {
		op = models.OperationDelete
	} else if c.LocalOperation == models.OperationCreate {
		op = models.OperationCreate
	}
	return models.ChangeRecord{
		ChangeID:       c.ChangeID,
		OriginID:       c.OriginID,
		EntityType:     c.EntityType,
		Operation:      op,
		EntityID:       c.EntityID,
		Payload:        version,
		LocalTimestamp: r.clock.Now().UnixMilli(),
	}
}

// MergeFields starts from the server version and takes every local field
// the server lacks. Fields both sides set go to the server unless the
// policy prefers the client.
func MergeFields(server, local json.RawMessage, policy MergePolicy) (json.RawMessage, error) {
	out := map[string]any{}
	if !entity.IsDeletion(server) {
		if err := json.Unmarshal(server, &out); err != nil {
			return nil, fmt.Errorf("failed to decode server version: %w", err)
		}
	}
	var lf map[string]any
	if !entity.IsDeletion(local) {
		if err := json.Unmarshal(local, &lf); err != nil {
			return nil, fmt.Errorf("failed to decode local version: %w", err)
		}
	}
	for k, v := range lf {
		if _, ok := out[k]; !ok || policy.PreferClient {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
