package syncapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/conflict"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/ledger"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// Upload outcomes reported to metrics.
const (
	OutcomeAccepted = "accepted"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
	OutcomeResolved = "resolved"
)

// MetricsCollector defines the interface for collecting sync metrics
type MetricsCollector interface {
	RecordUpload(outcome string)
	RecordPull(changes int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordUpload(string) {}
func (NoOpMetricsCollector) RecordPull(int)      {}

type Config struct {
	// DefaultStrategy closes conflicts on upload. Manual leaves them open
	// for an operator.
	DefaultStrategy models.ResolutionStrategy
	PullBatchSize   int
}

func DefaultConfig() Config {
	return Config{
		DefaultStrategy: models.StrategyServerWins,
		PullBatchSize:   ledger.DefaultPageSize,
	}
}

// Service is the server side of device sync. Every upload passes through
// the conflict detector before it reaches the ledger.
type Service struct {
	db       database.Provider
	ledger   *ledger.Ledger
	store    *entity.Store
	detector *conflict.Detector
	resolver *conflict.Resolver
	metrics  MetricsCollector
	cfg      Config
}

func NewService(db database.Provider, l *ledger.Ledger, store *entity.Store, detector *conflict.Detector, resolver *conflict.Resolver, metrics MetricsCollector, cfg Config) *Service {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	if !cfg.DefaultStrategy.Valid() {
		cfg.DefaultStrategy = DefaultConfig().DefaultStrategy
	}
	if cfg.PullBatchSize <= 0 {
		cfg.PullBatchSize = DefaultConfig().PullBatchSize
	}
	return &Service{
		db:       db,
		ledger:   l,
		store:    store,
		detector: detector,
		resolver: resolver,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Upload processes changes in order. A change already in the ledger, or one
// whose conflict was already resolved, counts as accepted.
func (s *Service) Upload(ctx context.Context, req models.SyncUploadRequest) (*models.SyncUploadResponse, error) {
	resp := &models.SyncUploadResponse{Conflicts: []models.Conflict{}}

	for _, change := range req.Changes {
		if change.OriginID == "" {
			change.OriginID = req.OriginID
		}
		accepted, c, err := s.process(ctx, change)
		if err != nil {
			return nil, err
		}
		if accepted {
			resp.Accepted++
		}
		if c != nil {
			resp.Conflicts = append(resp.Conflicts, *c)
		}
	}

	log.Info().
		Str("origin_id", req.OriginID).
		Int("changes", len(req.Changes)).
		Int("accepted", resp.Accepted).
		Int("conflicts", len(resp.Conflicts)).
		Msg("sync upload processed")
	return resp, nil
}

func (s *Service) process(ctx context.Context, change models.ChangeRecord) (bool, *models.Conflict, error) {
	if change.ChangeID == uuid.Nil {
		return false, nil, fmt.Errorf("%w: changeId is required", conflict.ErrValidation)
	}

	existing, err := s.ledger.Get(ctx, change.ChangeID)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", conflict.ErrConflictUnresolved, err)
	}
	if existing != nil {
		s.metrics.RecordUpload(OutcomeReplayed)
		return true, nil, nil
	}

	prior, err := s.resolver.LatestForChange(ctx, change.ChangeID)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", conflict.ErrConflictUnresolved, err)
	}
	if prior != nil {
		if prior.Resolved {
			s.metrics.RecordUpload(OutcomeReplayed)
			return true, nil, nil
		}
		s.metrics.RecordUpload(OutcomeConflict)
		return false, prior, nil
	}

	c, err := s.detector.Detect(ctx, change)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", conflict.ErrConflictUnresolved, err)
	}
	if c == nil {
		if err := s.applyClean(ctx, change); err != nil {
			return false, nil, fmt.Errorf("%w: %v", conflict.ErrConflictUnresolved, err)
		}
		s.metrics.RecordUpload(OutcomeAccepted)
		return true, nil, nil
	}

	if err := s.resolver.Record(ctx, *c); err != nil {
		return false, nil, fmt.Errorf("%w: %v", conflict.ErrConflictUnresolved, err)
	}
	log.Info().
		Str("conflict_id", c.ConflictID.String()).
		Str("change_id", c.ChangeID.String()).
		Str("conflict_type", string(c.ConflictType)).
		Str("reason", c.Reason).
		Msg("conflict detected")

	if s.cfg.DefaultStrategy == models.StrategyManual {
		s.metrics.RecordUpload(OutcomeConflict)
		return false, c, nil
	}

	if _, err := s.resolver.Resolve(ctx, c.ConflictID, s.cfg.DefaultStrategy, nil); err != nil {
		// client_wins and merge cannot close a validation error; it stays open
		if !errors.Is(err, conflict.ErrValidation) {
			log.Error().Err(err).Str("conflict_id", c.ConflictID.String()).Msg("automatic resolution failed")
		}
		s.metrics.RecordUpload(OutcomeConflict)
		return false, c, nil
	}

	resolved, err := s.resolver.Get(ctx, c.ConflictID)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", conflict.ErrConflictUnresolved, err)
	}
	s.metrics.RecordUpload(OutcomeResolved)
	return false, resolved, nil
}

// applyClean writes the entity and its ledger record in one transaction.
// Entity types without a mapping are ledgered only.
func (s *Service) applyClean(ctx context.Context, change models.ChangeRecord) error {
	return sqlutil.Run(ctx, s.db.DB(), func(tx *sql.Tx) error {
		if _, ok := s.store.Mapping(change.EntityType); ok {
			var version json.RawMessage
			if change.Operation != models.OperationDelete {
				version = change.Payload
			}
			if err := s.store.Apply(ctx, tx, change.EntityType, change.EntityID, version); err != nil {
				return err
			}
		}
		_, err := s.ledger.AppendTx(ctx, tx, change)
		return err
	})
}

// Pull returns ledger changes after since. ServerTimestamp is the cursor for
// the next pull; a full page means more may follow.
func (s *Service) Pull(ctx context.Context, since int64, limit int) (*models.SyncPullResponse, error) {
	if limit <= 0 || limit > s.cfg.PullBatchSize {
		limit = s.cfg.PullBatchSize
	}
	changes, err := s.ledger.ChangesSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	cursor := since
	if n := len(changes); n > 0 {
		cursor = changes[n-1].ServerTimestamp
	}
	if changes == nil {
		changes = []models.ChangeRecord{}
	}
	s.metrics.RecordPull(len(changes))

	return &models.SyncPullResponse{
		Changes:         changes,
		ServerTimestamp: cursor,
	}, nil
}

// ResolveConflict closes a conflict on behalf of an operator and returns the
// conflict as stored afterwards.
func (s *Service) ResolveConflict(ctx context.Context, conflictID uuid.UUID, strategy models.ResolutionStrategy, version json.RawMessage) (*models.Conflict, *models.ResolutionResult, error) {
	res, err := s.resolver.Resolve(ctx, conflictID, strategy, version)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.resolver.Get(ctx, conflictID)
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("conflict_id", conflictID.String()).
		Str("strategy", string(strategy)).
		Bool("replayed", res.Replayed).
		Msg("conflict resolved")
	return c, res, nil
}

// Conflicts lists recent conflicts.
func (s *Service) Conflicts(ctx context.Context, openOnly bool, limit int) ([]models.Conflict, error) {
	return s.resolver.List(ctx, openOnly, limit)
}
