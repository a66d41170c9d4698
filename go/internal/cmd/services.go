package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/config"
	"github.com/mcdev12/pokerclock/go/internal/conflict"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/failover"
	"github.com/mcdev12/pokerclock/go/internal/gateway"
	"github.com/mcdev12/pokerclock/go/internal/health"
	"github.com/mcdev12/pokerclock/go/internal/ledger"
	"github.com/mcdev12/pokerclock/go/internal/metrics"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/outbox"
	"github.com/mcdev12/pokerclock/go/internal/replication"
	"github.com/mcdev12/pokerclock/go/internal/schedule"
	"github.com/mcdev12/pokerclock/go/internal/syncapi"
	"github.com/mcdev12/pokerclock/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// relayStallThreshold is how long a primary may hold unrelayed events before
// health reports it.
const relayStallThreshold = time.Minute

// Services is one node: every component sharing the database handle.
type Services struct {
	Handle       *database.Handle
	Metrics      *metrics.PrometheusMetrics
	Ledger       *ledger.Ledger
	Timers       *timer.Engine
	Events       *timer.SQLRepository
	Schedules    *schedule.App
	ScheduleFile *schedule.FileProvider
	Sync         *syncapi.Service
	Source       *replication.Source
	Poller       *replication.Poller
	Maintainer   *replication.Maintainer
	Coordinator  *failover.Coordinator
	Outbox       *outbox.Repository
	Relay        *outbox.Worker
	Bus          *outbox.JetStreamPublisher
	Health       *health.Checker
	Connections  *gateway.ConnectionManager
	Gateway      *gateway.Handler
}

func setupServices(ctx context.Context, handle *database.Handle, cfg *config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database handle → Repositories → Apps → Coordinators
	clock := clockwork.NewRealClock()
	prom := metrics.NewPrometheusMetrics()
	s := &Services{Handle: handle, Metrics: prom}

	// Ledger, entities and conflicts
	s.Ledger = ledger.New(handle, clock)
	store := entity.NewStore()
	detector := conflict.NewDetector(s.Ledger, cfg.Conflict.Window, clock)
	validator := conflict.NewReferenceValidator(handle, store)
	for _, typ := range []string{models.EntityTournament, models.EntityPlayer, models.EntityBlindLevel} {
		detector.Register(typ, validator)
	}
	resolver := conflict.NewResolver(handle, store, s.Ledger, clock, conflict.MergePolicy{
		PreferClient: cfg.Conflict.MergePreferClient,
	})
	s.Sync = syncapi.NewService(handle, s.Ledger, store, detector, resolver, prom, syncapi.Config{
		DefaultStrategy: models.ResolutionStrategy(cfg.Sync.DefaultStrategy),
		PullBatchSize:   cfg.Sync.PullBatchSize,
	})

	// Blind schedules
	s.Schedules = schedule.NewApp(schedule.NewRepository(handle))
	var levels timer.ScheduleProvider = s.Schedules
	if cfg.Schedule.File != "" {
		file, err := schedule.NewFileProvider(cfg.Schedule.File, s.Schedules)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule file: %w", err)
		}
		s.ScheduleFile = file
		levels = file
	}

	// Outbox
	s.Outbox = outbox.NewRepository(handle, clock)

	// Timer engine. The coordinator is created below; the closure reads it
	// on every tick.
	s.Events = timer.NewSQLRepository(handle, s.Ledger, s.Outbox)
	engineCfg := timer.DefaultConfig()
	engineCfg.TickInterval = cfg.Timer.TickInterval
	engineCfg.PersistInterval = cfg.Timer.PersistInterval
	s.Timers = timer.NewEngine(timer.Dependencies{
		Repo:      s.Events,
		Schedules: levels,
		Role:      timer.RoleFunc(func() bool { return s.Coordinator.IsPrimary() }),
		Metrics:   prom,
		Clock:     clock,
	}, engineCfg)

	// Replication and failover
	primary := replication.NewClient(cfg.Replication.PrimaryURL, cfg.Replication.FetchTimeout)
	s.Coordinator = failover.NewCoordinator(cfg.Role(), failover.Dependencies{
		Prober:  primary,
		Timers:  s.Timers,
		Sink:    s.Outbox,
		Metrics: prom,
		Clock:   clock,
	}, failover.Config{
		HeartbeatInterval: cfg.Failover.HeartbeatInterval,
		FailureThreshold:  cfg.Failover.FailureThreshold,
		PromotionTimeout:  cfg.Failover.PromotionTimeout,
		ProbeTimeout:      cfg.Failover.ProbeTimeout,
	})
	s.Source = replication.NewSource(handle, replication.SourceConfig{
		BackupDir:       cfg.DB.BackupDir,
		BackupRetention: cfg.Replication.BackupRetention,
	}, clock)
	s.Poller = replication.NewPoller(primary, handle, s.Coordinator, prom, clock, replication.PollerConfig{
		Interval: cfg.Replication.PollInterval,
	})
	s.Maintainer = replication.NewMaintainer(s.Source, s.Coordinator, clock,
		cfg.Replication.CheckpointInterval, cfg.Replication.BackupInterval)

	// Event relay
	var publisher outbox.EventPublisher = outbox.LogPublisher{}
	if cfg.NATS.URL != "" {
		jsCfg := outbox.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.ClientName = cfg.Server.NodeID
		jsCfg.StreamName = cfg.NATS.Stream
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		bus, err := outbox.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		s.Bus = bus
		publisher = bus
	} else {
		log.Warn().Msg("nats.url not set, outbox events are logged and dropped")
	}
	relayCfg := outbox.DefaultConfig()
	relayCfg.PollInterval = cfg.Outbox.PollInterval
	relayCfg.BatchSize = cfg.Outbox.BatchSize
	relayCfg.MaxRetries = cfg.Outbox.MaxRetries
	s.Relay = outbox.NewWorker(s.Outbox, publisher, s.Coordinator, prom, clock, relayCfg)

	// Health
	deps := health.Dependencies{
		DB:      handle,
		Role:    s.Coordinator,
		Backlog: s.Outbox,
		Relay:   s.Relay,
		Clock:   clock,
	}
	if s.Bus != nil {
		deps.Bus = s.Bus
	}
	s.Health = health.NewChecker(cfg.Server.NodeID, deps, relayStallThreshold)

	// Live timer stream
	s.Connections = gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	s.Gateway = gateway.NewHandler(s.Timers, s.Connections)

	return s, nil
}

// recoverTracked loads every tournament with persisted timer state so running
// clocks resume after a primary restart.
func (s *Services) recoverTracked(ctx context.Context) {
	ids, err := s.Timers.Tracked(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list tracked tournaments")
		return
	}
	for _, id := range ids {
		if _, err := s.Timers.LoadOrRecover(ctx, id); err != nil {
			log.Warn().Err(err).Str("tournament_id", id.String()).Msg("tournament recovered with errors")
		}
	}
	log.Info().Int("tournaments", len(ids)).Msg("timers recovered")
}

// Close releases what the run loop does not own.
func (s *Services) Close() {
	if s.Bus != nil {
		if err := s.Bus.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close event bus")
		}
	}
	if err := s.Handle.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}
