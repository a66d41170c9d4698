package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 32

var errNoProber = errors.New("no prober configured")

// Prober checks whether the primary answers its health endpoint.
type Prober interface {
	Health(ctx context.Context) error
}

// TimerRecoverer is the slice of the timer engine promotion drives.
type TimerRecoverer interface {
	Tracked(ctx context.Context) ([]uuid.UUID, error)
	LoadOrRecover(ctx context.Context, id uuid.UUID) (models.TimerState, error)
	StopAll(ctx context.Context)
}

// EventSink records failover transitions for downstream consumers.
type EventSink interface {
	InsertFailoverEvent(ctx context.Context, event models.FailoverEvent) error
}

// MetricsCollector defines the interface for collecting failover metrics
type MetricsCollector interface {
	RecordFailoverEvent(eventType models.FailoverEventType)
	SetRole(role models.Role)
	ObservePromotion(d time.Duration)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordFailoverEvent(models.FailoverEventType) {}
func (NoOpMetricsCollector) SetRole(models.Role)                          {}
func (NoOpMetricsCollector) ObservePromotion(time.Duration)               {}

// Hook runs during a role change, e.g. stopping the replication poller.
type Hook func(ctx context.Context) error

// Config holds failure detection tuning.
type Config struct {
	HeartbeatInterval time.Duration
	FailureThreshold  int
	PromotionTimeout  time.Duration
	ProbeTimeout      time.Duration
	SinkTimeout       time.Duration
}

// DefaultConfig detects a dead primary after five missed one-second probes.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		FailureThreshold:  5,
		PromotionTimeout:  5 * time.Second,
		ProbeTimeout:      800 * time.Millisecond,
		SinkTimeout:       2 * time.Second,
	}
}

// Dependencies are the collaborators of a Coordinator. Sink and Metrics are
// optional; Prober is required for a standby.
type Dependencies struct {
	Prober  Prober
	Timers  TimerRecoverer
	Sink    EventSink
	Metrics MetricsCollector
	Clock   clockwork.Clock
}

// Coordinator owns this process's role and its HeartbeatStatus.
type Coordinator struct {
	cfg     Config
	prober  Prober
	timers  TimerRecoverer
	sink    EventSink
	metrics MetricsCollector
	clock   clockwork.Clock

	mu          sync.Mutex
	status      models.HeartbeatStatus
	promoting   bool
	triggered   bool
	report      *probeReport
	ctx         context.Context
	cancel      context.CancelFunc
	loopCancel  context.CancelFunc
	watchCancel context.CancelFunc
	onPromote   []Hook
	onDemote    []Hook
	wg          sync.WaitGroup

	subMu sync.Mutex
	subs  map[chan models.FailoverEvent]struct{}
}

type probeReport struct {
	err error
}

// NewCoordinator creates a coordinator starting in the given role.
func NewCoordinator(role models.Role, deps Dependencies, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.PromotionTimeout <= 0 {
		cfg.PromotionTimeout = def.PromotionTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = NoOpMetricsCollector{}
	}
	if role != models.RoleStandby {
		role = models.RolePrimary
	}

	c := &Coordinator{
		cfg:     cfg,
		prober:  deps.Prober,
		timers:  deps.Timers,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		clock:   deps.Clock,
		status: models.HeartbeatStatus{
			Role:      role,
			IsHealthy: role == models.RolePrimary,
		},
		subs: make(map[chan models.FailoverEvent]struct{}),
	}
	c.metrics.SetRole(role)
	return c
}

// OnPromote registers a hook run before tournaments are recovered.
func (c *Coordinator) OnPromote(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPromote = append(c.onPromote, h)
}

// OnDemote registers a hook run after tick tasks have stopped.
func (c *Coordinator) OnDemote(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDemote = append(c.onDemote, h)
}

// Start launches the heartbeat emitter (primary) or monitor (standby).
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	if c.status.Role == models.RolePrimary {
		c.startEmitterLocked()
	} else {
		c.startMonitorLocked()
	}

	log.Info().
		Str("role", string(c.status.Role)).
		Dur("heartbeat_interval", c.cfg.HeartbeatInterval).
		Int("failure_threshold", c.cfg.FailureThreshold).
		Msg("failover coordinator started")
}

// Stop cancels every loop and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	log.Info().Msg("failover coordinator stopped")
}

// IsPrimary reports whether tick tasks may run. True while a promotion is
// in progress so recovered tournaments can resume ticking.
func (c *Coordinator) IsPrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Role == models.RolePrimary || c.promoting
}

// Role returns the current role.
func (c *Coordinator) Role() models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Role
}

// Status returns a copy of the heartbeat status.
func (c *Coordinator) Status() models.HeartbeatStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReportProbe records the outcome of a replication fetch. The monitor uses
// the latest report in place of its own probe on the next heartbeat, so a
// failure is counted once.
func (c *Coordinator) ReportProbe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Role != models.RoleStandby || c.promoting {
		return
	}
	c.report = &probeReport{err: err}
}

// Subscribe returns a channel of failover events and a release func.
// Slow subscribers miss events rather than block the coordinator.
func (c *Coordinator) Subscribe() (<-chan models.FailoverEvent, func()) {
	ch := make(chan models.FailoverEvent, subscriberBuffer)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

// Promote runs the promotion sequence as an operator action.
func (c *Coordinator) Promote(ctx context.Context) error {
	return c.promote(ctx, "manual")
}

// Demote returns a promoted process to standby: tick tasks stop, demote
// hooks run and the monitor restarts. Never invoked automatically.
func (c *Coordinator) Demote(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.promoting {
		c.mu.Unlock()
		return ErrPromotionInProgress
	}
	if c.status.Role != models.RolePrimary {
		c.mu.Unlock()
		return ErrNotPrimary
	}

	c.stopLoopsLocked()
	c.status = models.HeartbeatStatus{Role: models.RoleStandby}
	c.triggered = false
	c.report = nil
	hooks := append([]Hook(nil), c.onDemote...)
	c.mu.Unlock()

	c.metrics.SetRole(models.RoleStandby)
	if c.timers != nil {
		c.timers.StopAll(ctx)
	}
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			log.Error().Err(err).Msg("demote hook failed")
		}
	}

	c.mu.Lock()
	c.startMonitorLocked()
	c.mu.Unlock()

	log.Warn().Msg("demoted to standby")
	return nil
}

// promote flips a standby to primary within the promotion timeout.
func (c *Coordinator) promote(parent context.Context, reason string) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.status.Role == models.RolePrimary || c.promoting {
		c.mu.Unlock()
		return ErrAlreadyPrimary
	}
	c.promoting = true
	c.triggered = true
	c.stopLoopsLocked()
	hooks := append([]Hook(nil), c.onPromote...)
	c.mu.Unlock()

	started := c.clock.Now()
	ctx, cancel := context.WithTimeout(parent, c.cfg.PromotionTimeout)
	defer cancel()

	log.Warn().Str("reason", reason).Msg("promoting to primary")

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			log.Error().Err(err).Msg("promote hook failed")
		}
	}
	recovered := c.recoverTimers(ctx)

	now := c.clock.Now()
	c.mu.Lock()
	c.promoting = false
	c.status.Role = models.RolePrimary
	c.status.IsHealthy = true
	c.status.ConsecutiveFailures = 0
	c.status.HasFailedOver = true
	c.status.FailoverTime = &now
	c.status.LastHeartbeat = &now
	c.report = nil
	c.startEmitterLocked()
	c.startWatcherLocked()
	c.mu.Unlock()

	took := now.Sub(started)
	c.metrics.SetRole(models.RolePrimary)
	c.metrics.ObservePromotion(took)

	ev := log.Info()
	if took > c.cfg.PromotionTimeout {
		ev = log.Error()
	}
	ev.Str("reason", reason).
		Int("recovered", recovered).
		Dur("took", took).
		Msg("promoted to primary")
	return nil
}

// recoverTimers reloads every tracked tournament. Tournaments not reached
// before the deadline load lazily on first access.
func (c *Coordinator) recoverTimers(ctx context.Context) int {
	if c.timers == nil {
		return 0
	}
	ids, err := c.timers.Tracked(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list tracked tournaments")
		return 0
	}

	recovered := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			log.Error().
				Int("remaining", len(ids)-i).
				Msg("promotion deadline reached before every tournament recovered")
			break
		}
		if _, err := c.timers.LoadOrRecover(ctx, id); err != nil {
			log.Error().Err(err).Str("tournament_id", id.String()).Msg("failed to recover timer")
			continue
		}
		recovered++
	}
	return recovered
}

// stopLoopsLocked cancels the running role loop and recovery watcher.
// Caller holds c.mu.
func (c *Coordinator) stopLoopsLocked() {
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
}

// spawnLocked runs fn on a child of the coordinator context.
// Caller holds c.mu.
func (c *Coordinator) spawnLocked(fn func(ctx context.Context)) context.CancelFunc {
	ctx, cancel := context.WithCancel(c.ctx)
	if ctx.Err() != nil {
		return cancel
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
	return cancel
}

func (c *Coordinator) startEmitterLocked() {
	c.loopCancel = c.spawnLocked(c.emitHeartbeats)
}

func (c *Coordinator) startMonitorLocked() {
	c.loopCancel = c.spawnLocked(c.monitor)
}

func (c *Coordinator) startWatcherLocked() {
	if c.prober == nil {
		return
	}
	c.watchCancel = c.spawnLocked(c.watchRecovery)
}

// emitHeartbeats is the primary-side loop.
func (c *Coordinator) emitHeartbeats(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			now := c.clock.Now()
			c.mu.Lock()
			c.status.LastHeartbeat = &now
			ev := c.eventLocked(models.FailoverHeartbeatSent, now, nil)
			c.mu.Unlock()
			c.emit(ev)
		}
	}
}

// monitor is the standby-side loop. It returns after starting a promotion.
func (c *Coordinator) monitor(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !c.checkPrimary(ctx) {
				continue
			}
			c.mu.Lock()
			base := c.ctx
			c.mu.Unlock()
			if err := c.promote(base, "failure threshold reached"); err != nil {
				log.Error().Err(err).Msg("promotion failed")
			}
			return
		}
	}
}

// checkPrimary evaluates one heartbeat and reports whether failover fired.
func (c *Coordinator) checkPrimary(ctx context.Context) bool {
	err := c.probe(ctx)
	if ctx.Err() != nil {
		return false
	}

	now := c.clock.Now()
	c.mu.Lock()
	if err == nil {
		c.status.ConsecutiveFailures = 0
		c.status.IsHealthy = true
		c.status.LastHeartbeat = &now
		ev := c.eventLocked(models.FailoverHeartbeatReceived, now, nil)
		c.mu.Unlock()
		c.emit(ev)
		return false
	}

	c.status.ConsecutiveFailures++
	c.status.IsHealthy = false
	events := []models.FailoverEvent{c.eventLocked(models.FailoverFailureDetected, now, err)}
	fire := c.status.ConsecutiveFailures >= c.cfg.FailureThreshold && !c.triggered
	if fire {
		c.triggered = true
		events = append(events, c.eventLocked(models.FailoverTriggered, now, err))
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}
	return fire
}

// probe consumes the latest replication report or asks the prober.
func (c *Coordinator) probe(ctx context.Context) error {
	c.mu.Lock()
	report := c.report
	c.report = nil
	c.mu.Unlock()
	if report != nil {
		return report.err
	}
	if c.prober == nil {
		return errNoProber
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	return c.prober.Health(pctx)
}

// watchRecovery probes the old primary after a failover and reports the
// first answer. The role is left untouched.
func (c *Coordinator) watchRecovery(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := c.prober.Health(pctx)
			cancel()
			if err != nil || ctx.Err() != nil {
				continue
			}
			now := c.clock.Now()
			c.mu.Lock()
			ev := c.eventLocked(models.FailoverPrimaryRecovered, now, nil)
			c.mu.Unlock()
			c.emit(ev)
			return
		}
	}
}

// eventLocked builds an event from the current status. Caller holds c.mu.
func (c *Coordinator) eventLocked(t models.FailoverEventType, at time.Time, err error) models.FailoverEvent {
	ev := models.FailoverEvent{
		Type:                t,
		At:                  at,
		Role:                c.status.Role,
		ConsecutiveFailures: c.status.ConsecutiveFailures,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// emit logs the event, records it and fans it out to subscribers.
func (c *Coordinator) emit(ev models.FailoverEvent) {
	c.metrics.RecordFailoverEvent(ev.Type)

	switch ev.Type {
	case models.FailoverHeartbeatSent, models.FailoverHeartbeatReceived:
		log.Debug().Str("event", string(ev.Type)).Str("role", string(ev.Role)).Msg("heartbeat")
	case models.FailoverFailureDetected:
		log.Warn().
			Str("error", ev.Error).
			Int("consecutive_failures", ev.ConsecutiveFailures).
			Msg("primary health probe failed")
	case models.FailoverTriggered:
		log.Error().
			Int("consecutive_failures", ev.ConsecutiveFailures).
			Msg("failover triggered")
		c.record(ev)
	case models.FailoverPrimaryRecovered:
		log.Warn().Msg("former primary is answering again; demotion requires an operator")
		c.record(ev)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Coordinator) record(ev models.FailoverEvent) {
	if c.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SinkTimeout)
	defer cancel()
	if err := c.sink.InsertFailoverEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to record failover event")
	}
}
