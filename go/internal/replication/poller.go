package replication

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the standby poll cadence.
const DefaultPollInterval = time.Second

// Fetcher is the primary as seen by the standby.
type Fetcher interface {
	Snapshot(ctx context.Context) (models.ReplicationSnapshot, error)
	Download(ctx context.Context, part Part, w io.Writer) (int64, error)
}

// Swapper is the local database handle.
type Swapper interface {
	Config() dbconfig.Config
	Swap(replace func() error) error
}

// HealthReporter receives the outcome of every snapshot fetch. Failures are
// handed over instead of being retried here.
type HealthReporter interface {
	ReportProbe(err error)
}

// MetricsCollector observes poll outcomes.
type MetricsCollector interface {
	RecordPoll(outcome string)
	RecordApplied(bytes int64)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordPoll(string)   {}
func (NoOpMetricsCollector) RecordApplied(int64) {}

// Poll outcomes.
const (
	OutcomeUnchanged   = "unchanged"
	OutcomeApplied     = "applied"
	OutcomeUnreachable = "unreachable"
	OutcomeMismatch    = "checksum_mismatch"
	OutcomeFailed      = "failed"
	OutcomeEmpty       = "empty"
)

// Poller keeps the standby's database in step with the primary.
type Poller struct {
	fetcher  Fetcher
	local    Swapper
	reporter HealthReporter
	metrics  MetricsCollector
	clock    clockwork.Clock
	interval time.Duration

	mu          sync.Mutex
	lastApplied string
	cancel      context.CancelFunc
	done        chan struct{}
}

// PollerConfig holds standby settings.
type PollerConfig struct {
	Interval time.Duration
	// InitialChecksum skips the first download when the local copy is
	// already known to match.
	InitialChecksum string
}

// NewPoller creates a standby poller. reporter and metrics may be nil.
func NewPoller(fetcher Fetcher, local Swapper, reporter HealthReporter, metrics MetricsCollector, clock clockwork.Clock, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Poller{
		fetcher:     fetcher,
		local:       local,
		reporter:    reporter,
		metrics:     metrics,
		clock:       clock,
		interval:    cfg.Interval,
		lastApplied: cfg.InitialChecksum,
	}
}

// Start launches the poll loop. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	ticker := p.clock.NewTicker(p.interval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				// errors are logged and reported inside
				_ = p.PollOnce(ctx)
			}
		}
	}()

	log.Info().Dur("interval", p.interval).Msg("replication poller started")
}

// Stop ends the poll loop and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("replication poller stopped")
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// LastApplied returns the checksum of the artifact currently swapped in.
func (p *Poller) LastApplied() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastApplied
}

// PollOnce runs one poll: fetch the snapshot, and only when its checksum
// differs from the last applied one download, verify and swap.
func (p *Poller) PollOnce(ctx context.Context) error {
	snap, err := p.fetcher.Snapshot(ctx)
	p.report(err)
	if err != nil {
		p.metrics.RecordPoll(OutcomeUnreachable)
		log.Warn().Err(err).Msg("replication snapshot fetch failed")
		return err
	}
	if !snap.Exists {
		p.metrics.RecordPoll(OutcomeEmpty)
		return nil
	}
	if snap.Checksum == p.LastApplied() {
		p.metrics.RecordPoll(OutcomeUnchanged)
		return nil
	}

	if err := p.apply(ctx, snap); err != nil {
		switch {
		case errors.Is(err, ErrChecksumMismatch):
			p.metrics.RecordPoll(OutcomeMismatch)
		case errors.Is(err, ErrReplicationUnreachable):
			p.metrics.RecordPoll(OutcomeUnreachable)
			p.report(err)
		default:
			p.metrics.RecordPoll(OutcomeFailed)
		}
		log.Error().Err(err).Str("checksum", snap.Checksum).Msg("replication apply failed")
		return err
	}

	p.metrics.RecordPoll(OutcomeApplied)
	p.metrics.RecordApplied(snap.SizeBytes)
	return nil
}

func (p *Poller) report(err error) {
	if p.reporter != nil {
		p.reporter.ReportProbe(err)
	}
}

// apply downloads both parts next to the live files, verifies the digest and
// renames them into place inside the handle swap.
func (p *Poller) apply(ctx context.Context, snap models.ReplicationSnapshot) error {
	cfg := p.local.Config()
	dbTmp := cfg.Path + ".incoming"
	walTmp := cfg.WALPath() + ".incoming"
	defer os.Remove(dbTmp)
	defer os.Remove(walTmp)

	h := newDigest()
	var total int64
	for _, part := range []struct {
		part Part
		path string
	}{{PartDB, dbTmp}, {PartWAL, walTmp}} {
		n, err := p.download(ctx, part.part, part.path, h)
		if err != nil {
			return err
		}
		total += n
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != snap.Checksum {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, snap.Checksum, got)
	}

	walEmpty := false
	if info, err := os.Stat(walTmp); err == nil && info.Size() == 0 {
		walEmpty = true
	}

	err := p.local.Swap(func() error {
		if err := os.Rename(dbTmp, cfg.Path); err != nil {
			return fmt.Errorf("failed to swap database file: %w", err)
		}
		if walEmpty {
			if err := os.Remove(cfg.WALPath()); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove stale wal: %w", err)
			}
		} else if err := os.Rename(walTmp, cfg.WALPath()); err != nil {
			return fmt.Errorf("failed to swap wal file: %w", err)
		}
		// the shared-memory index describes the old wal
		if err := os.Remove(cfg.SHMPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove shm file: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lastApplied = snap.Checksum
	p.mu.Unlock()

	log.Info().
		Str("checksum", snap.Checksum).
		Int64("bytes", total).
		Msg("replicated database applied")
	return nil
}

func (p *Poller) download(ctx context.Context, part Part, path string, h io.Writer) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := p.fetcher.Download(ctx, part, io.MultiWriter(f, h))
	if err != nil {
		f.Close()
		return n, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return n, fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return n, nil
}
