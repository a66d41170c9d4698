package replication

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RoleSource tells the maintainer whether this process owns the database.
type RoleSource interface {
	IsPrimary() bool
}

// Maintainer bounds WAL growth and keeps rotated backups on the primary.
type Maintainer struct {
	source             *Source
	role               RoleSource
	clock              clockwork.Clock
	checkpointInterval time.Duration
	backupInterval     time.Duration
}

// NewMaintainer creates the primary maintenance loop. A zero interval
// disables that task.
func NewMaintainer(source *Source, role RoleSource, clock clockwork.Clock, checkpointInterval, backupInterval time.Duration) *Maintainer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Maintainer{
		source:             source,
		role:               role,
		clock:              clock,
		checkpointInterval: checkpointInterval,
		backupInterval:     backupInterval,
	}
}

// Run blocks until ctx is cancelled. Standbys skip every task.
func (m *Maintainer) Run(ctx context.Context) error {
	checkpoints, stopCheckpoints := m.ticker(m.checkpointInterval)
	defer stopCheckpoints()
	backups, stopBackups := m.ticker(m.backupInterval)
	defer stopBackups()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-checkpoints:
			if !m.role.IsPrimary() {
				continue
			}
			if err := m.source.TriggerCheckpoint(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled checkpoint failed")
			}
		case <-backups:
			if !m.role.IsPrimary() {
				continue
			}
			if _, err := m.source.CreateBackup(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled backup failed")
			}
		}
	}
}

// ticker returns a nil channel for disabled tasks; it never fires.
func (m *Maintainer) ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := m.clock.NewTicker(d)
	return t.Chan(), t.Stop
}
