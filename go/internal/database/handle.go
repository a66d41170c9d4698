package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// ErrHandleClosed is returned while the pool is closed for a file swap.
var ErrHandleClosed = errors.New("database handle closed")

// Handle owns the process's single SQLite pool. The replication swap closes it,
// replaces the files on disk and reopens it.
type Handle struct {
	cfg dbconfig.Config

	mu sync.RWMutex
	db *sql.DB
}

// NewHandle opens and migrates the database.
func NewHandle(cfg dbconfig.Config) (*Handle, error) {
	db, err := OpenAndMigrate(cfg)
	if err != nil {
		return nil, err
	}
	return &Handle{cfg: cfg, db: db}, nil
}

// DB returns the current pool, or nil while a swap is in progress.
func (h *Handle) DB() *sql.DB {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db
}

// Config returns the database configuration.
func (h *Handle) Config() dbconfig.Config {
	return h.cfg
}

// Ping checks the pool is usable.
func (h *Handle) Ping(ctx context.Context) error {
	db := h.DB()
	if db == nil {
		return ErrHandleClosed
	}
	return db.PingContext(ctx)
}

// Close closes the pool. Subsequent DB calls return nil until Reopen.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeLocked()
}

func (h *Handle) closeLocked() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// Reopen opens a fresh pool on the same path.
func (h *Handle) Reopen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reopenLocked()
}

func (h *Handle) reopenLocked() error {
	if h.db != nil {
		return nil
	}
	db, err := Open(h.cfg)
	if err != nil {
		return err
	}
	h.db = db
	return nil
}

// Swap closes the pool, runs replace and reopens the pool, all while holding
// the write lock so no reader sees a half-written file.
func (h *Handle) Swap(replace func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.closeLocked(); err != nil {
		log.Warn().Err(err).Str("path", h.cfg.Path).Msg("error closing database before swap")
	}

	replaceErr := replace()

	if err := h.reopenLocked(); err != nil {
		return errors.Join(replaceErr, fmt.Errorf("failed to reopen database after swap: %w", err))
	}
	return replaceErr
}

// Checkpoint folds the WAL into the main database file and truncates it.
func (h *Handle) Checkpoint(ctx context.Context) error {
	db := h.DB()
	if db == nil {
		return ErrHandleClosed
	}

	var busy, logFrames, checkpointed int
	row := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to checkpoint wal: %w", err)
	}

	log.Info().
		Int("busy", busy).
		Int("log_frames", logFrames).
		Int("checkpointed", checkpointed).
		Msg("wal checkpoint complete")
	return nil
}

// BackupTo writes a consistent copy of the database to dest.
func (h *Handle) BackupTo(ctx context.Context, dest string) error {
	db := h.DB()
	if db == nil {
		return ErrHandleClosed
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to back up database to %s: %w", dest, err)
	}
	return nil
}
