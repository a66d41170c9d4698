package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultBackupRetention is how many backups rotation keeps.
const DefaultBackupRetention = 10

const (
	backupPrefix = "pokerclock-"
	backupSuffix = ".db"
	backupLayout = "20060102T150405.000Z"
)

// SourceConfig holds primary-side settings.
type SourceConfig struct {
	BackupDir       string
	BackupRetention int
}

// Source exposes the primary's database artifact to standbys.
type Source struct {
	handle *database.Handle
	cfg    SourceConfig
	clock  clockwork.Clock
}

// NewSource creates the primary side of the channel.
func NewSource(handle *database.Handle, cfg SourceConfig, clock clockwork.Clock) *Source {
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = DefaultBackupRetention
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = handle.Config().BackupDir
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{handle: handle, cfg: cfg, clock: clock}
}

// SnapshotInfo describes the current artifact.
func (s *Source) SnapshotInfo() (models.ReplicationSnapshot, error) {
	cfg := s.handle.Config()
	return Describe(cfg.Path, cfg.WALPath())
}

// Open returns a reader over one part and its size. A missing WAL reads as
// empty.
func (s *Source) Open(part Part) (io.ReadCloser, int64, error) {
	cfg := s.handle.Config()
	var path string
	switch part {
	case PartDB:
		path = cfg.Path
	case PartWAL:
		path = cfg.WALPath()
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownPart, part)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) && part == PartWAL {
		return io.NopCloser(bytes.NewReader(nil)), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", part, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", part, err)
	}
	return f, info.Size(), nil
}

// TriggerCheckpoint folds the WAL into the database file.
func (s *Source) TriggerCheckpoint(ctx context.Context) error {
	return s.handle.Checkpoint(ctx)
}

// CreateBackup writes a consistent copy of the database and prunes backups
// beyond the retention count.
func (s *Source) CreateBackup(ctx context.Context) (models.Backup, error) {
	if err := os.MkdirAll(s.cfg.BackupDir, 0o755); err != nil {
		return models.Backup{}, fmt.Errorf("failed to create backup dir: %w", err)
	}

	now := s.clock.Now().UTC()
	name := backupPrefix + now.Format(backupLayout) + backupSuffix
	path := filepath.Join(s.cfg.BackupDir, name)
	if err := s.handle.BackupTo(ctx, path); err != nil {
		return models.Backup{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return models.Backup{}, fmt.Errorf("failed to stat backup: %w", err)
	}
	backup := models.Backup{Name: name, Path: path, SizeBytes: info.Size(), CreatedAt: now}

	log.Info().Str("path", path).Int64("size", backup.SizeBytes).Msg("backup created")

	if err := s.rotate(); err != nil {
		log.Warn().Err(err).Msg("backup rotation failed")
	}
	return backup, nil
}

// ListBackups returns the backups newest first.
func (s *Source) ListBackups() ([]models.Backup, error) {
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []models.Backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, models.Backup{
			Name:      name,
			Path:      filepath.Join(s.cfg.BackupDir, name),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	// names embed the creation time, so lexical order is chronological
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name > backups[j].Name })
	return backups, nil
}

func (s *Source) rotate() error {
	backups, err := s.ListBackups()
	if err != nil {
		return err
	}
	var errs []error
	for i := s.cfg.BackupRetention; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("path", backups[i].Path).Msg("old backup removed")
	}
	return errors.Join(errs...)
}
