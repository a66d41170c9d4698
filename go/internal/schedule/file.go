package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// File is the YAML blind schedule format:
//
//	default:
//	  - {level: 1, small_blind: 25, big_blind: 50, duration_minutes: 20}
//	tournaments:
//	  3f1c...:
//	    name: Sunday Major
//	    levels: [...]
type File struct {
	Default     []models.BlindLevel           `yaml:"default"`
	Tournaments map[string]TournamentSchedule `yaml:"tournaments"`
}

// TournamentSchedule is one tournament block of a schedule file.
type TournamentSchedule struct {
	Name          string              `yaml:"name"`
	BuyIn         int64               `yaml:"buy_in"`
	StartingChips int64               `yaml:"starting_chips"`
	Levels        []models.BlindLevel `yaml:"levels"`
}

// ParsedFile is a validated schedule file keyed by tournament id.
type ParsedFile struct {
	Default     []models.BlindLevel
	Tournaments map[uuid.UUID]TournamentSchedule
}

// ParseFile decodes and validates schedule YAML.
func ParseFile(data []byte) (*ParsedFile, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file: %w", err)
	}

	out := &ParsedFile{Tournaments: make(map[uuid.UUID]TournamentSchedule, len(f.Tournaments))}
	if len(f.Default) > 0 {
		out.Default = Normalize(f.Default)
		if err := Validate(out.Default); err != nil {
			return nil, fmt.Errorf("default schedule: %w", err)
		}
	}
	for key, ts := range f.Tournaments {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: tournament key %q is not a uuid", ErrInvalidSchedule, key)
		}
		ts.Levels = Normalize(ts.Levels)
		if err := Validate(ts.Levels); err != nil {
			return nil, fmt.Errorf("tournament %s: %w", id, err)
		}
		out.Tournaments[id] = ts
	}
	return out, nil
}

// LoadFile reads and parses the schedule file at path.
func LoadFile(path string) (*ParsedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}
	return ParseFile(data)
}

// Source resolves a tournament's levels.
type Source interface {
	Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error)
}

// FileProvider serves schedules from a YAML file, falling back to another
// source for tournaments the file does not name. The file is reloaded when
// it changes; a file that fails to parse leaves the previous schedules live.
type FileProvider struct {
	path     string
	fallback Source

	mu     sync.RWMutex
	parsed *ParsedFile
}

// NewFileProvider loads path. fallback may be nil.
func NewFileProvider(path string, fallback Source) (*FileProvider, error) {
	p := &FileProvider{path: path, fallback: fallback}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Levels returns the file's schedule for the tournament, then the fallback's,
// then the file's default schedule.
func (p *FileProvider) Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error) {
	p.mu.RLock()
	ts, ok := p.parsed.Tournaments[tournamentID]
	def := p.parsed.Default
	p.mu.RUnlock()

	if ok {
		return append([]models.BlindLevel(nil), ts.Levels...), nil
	}
	if p.fallback != nil {
		levels, err := p.fallback.Levels(ctx, tournamentID)
		if err == nil {
			return levels, nil
		}
		if !errors.Is(err, ErrNoSchedule) || len(def) == 0 {
			return nil, err
		}
	}
	if len(def) == 0 {
		return nil, ErrNoSchedule
	}
	return append([]models.BlindLevel(nil), def...), nil
}

// Snapshot returns the currently loaded file contents.
func (p *FileProvider) Snapshot() *ParsedFile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.parsed
}

// Reload re-reads the file.
func (p *FileProvider) Reload() error {
	parsed, err := LoadFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.parsed = parsed
	p.mu.Unlock()

	log.Info().
		Str("path", p.path).
		Int("tournaments", len(parsed.Tournaments)).
		Bool("has_default", len(parsed.Default) > 0).
		Msg("blind schedule file loaded")
	return nil
}

// Watch reloads the file on every write until ctx is cancelled. The parent
// directory is watched so editors that replace the file are picked up.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch schedule directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(p.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := p.Reload(); err != nil {
					log.Error().Err(err).Str("path", p.path).Msg("schedule reload failed, keeping previous schedules")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("schedule watcher error")
			}
		}
	}()
	return nil
}
