package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Provider hands out the current connection pool. Repositories hold a Provider
// rather than a *sql.DB because the replication swap replaces the pool.
type Provider interface {
	DB() *sql.DB
}

type staticProvider struct {
	db *sql.DB
}

func (s staticProvider) DB() *sql.DB { return s.db }

// StaticProvider wraps a fixed pool.
func StaticProvider(db *sql.DB) Provider {
	return staticProvider{db: db}
}

// Open opens and pings the SQLite database described by cfg.
func Open(cfg dbconfig.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// m.Close would close db through the driver, so only the source is released.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.Debug().Uint("version", version).Bool("dirty", dirty).Msg("database schema migrated")
	}
	return nil
}

// OpenAndMigrate is the common startup path.
func OpenAndMigrate(cfg dbconfig.Config) (*sql.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
