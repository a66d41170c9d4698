package dbconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds SQLite connection settings.
type Config struct {
	Path          string
	BusyTimeoutMs int
	BackupDir     string
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	timeout, err := strconv.Atoi(getEnv("DB_BUSY_TIMEOUT_MS", "5000"))
	if err != nil {
		timeout = 5000
	}

	path := getEnv("DB_PATH", "pokerclock.db")
	return Config{
		Path:          path,
		BusyTimeoutMs: timeout,
		BackupDir:     getEnv("DB_BACKUP_DIR", filepath.Join(filepath.Dir(path), "backups")),
	}
}

// DSN returns the go-sqlite3 connection string. WAL journaling is required by
// replication; immediate transactions keep writers from upgrading locks mid-tx.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_synchronous=NORMAL",
		c.Path, c.BusyTimeoutMs,
	)
}

// WALPath is the path of the write-ahead log next to the database file.
func (c Config) WALPath() string {
	return c.Path + "-wal"
}

// SHMPath is the path of the shared-memory index next to the database file.
func (c Config) SHMPath() string {
	return c.Path + "-shm"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
