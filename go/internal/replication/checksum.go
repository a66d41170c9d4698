package replication

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/mcdev12/pokerclock/go/internal/models"
	"golang.org/x/crypto/blake2b"
)

// Part names one file of the replicated artifact.
type Part string

const (
	PartDB  Part = "db"
	PartWAL Part = "wal"
)

// ParsePart validates a part name.
func ParsePart(s string) (Part, error) {
	switch Part(s) {
	case PartDB, PartWAL:
		return Part(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPart, s)
}

// newDigest returns the artifact hash: BLAKE2b-256 over the database bytes
// followed by the WAL bytes.
func newDigest() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for oversized keys
		panic(err)
	}
	return h
}

// Describe computes the snapshot of the artifact made of dbPath and walPath.
// A missing WAL counts as empty; a missing database file means the artifact
// does not exist.
func Describe(dbPath, walPath string) (models.ReplicationSnapshot, error) {
	dbInfo, err := os.Stat(dbPath)
	if errors.Is(err, fs.ErrNotExist) {
		return models.ReplicationSnapshot{Exists: false}, nil
	}
	if err != nil {
		return models.ReplicationSnapshot{}, fmt.Errorf("failed to stat database: %w", err)
	}

	h := newDigest()
	size, err := hashFile(h, dbPath)
	if err != nil {
		return models.ReplicationSnapshot{}, err
	}
	modified := dbInfo.ModTime()

	walSize, err := hashFile(h, walPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.ReplicationSnapshot{}, err
	}
	if err == nil {
		size += walSize
		if walInfo, statErr := os.Stat(walPath); statErr == nil && walInfo.ModTime().After(modified) {
			modified = walInfo.ModTime()
		}
	}

	return models.ReplicationSnapshot{
		Exists:       true,
		SizeBytes:    size,
		LastModified: modified.UTC().Truncate(time.Millisecond),
		Checksum:     hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func hashFile(h hash.Hash, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.Copy(h, f)
	if err != nil {
		return n, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return n, nil
}
