// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/cacherr/ctrl/internal/persistence/sqlite"
)

// Index is the rebuildable path->size/status sidecar described in spec.md
// §9 "Persisted state": it exists purely to answer size/listing queries
// without paying badger's JSON-unmarshal cost on every request, and is
// never the system of record. Deleting the file and calling EnsureFresh
// (or Rebuild) is always safe.
type Index struct {
	db *sql.DB
}

const createIndexSchema = `
CREATE TABLE IF NOT EXISTS cache_index (
	path       TEXT PRIMARY KEY,
	size_bytes INTEGER NOT NULL,
	cached_at  INTEGER NOT NULL,
	status     TEXT NOT NULL,
	source     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_index_status ON cache_index(status);
`

// OpenIndex opens (or creates) the sidecar database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("store: open sidecar index: %w", err)
	}
	if _, err := db.Exec(createIndexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create sidecar schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the sidecar database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Rebuild truncates the sidecar and repopulates it from a fresh snapshot of
// the authoritative Tracking Store. Called at startup when the sidecar file
// is missing or fails its integrity check, and may be called on demand.
func (i *Index) Rebuild(s *Store) error {
	entries, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("store: snapshot for rebuild: %w", err)
	}

	tx, err := i.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin rebuild tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM cache_index"); err != nil {
		return fmt.Errorf("store: clear sidecar: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO cache_index(path, size_bytes, cached_at, status, source) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.Path, e.SizeBytes, e.CachedAt.Unix(), string(e.Status), string(e.Source)); err != nil {
			return fmt.Errorf("store: insert %s: %w", e.Path, err)
		}
	}
	return tx.Commit()
}

// TotalCachedBytes sums size_bytes across every row with status = active.
// The eviction budget check does not call it; it reads the Tracking Store.
func (i *Index) TotalCachedBytes() (int64, error) {
	var total sql.NullInt64
	err := i.db.QueryRow(`SELECT SUM(size_bytes) FROM cache_index WHERE status = 'active'`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: sum cached bytes: %w", err)
	}
	return total.Int64, nil
}

// CountByStatus returns the row count for a given status. /cache/stats does
// not call it; it reads the Tracking Store.
func (i *Index) CountByStatus(status string) (int, error) {
	var n int
	err := i.db.QueryRow(`SELECT COUNT(*) FROM cache_index WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count by status: %w", err)
	}
	return n, nil
}

// EnsureFresh verifies the sidecar's integrity; on any corruption it deletes
// and rebuilds the file from authoritative, per the "deletion triggers
// rebuild on next start" contract.
func EnsureFresh(path string, s *Store) (*Index, error) {
	if msgs, err := sqlite.VerifyIntegrity(path, "quick"); err != nil || len(msgs) > 0 {
		_ = os.Remove(path)
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
	}
	idx, err := OpenIndex(path)
	if err != nil {
		return nil, err
	}
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM cache_index`).Scan(&n); err == nil && n == 0 {
		if err := idx.Rebuild(s); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	return idx, nil
}
