// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the Tracking Store (§4.B): a crash-safe key-value index
// of CachedEntry rows keyed by server-visible path, backed by an embedded
// transactional KV (dgraph-io/badger/v4). Writes go through badger's own
// single-writer serialisation; reads use View transactions against badger's
// MVCC snapshot, so a snapshot() never observes a torn row even while a
// concurrent upsert is in flight.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/model"
)

const keyPrefix = "entry:"

// Store is the Tracking Store. The zero value is not usable; build one with Open.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(path string) []byte {
	return []byte(keyPrefix + path)
}

// legalTransitions enumerates the allowed status moves; anything absent
// from this table is illegal (spec.md §4.B: "active -> pendingRemoval ->
// active is illegal").
var legalTransitions = map[model.Status]map[model.Status]bool{
	model.StatusActive: {
		model.StatusOrphaned:       true,
		model.StatusPendingRemoval: true,
	},
	model.StatusOrphaned: {
		model.StatusActive:        true,
		model.StatusPendingRemoval: true,
	},
	model.StatusPendingRemoval: {},
}

func (s *Store) get(txn *badger.Txn, path string) (model.CachedEntry, bool, error) {
	item, err := txn.Get(entryKey(path))
	if err == badger.ErrKeyNotFound {
		return model.CachedEntry{}, false, nil
	}
	if err != nil {
		return model.CachedEntry{}, false, ctrlerr.New(ctrlerr.KindStoreCorrupt, path, "read failed", err)
	}
	var entry model.CachedEntry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return model.CachedEntry{}, false, ctrlerr.New(ctrlerr.KindStoreCorrupt, path, "corrupt record", err)
	}
	return entry, true, nil
}

func (s *Store) put(txn *badger.Txn, entry model.CachedEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", entry.Path, err)
	}
	return txn.Set(entryKey(entry.Path), buf)
}

// Upsert atomically inserts or merges entry. On merge, the Users set is
// unioned with the existing row and cached_at is preserved (spec.md §4.B).
func (s *Store) Upsert(entry model.CachedEntry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		existing, ok, err := s.get(txn, entry.Path)
		if err != nil {
			return err
		}
		if ok {
			merged := existing.CloneUsers()
			for u := range entry.Users {
				merged[u] = struct{}{}
			}
			entry.Users = merged
			entry.CachedAt = existing.CachedAt
		}
		return s.put(txn, entry)
	})
}

// Mark performs a status transition, rejecting illegal ones.
func (s *Store) Mark(path string, status model.Status) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry, ok, err := s.get(txn, path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ctrlerr.ErrNotTracked, path)
		}
		if entry.Status != status && !legalTransitions[entry.Status][status] {
			return ctrlerr.New(ctrlerr.KindIllegalTransition, path,
				fmt.Sprintf("%s -> %s", entry.Status, status), ctrlerr.ErrIllegalTransition)
		}
		entry.Status = status
		return s.put(txn, entry)
	})
}

// Remove hard-deletes path. Callers must hold the redirection lock for path.
func (s *Store) Remove(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(path))
	})
}

// Get returns the current row for path, if tracked.
func (s *Store) Get(path string) (model.CachedEntry, bool, error) {
	var out model.CachedEntry
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		e, ok, err := s.get(txn, path)
		if err != nil {
			return err
		}
		out, found = e, ok
		return nil
	})
	return out, found, err
}

// Snapshot returns an immutable view of every tracked row, safe to score
// against without blocking concurrent writers.
func (s *Store) Snapshot() ([]model.CachedEntry, error) {
	var out []model.CachedEntry
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry model.CachedEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue // a torn/corrupt record is discarded, never surfaced
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// BySource filters a snapshot to entries from the given source.
func (s *Store) BySource(source model.Source) ([]model.CachedEntry, error) {
	all, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []model.CachedEntry
	for _, e := range all {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out, nil
}

// ForUser filters a snapshot to entries whose Users set contains userID.
func (s *Store) ForUser(userID string) ([]model.CachedEntry, error) {
	all, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []model.CachedEntry
	for _, e := range all {
		if _, ok := e.Users[userID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// TouchLastSeen refreshes last_seen_in_upstream for path. The Controller
// Loop calls it for the still-desired tracked paths the Planner lists
// (spec.md §4.F), and the Pipeline for a cache-in of an already-cached path.
func (s *Store) TouchLastSeen(path string, at time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry, ok, err := s.get(txn, path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ctrlerr.ErrNotTracked, path)
		}
		entry.LastSeenInUpstream = at
		return s.put(txn, entry)
	})
}
