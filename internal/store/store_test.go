// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertMergesUsers(t *testing.T) {
	s := openTestStore(t)

	first := model.CachedEntry{
		Path: "/cache/Movies/Arrival.mkv", Source: model.SourceOnDeck,
		CachedAt: time.Unix(1000, 0), SizeBytes: 100,
		Users: map[string]struct{}{"alice": {}}, Status: model.StatusActive,
	}
	require.NoError(t, s.Upsert(first))

	second := model.CachedEntry{
		Path: first.Path, Source: model.SourceOnDeck,
		CachedAt: time.Unix(2000, 0), SizeBytes: 100,
		Users: map[string]struct{}{"bob": {}}, Status: model.StatusActive,
	}
	require.NoError(t, s.Upsert(second))

	got, ok, err := s.Get(first.Path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Users, 2)
	assert.Equal(t, time.Unix(1000, 0).Unix(), got.CachedAt.Unix(), "cached_at must be preserved on merge")
}

func TestMarkRejectsIllegalTransition(t *testing.T) {
	s := openTestStore(t)
	entry := model.CachedEntry{
		Path: "/cache/movie.mkv", Source: model.SourceManual, CachedAt: time.Now(),
		Status: model.StatusActive,
	}
	require.NoError(t, s.Upsert(entry))

	require.NoError(t, s.Mark(entry.Path, model.StatusPendingRemoval))

	err := s.Mark(entry.Path, model.StatusActive)
	assert.ErrorIs(t, err, ctrlerr.ErrIllegalTransition)
}

func TestMarkUnknownPath(t *testing.T) {
	s := openTestStore(t)
	err := s.Mark("/cache/nope.mkv", model.StatusOrphaned)
	assert.ErrorIs(t, err, ctrlerr.ErrNotTracked)
}

func TestSnapshotAndFilters(t *testing.T) {
	s := openTestStore(t)
	entries := []model.CachedEntry{
		{Path: "/a.mkv", Source: model.SourceOnDeck, Users: map[string]struct{}{"alice": {}}, Status: model.StatusActive, CachedAt: time.Now()},
		{Path: "/b.mkv", Source: model.SourceWatchlist, Users: map[string]struct{}{"bob": {}}, Status: model.StatusActive, CachedAt: time.Now()},
	}
	for _, e := range entries {
		require.NoError(t, s.Upsert(e))
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap, 2)

	bySource, err := s.BySource(model.SourceOnDeck)
	require.NoError(t, err)
	assert.Len(t, bySource, 1)
	assert.Equal(t, "/a.mkv", bySource[0].Path)

	forAlice, err := s.ForUser("alice")
	require.NoError(t, err)
	assert.Len(t, forAlice, 1)
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	entry := model.CachedEntry{Path: "/gone.mkv", Status: model.StatusActive, CachedAt: time.Now()}
	require.NoError(t, s.Upsert(entry))
	require.NoError(t, s.Remove(entry.Path))

	_, ok, err := s.Get(entry.Path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTouchLastSeen(t *testing.T) {
	s := openTestStore(t)
	entry := model.CachedEntry{Path: "/touch.mkv", Status: model.StatusActive, CachedAt: time.Now()}
	require.NoError(t, s.Upsert(entry))

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.TouchLastSeen(entry.Path, now))

	got, ok, err := s.Get(entry.Path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now.Unix(), got.LastSeenInUpstream.Unix())
}
