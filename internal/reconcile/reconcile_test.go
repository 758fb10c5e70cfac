// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconcile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/reconcile"
	"github.com/cacherr/ctrl/internal/store"
)

func newHarness(t *testing.T, graceHours float64) (*reconcile.Reconciler, *store.Store, *pathresolver.Resolver, string, string) {
	t.Helper()
	arrayRoot := filepath.Join(t.TempDir(), "array")
	cacheRoot := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(arrayRoot, 0o755))
	require.NoError(t, os.MkdirAll(cacheRoot, 0o755))

	resolver, err := pathresolver.New([]config.RootPair{{SourceRoot: arrayRoot, CacheRoot: cacheRoot}}, nil)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	r := reconcile.New(resolver, s, graceHours)
	return r, s, resolver, arrayRoot, cacheRoot
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOrphanMarkedThenDroppedAfterTwoMisses(t *testing.T) {
	r, s, _, arrayRoot, _ := newHarness(t, 24)
	src := filepath.Join(arrayRoot, "Movies", "Gone.mkv")
	writeFile(t, src, "x")

	require.NoError(t, s.Upsert(model.CachedEntry{
		Path: src, Source: model.SourceOnDeck, SizeBytes: 1, Status: model.StatusActive,
		Users: map[string]struct{}{"alice": {}},
	}))
	// No cache-side file is ever created for src -> orphan.

	rep := r.Run(context.Background())
	assert.Equal(t, 1, rep.OrphanedMarked)
	entry, ok, err := s.Get(src)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusOrphaned, entry.Status)

	rep2 := r.Run(context.Background())
	assert.Equal(t, 1, rep2.OrphanedDropped)
	_, ok, err = s.Get(src)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUntrackedSymlinkAdopted(t *testing.T) {
	r, s, resolver, arrayRoot, _ := newHarness(t, 24)
	src := filepath.Join(arrayRoot, "Movies", "Adopt.mkv")
	resolved, err := resolver.Resolve(src)
	require.NoError(t, err)
	writeFile(t, resolved.CachePath, "cached content")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.Symlink(resolved.CachePath, src))

	rep := r.Run(context.Background())
	assert.Equal(t, 1, rep.Adopted)

	entry, ok, err := s.Get(src)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SourceManual, entry.Source)
	assert.Equal(t, model.MethodAtomicSymlink, entry.Method)
}

func TestUntrackedFileDeletedAfterGrace(t *testing.T) {
	r, _, resolver, arrayRoot, _ := newHarness(t, 0)
	src := filepath.Join(arrayRoot, "Movies", "Stray.mkv")
	resolved, err := resolver.Resolve(src)
	require.NoError(t, err)
	writeFile(t, resolved.CachePath, "stray")

	rep := r.Run(context.Background())
	assert.Equal(t, 1, rep.UntrackedDeleted)
	_, statErr := os.Stat(resolved.CachePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStaleEntryRemovedWhenArraySideGone(t *testing.T) {
	r, s, resolver, arrayRoot, _ := newHarness(t, 24)
	src := filepath.Join(arrayRoot, "Movies", "Stale.mkv")
	resolved, err := resolver.Resolve(src)
	require.NoError(t, err)
	writeFile(t, resolved.CachePath, "cache side still here")
	// Array side file never created -> array side is gone.

	require.NoError(t, s.Upsert(model.CachedEntry{
		Path: src, Source: model.SourceManual, SizeBytes: 1, Status: model.StatusActive,
		Users: map[string]struct{}{},
	}))

	rep := r.Run(context.Background())
	assert.Equal(t, 1, rep.StaleRemoved)
	_, ok, err := s.Get(src)
	require.NoError(t, err)
	assert.False(t, ok)
	_, statErr := os.Stat(resolved.CachePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSizeDriftCorrected(t *testing.T) {
	r, s, resolver, arrayRoot, _ := newHarness(t, 24)
	src := filepath.Join(arrayRoot, "Movies", "Drift.mkv")
	writeFile(t, src, "array copy untouched")
	resolved, err := resolver.Resolve(src)
	require.NoError(t, err)
	writeFile(t, resolved.CachePath, "a longer cache-side payload now")

	require.NoError(t, s.Upsert(model.CachedEntry{
		Path: src, Source: model.SourceOnDeck, SizeBytes: 1, Status: model.StatusActive,
		Users: map[string]struct{}{"alice": {}},
	}))

	rep := r.Run(context.Background())
	assert.Equal(t, 1, rep.SizeDriftFixed)
	entry, ok, err := s.Get(src)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, len("a longer cache-side payload now"), entry.SizeBytes)
}

func TestRunIsIdempotentWhenNothingDrifted(t *testing.T) {
	r, s, resolver, arrayRoot, _ := newHarness(t, 24)
	src := filepath.Join(arrayRoot, "Movies", "Clean.mkv")
	writeFile(t, src, "clean")
	resolved, err := resolver.Resolve(src)
	require.NoError(t, err)
	writeFile(t, resolved.CachePath, "clean")

	require.NoError(t, s.Upsert(model.CachedEntry{
		Path: src, Source: model.SourceOnDeck, SizeBytes: int64(len("clean")), Status: model.StatusActive,
		Users: map[string]struct{}{"alice": {}},
	}))

	rep := r.Run(context.Background())
	assert.Equal(t, reconcile.Report{}, rep)
}
