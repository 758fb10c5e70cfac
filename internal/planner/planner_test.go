// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package planner_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/planner"
)

func newResolver(t *testing.T) (*pathresolver.Resolver, string) {
	t.Helper()
	src := t.TempDir()
	cache := t.TempDir()
	r, err := pathresolver.New([]config.RootPair{{SourceRoot: src, CacheRoot: cache}}, nil)
	require.NoError(t, err)
	return r, src
}

func allowAll(string) config.UserPolicy {
	return config.UserPolicy{OnDeck: true, Watchlist: true, Lists: true}
}

func TestPlanNewCandidateBecomesCacheInTask(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "movie.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	result := planner.Plan(
		[]model.UpstreamCandidate{{Path: p, Source: model.SourceOnDeck, User: "alice"}},
		nil, nil, r, allowAll, 6, time.Now(),
	)

	require.Len(t, result.Tasks, 1)
	assert.Equal(t, planner.TaskCacheIn, result.Tasks[0].Kind)
}

func TestPlanActiveSessionIsProtectedAndScoredTerminal(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "show.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	result := planner.Plan(
		nil,
		[]model.Session{{User: "alice", Path: p, State: model.SessionPlaying}},
		nil, r, allowAll, 6, time.Now(),
	)

	entry, ok := result.Desired[p]
	require.True(t, ok)
	assert.Equal(t, 100.0, entry.Score)
	assert.True(t, entry.Protected)
}

func TestPlanTrackedEntryNoLongerDesiredBecomesRestore(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "old.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	tracked := []model.CachedEntry{{
		Path: p, Source: model.SourceWatchlist, CachedAt: time.Now().Add(-48 * time.Hour),
		Users: map[string]struct{}{"alice": {}}, Status: model.StatusActive,
	}}

	result := planner.Plan(nil, nil, tracked, r, allowAll, 6, time.Now())

	require.Len(t, result.Tasks, 1)
	assert.Equal(t, planner.TaskRestore, result.Tasks[0].Kind)
}

func TestPlanRetentionGuardBlocksEarlyRestore(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "young.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	tracked := []model.CachedEntry{{
		Path: p, Source: model.SourceWatchlist, CachedAt: time.Now().Add(-time.Hour),
		Users: map[string]struct{}{"alice": {}}, Status: model.StatusActive,
	}}

	result := planner.Plan(nil, nil, tracked, r, allowAll, 6, time.Now())
	assert.Empty(t, result.Tasks, "an entry cached less than min_retention_hours ago must never be a restore candidate")
}

func TestPlanStillDesiredTrackedEntryTouchesLastSeen(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "keep.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	tracked := []model.CachedEntry{{
		Path: p, Source: model.SourceOnDeck, CachedAt: time.Now(),
		Users: map[string]struct{}{"alice": {}}, Status: model.StatusActive,
	}}

	result := planner.Plan(
		[]model.UpstreamCandidate{{Path: p, Source: model.SourceOnDeck, User: "alice"}},
		nil, tracked, r, allowAll, 6, time.Now(),
	)

	assert.Empty(t, result.Tasks)
	assert.Contains(t, result.TouchLastSeen, p)
}

func TestPlanDisabledUserPolicyExcludesOnDeck(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "movie.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	result := planner.Plan(
		[]model.UpstreamCandidate{{Path: p, Source: model.SourceOnDeck, User: "bob"}},
		nil, nil, r,
		func(string) config.UserPolicy { return config.UserPolicy{OnDeck: false} },
		6, time.Now(),
	)

	assert.Empty(t, result.Tasks)
}

func TestPlanUnresolvablePathIsDropped(t *testing.T) {
	r, _ := newResolver(t)
	result := planner.Plan(
		[]model.UpstreamCandidate{{Path: "/not/configured/movie.mkv", Source: model.SourceOnDeck, User: "alice"}},
		nil, nil, r, allowAll, 6, time.Now(),
	)
	assert.Empty(t, result.Tasks)
}

func TestPlanMultiUserMultiSourceBonusAppliesOnceToUnion(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "e01.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	// alice has it current-in-OnDeck (45 base + 15 current-episode bonus = 60);
	// bob has it in his Watchlist, added 90 days ago (30 base - 10 stale
	// penalty = 20). The Planner must take max(60, 20) and add the
	// multi-user bonus once against the 2-user union, not fold a partial
	// bonus into either source's own score: 60 + 5 = 65 (spec.md §8
	// scenario 5), regardless of which collector is processed first.
	candidates := []model.UpstreamCandidate{
		{Path: p, Source: model.SourceOnDeck, User: "alice", Hint: model.UpstreamHint{EpisodeIndex: 0}},
		{Path: p, Source: model.SourceWatchlist, User: "bob", Hint: model.UpstreamHint{AddedAt: time.Now().Add(-90 * 24 * time.Hour)}},
	}

	result := planner.Plan(candidates, nil, nil, r, allowAll, 6, time.Now())

	entry, ok := result.Desired[p]
	require.True(t, ok)
	assert.InDelta(t, 65.0, entry.Score, 0.01)
}

func TestPlanMultiUserMultiSourceBonusIsOrderIndependent(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "e01.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	added := time.Now().Add(-90 * 24 * time.Hour)
	forward := []model.UpstreamCandidate{
		{Path: p, Source: model.SourceOnDeck, User: "alice", Hint: model.UpstreamHint{EpisodeIndex: 0}},
		{Path: p, Source: model.SourceWatchlist, User: "bob", Hint: model.UpstreamHint{AddedAt: added}},
	}
	reversed := []model.UpstreamCandidate{forward[1], forward[0]}

	now := time.Now()
	fwdResult := planner.Plan(forward, nil, nil, r, allowAll, 6, now)
	revResult := planner.Plan(reversed, nil, nil, r, allowAll, 6, now)

	assert.InDelta(t, fwdResult.Desired[p].Score, revResult.Desired[p].Score, 0.01,
		"collector processing order must not change the final score")
}

func TestPlanPendingRemovalInvisibleToPlanner(t *testing.T) {
	r, src := newResolver(t)
	p := filepath.Join(src, "gone.mkv")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	tracked := []model.CachedEntry{{
		Path: p, Source: model.SourceManual, CachedAt: time.Now().Add(-48 * time.Hour),
		Status: model.StatusPendingRemoval,
	}}

	result := planner.Plan(nil, nil, tracked, r, allowAll, 6, time.Now())
	assert.Empty(t, result.Tasks, "a pendingRemoval row must not generate a new restore task")
}
