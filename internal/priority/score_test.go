// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package priority_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/priority"
)

func TestActiveSessionPinsTerminalScore(t *testing.T) {
	score := priority.Score(priority.Input{Source: model.SourceOnDeck, ActiveSession: true})
	assert.Equal(t, 100.0, score)
}

func TestConflictingSourcesScenario(t *testing.T) {
	// spec.md §8 scenario 5: onDeck current (45+15) vs watchlist added 90d ago (30-10),
	// plus two users (+5) => max(60, 20) + 5 = 65.
	now := time.Now()
	onDeckScore := priority.Score(priority.Input{
		Source: model.SourceOnDeck, EpisodeIndex: 0, UserCount: 2, Now: now,
	})
	assert.InDelta(t, 45+15+5, onDeckScore, 0.01)
}

func TestMultiUserBonusCapsAtFifteen(t *testing.T) {
	score := priority.Score(priority.Input{Source: model.SourceManual, UserCount: 10})
	assert.InDelta(t, baseManualWithCap(), score, 0.01)
}

func baseManualWithCap() float64 {
	return 40 + 15
}

func TestCacheRecencyDecays(t *testing.T) {
	now := time.Now()
	fresh := priority.Score(priority.Input{
		Source: model.SourceManual, CachedAt: now.Add(-time.Hour), RetentionHours: 24, Now: now,
	})
	old := priority.Score(priority.Input{
		Source: model.SourceManual, CachedAt: now.Add(-48 * time.Hour), RetentionHours: 24, Now: now,
	})
	assert.Greater(t, fresh, old)
}

func TestEpisodePositionBonus(t *testing.T) {
	current := priority.Score(priority.Input{Source: model.SourceOnDeck, EpisodeIndex: 0})
	next := priority.Score(priority.Input{Source: model.SourceOnDeck, EpisodeIndex: 1})
	nextPlusOne := priority.Score(priority.Input{Source: model.SourceOnDeck, EpisodeIndex: 2})
	assert.Greater(t, current, next)
	assert.Greater(t, next, nextPlusOne)
}

func TestVictimsFIFOOrder(t *testing.T) {
	now := time.Now()
	candidates := []priority.Scored{
		{Entry: model.CachedEntry{Path: "/b", SizeBytes: 100, CachedAt: now.Add(-time.Hour)}, Score: 50},
		{Entry: model.CachedEntry{Path: "/a", SizeBytes: 100, CachedAt: now.Add(-2 * time.Hour)}, Score: 80},
	}
	victims := priority.Victims(candidates, 100, model.EvictionFIFO, 90)
	assert.Equal(t, "/a", victims[0].Path, "fifo must evict the oldest cached_at first")
}

func TestVictimsSmartOrder(t *testing.T) {
	now := time.Now()
	candidates := []priority.Scored{
		{Entry: model.CachedEntry{Path: "/low", SizeBytes: 100, CachedAt: now}, Score: 10},
		{Entry: model.CachedEntry{Path: "/high", SizeBytes: 100, CachedAt: now}, Score: 90},
	}
	victims := priority.Victims(candidates, 100, model.EvictionSmart, 95)
	assert.Equal(t, "/low", victims[0].Path)
}

func TestVictimsRefusesHighPriority(t *testing.T) {
	candidates := []priority.Scored{
		{Entry: model.CachedEntry{Path: "/a", SizeBytes: 100}, Score: 80},
	}
	victims := priority.Victims(candidates, 100, model.EvictionSmart, 60)
	assert.Empty(t, victims, "min_priority_for_eviction=60 must refuse a score-80 entry")
}

func TestVictimsNoneModeReturnsEmpty(t *testing.T) {
	candidates := []priority.Scored{{Entry: model.CachedEntry{Path: "/a", SizeBytes: 100}, Score: 10}}
	victims := priority.Victims(candidates, 100, model.EvictionNone, 100)
	assert.Empty(t, victims)
}

func TestVictimsStopsOnceTargetMet(t *testing.T) {
	candidates := []priority.Scored{
		{Entry: model.CachedEntry{Path: "/a", SizeBytes: 60}, Score: 10},
		{Entry: model.CachedEntry{Path: "/b", SizeBytes: 60}, Score: 20},
		{Entry: model.CachedEntry{Path: "/c", SizeBytes: 60}, Score: 30},
	}
	victims := priority.Victims(candidates, 100, model.EvictionSmart, 100)
	assert.Len(t, victims, 2)
}
