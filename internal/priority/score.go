// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package priority is the Priority & Eviction Engine (§4.E): it scores
// every candidate or tracked file in [0, 100] from additive components and
// selects eviction victims under the configured size budget.
package priority

import (
	"math"
	"sort"
	"time"

	"github.com/cacherr/ctrl/internal/model"
)

// Base source contributions (§4.E table).
const (
	baseOnDeck      = 45.0
	baseWatchlist   = 30.0
	baseList        = 25.0
	baseManual      = 40.0
	baseActiveWatch = 100.0

	multiUserBonusPerUser = 5.0
	multiUserBonusCap     = 15.0

	cacheRecencyBonus = 15.0
	watchlistAgeBonus = 10.0
	watchlistAgePenalty = 10.0
	onDeckAgeBonus    = 10.0
	onDeckAgePenalty  = 10.0

	episodeCurrentBonus      = 15.0
	episodeNextBonus         = 10.0
	episodeNextPlusOneBonus  = 5.0

	scoreTerminal = 100.0
)

func baseForSource(s model.Source) float64 {
	switch s {
	case model.SourceOnDeck:
		return baseOnDeck
	case model.SourceWatchlist:
		return baseWatchlist
	case model.SourceList:
		return baseList
	case model.SourceManual:
		return baseManual
	case model.SourceActiveWatch:
		return baseActiveWatch
	default:
		return 0
	}
}

// Input is everything Score needs about one candidate path to produce its
// score; it merges information the Planner gathered from collectors, the
// Tracking Store and the Session Monitor.
type Input struct {
	Path           string
	Source         model.Source
	UserCount      int
	ActiveSession  bool
	CachedAt       time.Time  // zero if not yet cached
	RetentionHours float64    // cache.min_retention_hours / the decay horizon
	WatchlistAdded time.Time  // zero if not a watchlist candidate
	OnDeckLastSeen time.Time  // zero if not an OnDeck candidate
	EpisodeIndex   int        // 0 = current, 1 = next, 2 = next-plus-one; -1 = not TV; read only for OnDeck
	Now            time.Time
}

func (in Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// Score computes in's priority in [0, 100] per spec.md §4.E. Active-session
// pins the score at 100, terminal — no other component is evaluated.
func Score(in Input) float64 {
	if in.ActiveSession {
		return scoreTerminal
	}

	score := baseForSource(in.Source)

	if !in.CachedAt.IsZero() {
		age := in.now().Sub(in.CachedAt).Hours()
		retention := in.RetentionHours
		if retention <= 0 {
			retention = 1
		}
		switch {
		case age < 6:
			score += cacheRecencyBonus
		case age >= retention:
			// decayed to +0
		default:
			remaining := 1 - (age-6)/(retention-6)
			if remaining < 0 {
				remaining = 0
			}
			score += cacheRecencyBonus * remaining
		}
	}

	if !in.WatchlistAdded.IsZero() {
		age := in.now().Sub(in.WatchlistAdded)
		switch {
		case age < 7*24*time.Hour:
			score += watchlistAgeBonus
		case age > 60*24*time.Hour:
			score -= watchlistAgePenalty
		}
	}

	if !in.OnDeckLastSeen.IsZero() {
		age := in.now().Sub(in.OnDeckLastSeen)
		switch {
		case age < 24*time.Hour:
			score += onDeckAgeBonus
		case age > 14*24*time.Hour:
			score -= onDeckAgePenalty
		}
	}

	if in.Source == model.SourceOnDeck {
		switch in.EpisodeIndex {
		case 0:
			score += episodeCurrentBonus
		case 1:
			score += episodeNextBonus
		case 2:
			score += episodeNextPlusOneBonus
		}
	}

	return ApplyMultiUserBonus(score, in.UserCount)
}

// ApplyMultiUserBonus adds the multi-user bonus to a base score computed
// without it, then re-clamps to [0, 100]. userCount must be the final
// union of users across every source that produced a candidate for the
// path — the bonus is a function of "how many distinct users want this
// file", not of any single source's view of it (spec.md §4.E: a file in
// one user's OnDeck and a second user's Watchlist scores
// max(onDeck base, watchlist base) + one multi-user bonus, not a bonus
// folded into each source's score independently).
func ApplyMultiUserBonus(base float64, userCount int) float64 {
	if userCount > 1 {
		bonus := float64(userCount-1) * multiUserBonusPerUser
		if bonus > multiUserBonusCap {
			bonus = multiUserBonusCap
		}
		base += bonus
	}
	return math.Max(0, math.Min(100, base))
}

// Scored pairs a CachedEntry with its computed score, for eviction ordering.
type Scored struct {
	Entry model.CachedEntry
	Score float64
}

// Victims returns the ordered prefix of candidates (tracked entries,
// excluding the protected set) to evict in order to free toFree bytes,
// honoring mode and minPriorityForEviction (spec.md §4.E Eviction procedure
// steps 3-5). dryRun has no effect here — Victims never mutates state; the
// caller decides whether to act on the result.
func Victims(candidates []Scored, toFree int64, mode model.EvictionMode, minPriorityForEviction float64) []model.CachedEntry {
	if mode == model.EvictionNone || toFree <= 0 {
		return nil
	}

	ordered := make([]Scored, len(candidates))
	copy(ordered, candidates)

	switch mode {
	case model.EvictionFIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Entry.CachedAt.Before(ordered[j].Entry.CachedAt)
		})
	case model.EvictionSmart:
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Score != ordered[j].Score {
				return ordered[i].Score < ordered[j].Score
			}
			return CompareTies(ordered[i], ordered[j], len(ordered[i].Entry.Users), len(ordered[j].Entry.Users))
		})
	}

	var out []model.CachedEntry
	var freed int64
	for _, c := range ordered {
		if c.Score >= minPriorityForEviction {
			continue
		}
		out = append(out, c.Entry)
		freed += c.Entry.SizeBytes
		if freed >= toFree {
			break
		}
	}
	return out
}

// CompareTies breaks a tie between two equally-scored candidates per
// spec.md §4.E: higher user-count wins, then older cached_at, then
// lexicographic path. Returns true if a should sort before b.
func CompareTies(a, b Scored, aUsers, bUsers int) bool {
	if aUsers != bUsers {
		return aUsers > bUsers
	}
	if !a.Entry.CachedAt.Equal(b.Entry.CachedAt) {
		return a.Entry.CachedAt.Before(b.Entry.CachedAt)
	}
	return a.Entry.Path < b.Entry.Path
}
