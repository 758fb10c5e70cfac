// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package planner is the Candidate Planner (§4.F): it joins collector
// output, the session set and the Tracking Store snapshot into the
// Desired Cache Set, applying per-user policy and the retention guard.
package planner

import (
	"time"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/priority"
)

// DesiredEntry is one row of the Desired Cache Set: path -> (score, users, source_mix).
type DesiredEntry struct {
	Path       string
	Score      float64
	Users      map[string]struct{}
	SourceMix  map[model.Source]bool
	Protected  bool
	EpisodeIdx int
}

// TaskKind distinguishes a cache-in task from a restore task.
type TaskKind string

const (
	TaskCacheIn TaskKind = "cacheIn"
	TaskRestore TaskKind = "restore"
)

// Task is one unit of work the Redirection Pipeline must execute.
type Task struct {
	Path      string
	Kind      TaskKind
	Score     float64
	Protected bool
}

// Result is the Planner's per-cycle output.
type Result struct {
	Desired map[string]DesiredEntry
	Tasks   []Task
	// TouchLastSeen lists paths whose Tracking Store last_seen_in_upstream
	// should be refreshed, as a by-product of this cycle (spec.md §4.F).
	TouchLastSeen []string
}

// Plan executes the Candidate Planner algorithm (spec.md §4.F, steps 1-6).
func Plan(
	candidates []model.UpstreamCandidate,
	sessions []model.Session,
	tracked []model.CachedEntry,
	resolver *pathresolver.Resolver,
	userPolicy func(userID string) config.UserPolicy,
	minRetentionHours float64,
	now time.Time,
) Result {
	logger := log.WithComponent("planner")

	protected := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if s.Active() {
			protected[s.Path] = true
		}
	}

	// Step 1-3: union collector outputs, drop unresolvable paths, apply
	// per-user enable flags. baseScores holds each path's best per-source
	// score computed without the multi-user bonus; the bonus is applied
	// once, after every candidate for a path has been merged, against the
	// final union of users (spec.md §4.E, §8 scenario 5).
	desired := make(map[string]DesiredEntry)
	baseScores := make(map[string]float64)
	unknownRootLogged := make(map[string]bool)
	for _, c := range candidates {
		policy := userPolicy(c.User)
		if policy.Excluded {
			continue
		}
		switch c.Source {
		case model.SourceOnDeck:
			if !policy.OnDeck {
				continue
			}
		case model.SourceWatchlist:
			if !policy.Watchlist {
				continue
			}
		case model.SourceList:
			if !policy.Lists {
				continue
			}
		}

		if _, err := resolver.Resolve(c.Path); err != nil {
			if !unknownRootLogged[c.Path] {
				logger.Warn().Str("path", c.Path).Msg("candidate path resolves under no configured root")
				unknownRootLogged[c.Path] = true
			}
			continue
		}

		entry, ok := desired[c.Path]
		if !ok {
			entry = DesiredEntry{
				Path:      c.Path,
				Users:     make(map[string]struct{}),
				SourceMix: make(map[model.Source]bool),
			}
		}
		entry.Users[c.User] = struct{}{}
		entry.SourceMix[c.Source] = true
		if c.Source == model.SourceOnDeck {
			entry.EpisodeIdx = c.Hint.EpisodeIndex
		}

		base := scoreCandidate(c, protected[c.Path], 1, minRetentionHours, tracked, now)
		if base > baseScores[c.Path] {
			baseScores[c.Path] = base
		}
		entry.Protected = entry.Protected || protected[c.Path]
		desired[c.Path] = entry
	}

	for path, entry := range desired {
		if entry.Protected {
			continue // active-session entries are scored terminal below, untouched by the bonus
		}
		entry.Score = priority.ApplyMultiUserBonus(baseScores[path], len(entry.Users))
		desired[path] = entry
	}

	// Sessions always enter the Desired Set regardless of score, even with
	// no corresponding collector candidate (spec.md §4.C).
	for _, s := range sessions {
		if !s.Active() {
			continue
		}
		if _, err := resolver.Resolve(s.Path); err != nil {
			continue
		}
		entry, ok := desired[s.Path]
		if !ok {
			entry = DesiredEntry{
				Path:      s.Path,
				Users:     make(map[string]struct{}),
				SourceMix: make(map[model.Source]bool),
			}
		}
		entry.Users[s.User] = struct{}{}
		entry.SourceMix[model.SourceActiveWatch] = true
		entry.Score = 100
		entry.Protected = true
		desired[s.Path] = entry
	}

	// Step 2: subtitle siblings inherit the parent's score and source.
	for path, entry := range desired {
		for _, sub := range resolver.SubtitleSiblings(path) {
			if _, exists := desired[sub]; exists {
				continue
			}
			desired[sub] = DesiredEntry{
				Path: sub, Score: entry.Score, Users: entry.Users,
				SourceMix: entry.SourceMix, Protected: entry.Protected,
			}
		}
	}

	trackedByPath := make(map[string]model.CachedEntry, len(tracked))
	for _, e := range tracked {
		if e.Status == model.StatusPendingRemoval {
			continue // invisible to the Planner (spec.md §3 invariant iv)
		}
		trackedByPath[e.Path] = e
	}

	var tasks []Task
	var touch []string

	for path, entry := range desired {
		if _, isTracked := trackedByPath[path]; isTracked {
			touch = append(touch, path)
			continue
		}
		tasks = append(tasks, Task{Path: path, Kind: TaskCacheIn, Score: entry.Score, Protected: entry.Protected})
	}

	for path, entry := range trackedByPath {
		if _, stillDesired := desired[path]; stillDesired {
			continue
		}
		if protected[path] {
			continue
		}
		if now.Sub(entry.CachedAt).Hours() < minRetentionHours {
			continue // retention guard, spec.md §4.F step 6
		}
		tasks = append(tasks, Task{Path: path, Kind: TaskRestore, Score: priority.Score(priority.Input{
			Source: entry.Source, UserCount: len(entry.Users), CachedAt: entry.CachedAt, Now: now,
		})})
	}

	return Result{Desired: desired, Tasks: tasks, TouchLastSeen: touch}
}

func scoreCandidate(c model.UpstreamCandidate, activeSession bool, userCount int, minRetentionHours float64, tracked []model.CachedEntry, now time.Time) float64 {
	in := priority.Input{
		Path: c.Path, Source: c.Source, UserCount: userCount,
		ActiveSession: activeSession, RetentionHours: minRetentionHours, Now: now,
	}
	switch c.Source {
	case model.SourceWatchlist:
		in.WatchlistAdded = c.Hint.AddedAt
	case model.SourceOnDeck:
		in.OnDeckLastSeen = c.Hint.LastSeenAt
		in.EpisodeIndex = c.Hint.EpisodeIndex
	}
	for _, t := range tracked {
		if t.Path == c.Path {
			in.CachedAt = t.CachedAt
			break
		}
	}
	return priority.Score(in)
}
