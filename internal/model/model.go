// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the value types shared across the cache controller:
// MediaFile, CachedEntry, UpstreamCandidate, Session and CacheBudget.
// Types here are plain data — no package in this module other than
// internal/store mutates a CachedEntry, and even the store only does so
// through its own upsert/mark/remove operations.
package model

import "time"

// Source identifies which upstream collector (or other mechanism) wants a file cached.
type Source string

const (
	SourceOnDeck     Source = "onDeck"
	SourceWatchlist  Source = "watchlist"
	SourceList       Source = "list"
	SourceManual     Source = "manual"
	SourceActiveWatch Source = "activeWatch"
)

// Method identifies how a file was redirected onto the cache tier.
type Method string

const (
	MethodAtomicCopy    Method = "atomicCopy"
	MethodAtomicSymlink Method = "atomicSymlink"
)

// Status is the lifecycle state of a CachedEntry row.
type Status string

const (
	StatusActive        Status = "active"
	StatusOrphaned       Status = "orphaned"
	StatusPendingRemoval Status = "pendingRemoval"
)

// Classification is the result of inspecting a path on the filesystem.
type Classification string

const (
	ClassOnCache    Classification = "onCache"
	ClassRedirected Classification = "redirected"
	ClassOnArray    Classification = "onArray"
	ClassMissing    Classification = "missing"
)

// SessionState is the playback state of a Session.
type SessionState string

const (
	SessionPlaying   SessionState = "playing"
	SessionPaused    SessionState = "paused"
	SessionBuffering SessionState = "buffering"
	SessionStopped   SessionState = "stopped"
)

// EvictionMode selects the victim-ordering strategy used by the eviction procedure.
type EvictionMode string

const (
	EvictionNone  EvictionMode = "none"
	EvictionFIFO  EvictionMode = "fifo"
	EvictionSmart EvictionMode = "smart"
)

// MediaFile is identified by its server-visible path; equality of two
// MediaFile values for identity purposes ignores everything but Path.
type MediaFile struct {
	Path       string    // server-visible, canonical, absolute, case-preserving
	SizeBytes  int64
	ModTime    time.Time
	Subtitles  []string // sibling subtitle paths, server-visible
	SourceRoot string
	ArrayPath  string
	CachePath  string
}

// CachedEntry is a row in the Tracking Store.
type CachedEntry struct {
	Path               string
	Source             Source
	CachedAt           time.Time
	LastSeenInUpstream time.Time
	SizeBytes          int64
	Users              map[string]struct{}
	Method             Method
	Status             Status
}

// CloneUsers returns a copy of the Users set, safe to mutate independently.
func (e CachedEntry) CloneUsers() map[string]struct{} {
	out := make(map[string]struct{}, len(e.Users))
	for u := range e.Users {
		out[u] = struct{}{}
	}
	return out
}

// UserList returns the Users set as a sorted-free slice (order not guaranteed).
func (e CachedEntry) UserList() []string {
	out := make([]string, 0, len(e.Users))
	for u := range e.Users {
		out = append(out, u)
	}
	return out
}

// UpstreamHint carries source-specific scoring inputs produced by a Collector.
type UpstreamHint struct {
	// OnDeck
	EpisodeIndex   int  // 0 = current, 1 = next, 2 = next-plus-one, ...
	IsCurrentOnDeck bool
	LastSeenAt     time.Time

	// Watchlist
	AddedAt       time.Time
	RankWithinShow int

	// List
	ListID string
	Rank   int
}

// UpstreamCandidate is produced by a Collector. Non-unique across collectors;
// the Planner is responsible for deduplication.
type UpstreamCandidate struct {
	Path   string
	Source Source
	User   string
	Hint   UpstreamHint
}

// Session describes an in-progress (or recently stopped) playback on the media server.
type Session struct {
	User     string
	Path     string
	State    SessionState
	Progress float64 // fraction in [0,1]
}

// Active reports whether the session currently protects its path.
func (s Session) Active() bool {
	return s.State != SessionStopped && s.State != ""
}

// CacheBudget configures the size budget and eviction policy.
type CacheBudget struct {
	LimitBytes             int64
	EvictAbovePercent      float64
	EvictTargetPercent     float64
	Mode                   EvictionMode
	MinPriorityForEviction float64
}

// TargetBytes returns the byte count eviction should bring usage down to.
func (b CacheBudget) TargetBytes() int64 {
	return int64(float64(b.LimitBytes) * b.EvictTargetPercent / 100)
}

// AboveBytes returns the byte threshold that triggers eviction.
func (b CacheBudget) AboveBytes() int64 {
	return int64(float64(b.LimitBytes) * b.EvictAbovePercent / 100)
}
