// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mediaserver defines the external collaborator interface the
// controller's collectors and session monitor consume (spec.md §6: "the
// media-server client library" is out of scope for the core, but the
// interface it must satisfy is not). PlexClient is a concrete, plex-shaped
// implementation; any server exposing an equivalent sessions/OnDeck/
// watchlist surface can satisfy Client.
package mediaserver

import (
	"context"
	"time"

	"github.com/cacherr/ctrl/internal/model"
)

// OnDeckItem is one row of a user's OnDeck queue.
type OnDeckItem struct {
	Path          string
	ShowKey       string // empty for movies
	EpisodeIndex  int    // 0 = current
	IsCurrent     bool
	LastViewedAt  time.Time
}

// WatchlistItem is one row of a user's watchlist.
type WatchlistItem struct {
	Path           string
	ShowKey        string
	RankWithinShow int
	AddedAt        time.Time
	Aired          bool
}

// Client is the external collaborator contract every collector depends on.
// Implementations must be safe for concurrent use; all methods take a
// context carrying the per-request timeout the caller wants enforced.
type Client interface {
	// Sessions returns all currently active playback sessions.
	Sessions(ctx context.Context) ([]model.Session, error)

	// OnDeck returns userID's OnDeck queue, ordered as the server presents it.
	OnDeck(ctx context.Context, userID string) ([]OnDeckItem, error)

	// Watchlist returns userID's watchlist, ordered as the server presents it.
	Watchlist(ctx context.Context, userID string) ([]WatchlistItem, error)

	// InLibrary reports whether path is available in the local library,
	// used by the List Collector's "fill" mode.
	InLibrary(ctx context.Context, path string) (bool, error)

	// Ping verifies the client can reach the server at all; used at startup
	// for fail_fast_if_unreachable.
	Ping(ctx context.Context) error
}
