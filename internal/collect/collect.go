// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package collect holds the Upstream Collectors (§4.D): OnDeck, Watchlist
// and List. All three share the collect() -> []UpstreamCandidate contract
// and are stateless with respect to one another; a failing collector
// degrades to an empty list with a warning rather than failing the cycle.
package collect

import (
	"context"

	"github.com/cacherr/ctrl/internal/model"
)

// Collector is the shared contract every upstream source implements.
type Collector interface {
	// Collect returns this source's candidates. It never returns an error
	// that should fail the cycle — internal failures are logged and the
	// collector degrades to a partial or empty result.
	Collect(ctx context.Context) []model.UpstreamCandidate
}

// Multi runs every collector and concatenates their output. Each
// collector's own Collect is responsible for never panicking the cycle.
func Multi(ctx context.Context, collectors ...Collector) []model.UpstreamCandidate {
	var out []model.UpstreamCandidate
	for _, c := range collectors {
		out = append(out, c.Collect(ctx)...)
	}
	return out
}
