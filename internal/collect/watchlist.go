// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package collect

import (
	"context"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/mediaserver"
	"github.com/cacherr/ctrl/internal/metrics"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/ratelimit"
)

// WatchlistCollector fetches each enabled user's watchlist and emits the
// first EpisodesPerShow already-aired episodes of each show (spec.md §4.D).
type WatchlistCollector struct {
	Client          mediaserver.Client
	Limiter         *ratelimit.Limiter
	Users           []string
	PolicyFor       func(userID string) config.UserPolicy
	EpisodesPerShow int
}

var _ Collector = (*WatchlistCollector)(nil)

// Collect implements Collector.
func (c *WatchlistCollector) Collect(ctx context.Context) []model.UpstreamCandidate {
	logger := log.WithComponent("collect.watchlist")
	var out []model.UpstreamCandidate

	for _, user := range c.Users {
		policy := c.PolicyFor(user)
		if !policy.Watchlist || policy.Excluded {
			continue
		}

		release, err := c.Limiter.Acquire(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("user", user).Msg("watchlist collect aborted: rate limiter wait cancelled")
			continue
		}
		items, err := c.Client.Watchlist(ctx, user)
		release()
		if err != nil {
			metrics.CollectorDegradedTotal.WithLabelValues("watchlist").Inc()
			logger.Warn().Err(err).Str("user", user).Msg("watchlist fetch failed; degrading to empty for this user")
			continue
		}

		perShowCount := make(map[string]int)
		for _, item := range items {
			if !item.Aired {
				continue
			}
			if item.ShowKey != "" {
				limit := c.EpisodesPerShow
				if limit <= 0 {
					limit = 3
				}
				if perShowCount[item.ShowKey] >= limit {
					continue
				}
				perShowCount[item.ShowKey]++
			}
			out = append(out, model.UpstreamCandidate{
				Path:   item.Path,
				Source: model.SourceWatchlist,
				User:   user,
				Hint: model.UpstreamHint{
					AddedAt:        item.AddedAt,
					RankWithinShow: item.RankWithinShow,
				},
			})
		}
	}
	return out
}
