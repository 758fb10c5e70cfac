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

// OnDeckCollector fetches each enabled user's OnDeck queue and emits the
// current episode plus the next N-1 (spec.md §4.D).
type OnDeckCollector struct {
	Client      mediaserver.Client
	Limiter     *ratelimit.Limiter
	Users       []string
	PolicyFor   func(userID string) config.UserPolicy
	DefaultAhead int
}

var _ Collector = (*OnDeckCollector)(nil)

// Collect implements Collector.
func (c *OnDeckCollector) Collect(ctx context.Context) []model.UpstreamCandidate {
	logger := log.WithComponent("collect.ondeck")
	var out []model.UpstreamCandidate

	for _, user := range c.Users {
		policy := c.PolicyFor(user)
		if !policy.OnDeck || policy.Excluded {
			continue
		}

		release, err := c.Limiter.Acquire(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("user", user).Msg("ondeck collect aborted: rate limiter wait cancelled")
			continue
		}
		items, err := c.Client.OnDeck(ctx, user)
		release()
		if err != nil {
			metrics.CollectorDegradedTotal.WithLabelValues("ondeck").Inc()
			logger.Warn().Err(err).Str("user", user).Msg("ondeck fetch failed; degrading to empty for this user")
			continue
		}

		ahead := policy.OnDeckEpisodesAhead
		if ahead <= 0 {
			ahead = c.DefaultAhead
		}
		if ahead <= 0 {
			ahead = 5
		}

		// Movies (ShowKey == "") always emit a single candidate; TV items
		// beyond the configured ahead window are dropped.
		for _, item := range items {
			if item.ShowKey != "" && item.EpisodeIndex >= ahead {
				continue
			}
			out = append(out, model.UpstreamCandidate{
				Path:   item.Path,
				Source: model.SourceOnDeck,
				User:   user,
				Hint: model.UpstreamHint{
					EpisodeIndex:    item.EpisodeIndex,
					IsCurrentOnDeck: item.IsCurrent,
					LastSeenAt:      item.LastViewedAt,
				},
			})
		}
	}
	return out
}
