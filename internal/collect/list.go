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

// ListItem is one row returned by a Fetcher, ordered by provider rank.
type ListItem struct {
	Path string
	Rank int
}

// Fetcher is the pluggable per-provider fetch strategy. Spec.md §9 leaves
// "Radarr-style" external list wire contracts unspecified; callers supply
// whichever Fetcher matches their chosen provider (trending, popular, a
// custom URL). ListCollector itself only implements the strict/fill
// selection semantics on top of whatever Fetcher returns.
type Fetcher interface {
	Fetch(ctx context.Context, list config.ListConfig) ([]ListItem, error)
}

// ListCollector fetches each configured external list up to Count items,
// in strict or fill mode (spec.md §4.D).
type ListCollector struct {
	Fetcher Fetcher
	Client  mediaserver.Client
	Limiter *ratelimit.Limiter
	Lists   []config.ListConfig
}

var _ Collector = (*ListCollector)(nil)

// Collect implements Collector.
func (c *ListCollector) Collect(ctx context.Context) []model.UpstreamCandidate {
	logger := log.WithComponent("collect.list")
	var out []model.UpstreamCandidate

	for _, list := range c.Lists {
		release, err := c.Limiter.Acquire(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("list", list.ID).Msg("list collect aborted: rate limiter wait cancelled")
			continue
		}
		items, err := c.Fetcher.Fetch(ctx, list)
		release()
		if err != nil {
			metrics.CollectorDegradedTotal.WithLabelValues("list").Inc()
			logger.Warn().Err(err).Str("list", list.ID).Msg("list fetch failed; degrading to empty for this list")
			continue
		}

		count := list.Count
		if count <= 0 {
			count = 20
		}

		switch list.Mode {
		case "fill":
			out = append(out, c.collectFill(ctx, list, items, count)...)
		default: // "strict"
			for i, item := range items {
				if i >= count {
					break
				}
				out = append(out, toCandidate(list.ID, item))
			}
		}
	}
	return out
}

func (c *ListCollector) collectFill(ctx context.Context, list config.ListConfig, items []ListItem, count int) []model.UpstreamCandidate {
	fillLimit := list.FillLimit
	if fillLimit <= 0 || fillLimit > len(items) {
		fillLimit = len(items)
	}

	var out []model.UpstreamCandidate
	for i := 0; i < fillLimit && len(out) < count; i++ {
		available, err := c.Client.InLibrary(ctx, items[i].Path)
		if err != nil || !available {
			continue
		}
		out = append(out, toCandidate(list.ID, items[i]))
	}
	return out
}

func toCandidate(listID string, item ListItem) model.UpstreamCandidate {
	return model.UpstreamCandidate{
		Path:   item.Path,
		Source: model.SourceList,
		Hint:   model.UpstreamHint{ListID: listID, Rank: item.Rank},
	}
}
