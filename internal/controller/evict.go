// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/metrics"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/priority"
	"github.com/cacherr/ctrl/internal/redirect"
	"github.com/cacherr/ctrl/internal/session"
	"github.com/cacherr/ctrl/internal/store"
)

// NewPipeline builds the Redirection Pipeline wired to its own eviction
// hook (spec.md §4.E "Eviction procedure" called synchronously from within
// a cache-in that is short on space). The Pipeline and its EvictFunc are
// mutually referential, so the Pipeline pointer is captured by the closure
// before redirect.New returns it; evict is never invoked until the first
// cache-in runs, well after construction completes. hub may be nil.
func NewPipeline(cfg config.AppConfig, resolver *pathresolver.Resolver, s *store.Store, monitor *session.Monitor, hub *events.Hub) *redirect.Pipeline {
	var pipeline *redirect.Pipeline
	evict := func(ctx context.Context, toFree int64) error {
		return runEviction(ctx, cfg, s, monitor, pipeline, toFree)
	}
	var publisher events.Publisher
	if hub != nil {
		publisher = hub
	}
	pipeline = redirect.New(cfg, resolver, s, evict, publisher)
	return pipeline
}

// scoreEvictionCandidates scores every tracked entry not currently protected
// by an active session, for the eviction procedure's victim ordering
// (spec.md §4.E steps 3-4).
func scoreEvictionCandidates(cfg config.AppConfig, tracked []model.CachedEntry, protected map[string]bool) []priority.Scored {
	var scored []priority.Scored
	for _, entry := range tracked {
		if entry.Status != model.StatusActive || protected[entry.Path] {
			continue
		}
		score := priority.Score(priority.Input{
			Path:           entry.Path,
			Source:         entry.Source,
			UserCount:      len(entry.Users),
			CachedAt:       entry.CachedAt,
			RetentionHours: cfg.MinRetentionHours,
			Now:            time.Now(),
		})
		scored = append(scored, priority.Scored{Entry: entry, Score: score})
	}
	return scored
}

// runEviction scores every tracked entry not currently protected by an
// active session and restores victims, lowest-priority first, until toFree
// bytes have been freed or no further victim is eligible (spec.md §4.E
// steps 3-5).
func runEviction(ctx context.Context, cfg config.AppConfig, s *store.Store, monitor *session.Monitor, pipeline *redirect.Pipeline, toFree int64) error {
	logger := log.WithComponent("controller.evict")

	tracked, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("evict: snapshot tracking store: %w", err)
	}
	protected := monitor.ProtectedPaths()

	scored := scoreEvictionCandidates(cfg, tracked, protected)
	victims := priority.Victims(scored, toFree, cfg.Budget.Mode, cfg.Budget.MinPriorityForEviction)
	if len(victims) == 0 {
		metrics.EvictionRunsTotal.WithLabelValues("no_victim").Inc()
		return fmt.Errorf("evict: no eligible victim found for %d bytes", toFree)
	}

	var freed int64
	for _, victim := range victims {
		if ctx.Err() != nil {
			metrics.EvictionRunsTotal.WithLabelValues("cancelled").Inc()
			return ctx.Err()
		}
		if err := pipeline.Restore(ctx, victim.Path, protected[victim.Path]); err != nil {
			logger.Warn().Err(err).Str("path", victim.Path).Msg("eviction restore failed")
			continue
		}
		metrics.EvictionVictimsTotal.Inc()
		freed += victim.SizeBytes
		logger.Info().Str("path", victim.Path).Int64("bytes", victim.SizeBytes).Msg("evicted")
		if freed >= toFree {
			break
		}
	}
	if freed < toFree {
		metrics.EvictionRunsTotal.WithLabelValues("insufficient").Inc()
		return fmt.Errorf("evict: freed %d of %d requested bytes", freed, toFree)
	}
	metrics.EvictionRunsTotal.WithLabelValues("ok").Inc()
	return nil
}

// evictToBudget is the automatic, per-cycle counterpart to the Pipeline's
// own free-space safety net (cachein.go's ensureFreeSpace): every planning
// tick checks whether tracked usage has crossed evict_above_percent of
// limit_bytes and, if so, evicts down to evict_target_percent regardless of
// whether any concrete cache-in is being attempted this cycle (spec.md §4.E,
// §8 invariant 3). ran reports whether a budget breach was found at all, so
// callers can distinguish "nothing to do" from "tried and failed".
func (c *Controller) evictToBudget(ctx context.Context) (result EvictionResult, ran bool, err error) {
	if c.cfg.Budget.Mode == model.EvictionNone || c.cfg.Budget.LimitBytes <= 0 {
		return EvictionResult{}, false, nil
	}

	tracked, err := c.store.Snapshot()
	if err != nil {
		return EvictionResult{}, false, fmt.Errorf("evictToBudget: snapshot tracking store: %w", err)
	}
	var used int64
	for _, e := range tracked {
		if e.Status == model.StatusActive {
			used += e.SizeBytes
		}
	}

	above := c.cfg.Budget.AboveBytes()
	if used < above {
		return EvictionResult{}, false, nil
	}
	toFree := used - c.cfg.Budget.TargetBytes()
	if toFree <= 0 {
		return EvictionResult{}, false, nil
	}

	result, err = c.Evict(ctx, toFree, false)
	return result, true, err
}

// EvictionVictim describes one tracked entry chosen by an eviction pass.
type EvictionVictim struct {
	Path      string
	SizeBytes int64
	Score     float64
}

// EvictionResult is returned by Controller.Evict, for both previews and
// executed passes (spec.md §6 "POST /cache/evict").
type EvictionResult struct {
	Victims    []EvictionVictim
	FreedBytes int64
	DryRun     bool
}

// Evict selects eviction victims for toFree bytes using the same scoring and
// ordering as the automatic eviction procedure. When dryRun is true, no file
// is restored — the caller only learns which entries would be chosen.
func (c *Controller) Evict(ctx context.Context, toFree int64, dryRun bool) (EvictionResult, error) {
	result := EvictionResult{DryRun: dryRun}

	tracked, err := c.store.Snapshot()
	if err != nil {
		return result, fmt.Errorf("evict: snapshot tracking store: %w", err)
	}
	protected := c.monitor.ProtectedPaths()

	scored := scoreEvictionCandidates(c.cfg, tracked, protected)
	victims := priority.Victims(scored, toFree, c.cfg.Budget.Mode, c.cfg.Budget.MinPriorityForEviction)

	scoreByPath := make(map[string]float64, len(scored))
	for _, s := range scored {
		scoreByPath[s.Entry.Path] = s.Score
	}

	for _, victim := range victims {
		if dryRun {
			result.Victims = append(result.Victims, EvictionVictim{
				Path: victim.Path, SizeBytes: victim.SizeBytes, Score: scoreByPath[victim.Path],
			})
			result.FreedBytes += victim.SizeBytes
			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := c.pipeline.Restore(ctx, victim.Path, protected[victim.Path]); err != nil {
			log.WithComponent("controller.evict").Warn().Err(err).Str("path", victim.Path).Msg("eviction restore failed")
			continue
		}
		metrics.EvictionVictimsTotal.Inc()
		result.Victims = append(result.Victims, EvictionVictim{
			Path: victim.Path, SizeBytes: victim.SizeBytes, Score: scoreByPath[victim.Path],
		})
		result.FreedBytes += victim.SizeBytes
		if result.FreedBytes >= toFree {
			break
		}
	}
	if dryRun {
		metrics.EvictionRunsTotal.WithLabelValues("preview").Inc()
	} else {
		metrics.EvictionRunsTotal.WithLabelValues("ok").Inc()
	}
	return result, nil
}
