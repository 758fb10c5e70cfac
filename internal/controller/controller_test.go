// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacherr/ctrl/internal/collect"
	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/controller"
	"github.com/cacherr/ctrl/internal/mediaserver"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/ratelimit"
	"github.com/cacherr/ctrl/internal/reconcile"
	"github.com/cacherr/ctrl/internal/session"
	"github.com/cacherr/ctrl/internal/store"
)

// fakeCollector emits a fixed candidate set, mirroring the pattern used by
// the collect package's own tests.
type fakeCollector struct {
	candidates []model.UpstreamCandidate
}

func (f *fakeCollector) Collect(ctx context.Context) []model.UpstreamCandidate {
	return f.candidates
}

func newTestHarness(t *testing.T, candidates []model.UpstreamCandidate) (*controller.Controller, *store.Store, string, string) {
	t.Helper()
	arrayRoot := filepath.Join(t.TempDir(), "array")
	cacheRoot := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(arrayRoot, 0o755))
	require.NoError(t, os.MkdirAll(cacheRoot, 0o755))

	resolver, err := pathresolver.New([]config.RootPair{{SourceRoot: arrayRoot, CacheRoot: cacheRoot}}, nil)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := &mediaserver.MockClient{
		SessionsFunc: func(ctx context.Context) ([]model.Session, error) { return nil, nil },
	}
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 10, MaxConcurrent: 4})
	monitor := session.New(client, limiter, session.Config{})

	cfg := config.AppConfig{
		PlanInterval:        50 * time.Millisecond,
		SessionPollInterval: 50 * time.Millisecond,
		ReconcileInterval:   time.Hour,
		MinRetentionHours:   6,
		Budget: model.CacheBudget{
			LimitBytes: 1 << 30, EvictAbovePercent: 90, Mode: model.EvictionSmart, MinPriorityForEviction: 20,
		},
	}

	pipeline := controller.NewPipeline(cfg, resolver, s, monitor, nil)
	reconciler := reconcile.New(resolver, s, 24)

	c := controller.New(cfg, resolver, s, monitor, []collect.Collector{&fakeCollector{candidates: candidates}}, pipeline, reconciler, nil)
	return c, s, arrayRoot, cacheRoot
}

func TestTriggerTickCachesInPlannedCandidate(t *testing.T) {
	arrayRoot := filepath.Join(t.TempDir(), "array")
	require.NoError(t, os.MkdirAll(arrayRoot, 0o755))
	src := filepath.Join(arrayRoot, "Movies", "Planned.mkv")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("movie bytes"), 0o644))

	cacheRoot := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(cacheRoot, 0o755))

	resolver, err := pathresolver.New([]config.RootPair{{SourceRoot: arrayRoot, CacheRoot: cacheRoot}}, nil)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := &mediaserver.MockClient{
		SessionsFunc: func(ctx context.Context) ([]model.Session, error) { return nil, nil },
	}
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 10, MaxConcurrent: 4})
	monitor := session.New(client, limiter, session.Config{})

	cfg := config.AppConfig{
		PlanInterval:        time.Hour,
		SessionPollInterval: time.Hour,
		ReconcileInterval:   time.Hour,
		MinRetentionHours:   6,
		Budget: model.CacheBudget{
			LimitBytes: 1 << 30, EvictAbovePercent: 90, Mode: model.EvictionSmart, MinPriorityForEviction: 20,
		},
	}
	pipeline := controller.NewPipeline(cfg, resolver, s, monitor, nil)
	reconciler := reconcile.New(resolver, s, 24)

	collectors := []collect.Collector{&fakeCollector{candidates: []model.UpstreamCandidate{
		{Path: src, Source: model.SourceOnDeck, User: "alice"},
	}}}

	c := controller.New(cfg, resolver, s, monitor, collectors, pipeline, reconciler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.TriggerTick(ctx)

	resolved, err := resolver.Resolve(src)
	require.NoError(t, err)
	_, statErr := os.Stat(resolved.CachePath)
	assert.NoError(t, statErr)

	entry, ok, err := s.Get(src)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusActive, entry.Status)

	result, ok := c.LastPlanResult()
	require.True(t, ok)
	assert.NotEmpty(t, result.Tasks)
	assert.EqualValues(t, 1, c.CompletedTicks())
}

func TestTriggerTickReportsCachedFileInCycleResult(t *testing.T) {
	arrayRoot := filepath.Join(t.TempDir(), "array")
	require.NoError(t, os.MkdirAll(arrayRoot, 0o755))
	src := filepath.Join(arrayRoot, "Movies", "Planned.mkv")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("movie bytes"), 0o644))

	cacheRoot := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(cacheRoot, 0o755))

	resolver, err := pathresolver.New([]config.RootPair{{SourceRoot: arrayRoot, CacheRoot: cacheRoot}}, nil)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := &mediaserver.MockClient{
		SessionsFunc: func(ctx context.Context) ([]model.Session, error) { return nil, nil },
	}
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 10, MaxConcurrent: 4})
	monitor := session.New(client, limiter, session.Config{})

	cfg := config.AppConfig{
		PlanInterval:        time.Hour,
		SessionPollInterval: time.Hour,
		ReconcileInterval:   time.Hour,
		MinRetentionHours:   6,
		Budget: model.CacheBudget{
			LimitBytes: 1 << 30, EvictAbovePercent: 90, Mode: model.EvictionSmart, MinPriorityForEviction: 20,
		},
	}
	pipeline := controller.NewPipeline(cfg, resolver, s, monitor, nil)
	reconciler := reconcile.New(resolver, s, 24)

	collectors := []collect.Collector{&fakeCollector{candidates: []model.UpstreamCandidate{
		{Path: src, Source: model.SourceOnDeck, User: "alice"},
	}}}

	c := controller.New(cfg, resolver, s, monitor, collectors, pipeline, reconciler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.TriggerTick(ctx)

	cycle, ok := c.LastCycleResult()
	require.True(t, ok, "a completed tick must record a cycle result")
	assert.Equal(t, 1, cycle.FilesCached)
	assert.Greater(t, cycle.BytesCached, int64(0))
	assert.Empty(t, cycle.Errors)
}

func TestRunCompletesPlanningTicks(t *testing.T) {
	c, _, _, _ := newTestHarness(t, []model.UpstreamCandidate{})

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	time.Sleep(120 * time.Millisecond)
	cancel()

	// Completed ticks should be small but nonzero; the no-overlap guard
	// keeps a slow tick from stacking with the next ticker fire.
	assert.Greater(t, c.CompletedTicks(), int64(0))
}
