// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package redirect is the Atomic Redirection Pipeline (§4.G): the
// execution plane that copies files onto the cache tier and restores them
// back, under two bounded worker pools, with zero interruption to a media
// server holding the original file open.
package redirect

import (
	"context"
	"sync"
	"time"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/planner"
	"github.com/cacherr/ctrl/internal/store"
)

// Task is one unit of work admitted by a pool; it is the Planner's own
// task type, reused here rather than duplicated.
type Task = planner.Task

// TaskResult reports the outcome of one executed Task.
type TaskResult struct {
	Task Task
	Err  error
}

// Pipeline owns the two bounded pools, the per-path lock table, and the
// cool-down set for recently-failed paths (spec.md §4.G, §7).
type Pipeline struct {
	resolver *pathresolver.Resolver
	store    *store.Store

	cachePool *pool
	arrayPool *pool

	defaultMethod model.Method

	// admission mutex: serialises Tracking Store writes and free-space
	// accounting, released during the long I/O phases (spec.md §4.G
	// "Concurrency").
	admission sync.Mutex

	pathLocks sync.Map // path -> *sync.Mutex

	cooldown sync.Map // path -> time.Time (expiry)

	bytesInFlightCache int64
	bytesInFlightMu    sync.Mutex

	evict EvictFunc

	// events publishes cache_file_added/cache_file_removed notifications
	// (spec.md §6 "Realtime stream"); nil is a valid no-op publisher for
	// callers (tests, the eviction preview path) that don't need one.
	events events.Publisher
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Type, any) {}

// EvictFunc synchronously runs the Priority & Eviction Engine to free at
// least toFree bytes (spec.md §4.G step 2, §4.E). An error means eviction
// could not free enough space, or mode = none disables it entirely.
type EvictFunc func(ctx context.Context, toFree int64) error

// New builds a Pipeline. resolver and s are shared collaborators whose
// lifecycle the Pipeline does not own. evict may be nil, in which case the
// free-space check never attempts to reclaim space and simply fails the
// task when short. publisher may be nil, in which case cache-in/restore
// notifications are simply not published.
func New(cfg config.AppConfig, resolver *pathresolver.Resolver, s *store.Store, evict EvictFunc, publisher events.Publisher) *Pipeline {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Pipeline{
		resolver:      resolver,
		store:         s,
		cachePool:     newPool(cfg.CachePoolSize),
		arrayPool:     newPool(cfg.ArrayPoolSize),
		defaultMethod: cfg.DefaultRedirectMethod,
		evict:         evict,
		events:        publisher,
	}
}

func (p *Pipeline) pathLock(path string) *sync.Mutex {
	v, _ := p.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

const cooldownTTL = 10 * time.Minute

// onCooldown reports whether path recently failed with a filesystem error
// and should not be retried this tick (spec.md §7).
func (p *Pipeline) onCooldown(path string) bool {
	v, ok := p.cooldown.Load(path)
	if !ok {
		return false
	}
	if time.Now().After(v.(time.Time)) {
		p.cooldown.Delete(path)
		return false
	}
	return true
}

func (p *Pipeline) setCooldown(path string) {
	p.cooldown.Store(path, time.Now().Add(cooldownTTL))
}

// Run executes every cache-in task on the cache pool and every restore
// task on the array pool concurrently, and returns a result per task.
// activeSessions maps a path to whether it is currently playing, and
// globalCopyOnly forces atomicCopy regardless of method selection — used
// by the session-tick opportunistic cache-in path (spec.md §4.I).
func (p *Pipeline) Run(ctx context.Context, tasks []Task, activeSessions map[string]bool, globalCopyOnly bool) []TaskResult {
	var cacheIns, restores []Task
	for _, t := range tasks {
		if p.onCooldown(t.Path) {
			continue
		}
		switch t.Kind {
		case planner.TaskCacheIn:
			cacheIns = append(cacheIns, t)
		case planner.TaskRestore:
			restores = append(restores, t)
		}
	}

	results := make([]TaskResult, 0, len(cacheIns)+len(restores))
	var resultsMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.cachePool.Run(ctx, cacheIns, func(ctx context.Context, t Task) {
			active := activeSessions[t.Path]
			err := p.CacheIn(ctx, t.Path, active, globalCopyOnly)
			resultsMu.Lock()
			results = append(results, TaskResult{Task: t, Err: err})
			resultsMu.Unlock()
		})
	}()
	go func() {
		defer wg.Done()
		p.arrayPool.Run(ctx, restores, func(ctx context.Context, t Task) {
			active := activeSessions[t.Path]
			err := p.Restore(ctx, t.Path, active)
			resultsMu.Lock()
			results = append(results, TaskResult{Task: t, Err: err})
			resultsMu.Unlock()
		})
	}()
	wg.Wait()
	return results
}

