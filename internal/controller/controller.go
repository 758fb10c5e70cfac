// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package controller is the Controller Loop (§4.I): it drives the
// planning tick and the session tick on independent timers, wiring the
// Session Monitor, Collectors, Planner, Priority & Eviction Engine, and
// Atomic Redirection Pipeline into one cycle.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cacherr/ctrl/internal/collect"
	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/metrics"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/planner"
	"github.com/cacherr/ctrl/internal/priority"
	"github.com/cacherr/ctrl/internal/reconcile"
	"github.com/cacherr/ctrl/internal/redirect"
	"github.com/cacherr/ctrl/internal/session"
	"github.com/cacherr/ctrl/internal/store"
)

// CycleError reports one failed task from a planning tick, for the external
// boundary's "POST /cache/cycle" response (spec.md §6, §7).
type CycleError struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// CycleResult summarises one planning tick's execution outcome: how many
// files were cached in or restored, how many bytes moved, what eviction (if
// any) ran alongside it, and every task that failed (spec.md §6, §7).
type CycleResult struct {
	FilesCached     int           `json:"files_cached"`
	BytesCached     int64         `json:"bytes_cached"`
	FilesRestored   int           `json:"files_restored"`
	BytesRestored   int64         `json:"bytes_restored"`
	Eviction        EvictionResult `json:"eviction"`
	Errors          []CycleError  `json:"errors"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// Controller owns the planning, session and reconcile tickers and every
// component they drive. Build
// one with New and start it with Run; Run blocks until ctx is cancelled.
type Controller struct {
	cfg config.AppConfig

	resolver    *pathresolver.Resolver
	store       *store.Store
	monitor     *session.Monitor
	collectors  []collect.Collector
	pipeline    *redirect.Pipeline
	reconciler  *reconcile.Reconciler

	// planning tick never overlaps with itself (spec.md §4.I).
	planRunning int32

	lastPlanResult   atomic.Value // planner.Result
	lastReconcile    atomic.Value // reconcile.Report
	lastCycleResult  atomic.Value // CycleResult
	completedTicks   int64

	// manualTick lets the external boundary trigger a tick out of band.
	manualTick chan chan struct{}

	// events publishes cache_statistics_updated/operation_progress
	// notifications (spec.md §6 "Realtime stream"); nil is replaced with a
	// no-op publisher by New.
	events events.Publisher

	mu sync.Mutex
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Type, any) {}

// New builds a Controller from its fully-constructed collaborators. hub may
// be nil, in which case realtime notifications are simply not published.
func New(
	cfg config.AppConfig,
	resolver *pathresolver.Resolver,
	s *store.Store,
	monitor *session.Monitor,
	collectors []collect.Collector,
	pipeline *redirect.Pipeline,
	reconciler *reconcile.Reconciler,
	hub *events.Hub,
) *Controller {
	var publisher events.Publisher = noopPublisher{}
	if hub != nil {
		publisher = hub
	}
	return &Controller{
		cfg:        cfg,
		resolver:   resolver,
		store:      s,
		monitor:    monitor,
		collectors: collectors,
		pipeline:   pipeline,
		reconciler: reconciler,
		manualTick: make(chan chan struct{}),
		events:     publisher,
	}
}

// Run launches the planning ticker, the session ticker and the reconcile
// ticker, and blocks until ctx is cancelled. Shutdown is cooperative: each
// in-flight tick is allowed to reach a safe point before Run returns.
func (c *Controller) Run(ctx context.Context) {
	logger := log.WithComponent("controller")

	planTicker := time.NewTicker(c.cfg.PlanInterval)
	defer planTicker.Stop()
	sessionTicker := time.NewTicker(c.cfg.SessionPollInterval)
	defer sessionTicker.Stop()
	reconcileTicker := time.NewTicker(c.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	c.reconciler.Run(ctx) // startup pass, per spec.md §4.H

	driftCh := make(chan struct{}, 1)
	go c.reconciler.WatchForDrift(ctx, driftCh)

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("controller shutting down; waiting for in-flight ticks")
			wg.Wait()
			return
		case <-driftCh:
			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Info().Msg("fsnotify drift signal; running reconcile out of band")
				c.TriggerReconcile(ctx)
			}()
		case <-planTicker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.runPlanningTick(ctx)
			}()
		case <-sessionTicker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.runSessionTick(ctx)
			}()
		case <-reconcileTicker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.TriggerReconcile(ctx)
			}()
		case reply := <-c.manualTick:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.runPlanningTick(ctx)
				close(reply)
			}()
		}
	}
}

// TriggerTick runs one planning tick out of band and blocks until it
// completes or ctx is cancelled (spec.md §4.I "manually through the
// external boundary").
func (c *Controller) TriggerTick(ctx context.Context) {
	reply := make(chan struct{})
	select {
	case c.manualTick <- reply:
	case <-ctx.Done():
		return
	default:
		// No Run loop is waiting to receive: run the tick on this goroutine.
		c.runPlanningTick(ctx)
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

// runPlanningTick executes stages C, D, E, F, G in sequence, within an
// overall deadline of plan_interval * 0.9 (spec.md §5 "Cancellation &
// timeouts"). A tick is skipped entirely if the previous one has not
// finished.
func (c *Controller) runPlanningTick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&c.planRunning, 0, 1) {
		metrics.CycleTotal.WithLabelValues("skipped").Inc()
		log.WithComponent("controller").Warn().Msg("planning tick skipped: previous tick still running")
		return
	}
	defer atomic.StoreInt32(&c.planRunning, 0)

	started := time.Now()
	logger := log.WithComponent("controller")
	deadline := time.Duration(float64(c.cfg.PlanInterval) * 0.9)
	tickCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	c.monitor.Poll(tickCtx)
	sessions := c.monitor.Sessions()
	metrics.ActiveSessions.Set(float64(len(c.monitor.ProtectedPaths())))

	candidates := collect.Multi(tickCtx, c.collectors...)

	tracked, err := c.store.Snapshot()
	if err != nil {
		metrics.CycleTotal.WithLabelValues("aborted").Inc()
		logger.Error().Err(err).Msg("planning tick aborted: tracking store snapshot failed")
		return
	}

	result := planner.Plan(candidates, sessions, tracked, c.resolver, c.cfg.UserPolicyFor, c.cfg.MinRetentionHours, time.Now())
	c.lastPlanResult.Store(result)
	for _, t := range result.Tasks {
		metrics.TasksPlannedTotal.WithLabelValues(string(t.Kind)).Inc()
	}

	for _, path := range result.TouchLastSeen {
		if err := c.store.TouchLastSeen(path, time.Now()); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("touch last_seen_in_upstream failed")
		}
	}

	protected := c.monitor.ProtectedPaths()
	taskResults := c.pipeline.Run(tickCtx, result.Tasks, protected, false)

	sizeBefore := make(map[string]int64, len(tracked))
	for _, e := range tracked {
		sizeBefore[e.Path] = e.SizeBytes
	}
	cycle := c.summarizeCycle(taskResults, sizeBefore)

	eviction, evictionRan, evictErr := c.evictToBudget(tickCtx)
	if evictErr != nil {
		logger.Warn().Err(evictErr).Msg("automatic budget eviction failed")
	}
	if evictionRan {
		cycle.Eviction = eviction
	}
	cycle.DurationSeconds = time.Since(started).Seconds()
	c.lastCycleResult.Store(cycle)

	for _, res := range taskResults {
		if res.Err == nil {
			continue
		}
		c.events.Publish(events.OperationProgress, map[string]any{
			"operation": string(res.Task.Kind),
			"path":      res.Task.Path,
			"status":    "failed",
			"reason":    failureReason(res.Err),
		})
	}

	atomic.AddInt64(&c.completedTicks, 1)
	metrics.CycleTotal.WithLabelValues("ok").Inc()
	metrics.CycleDurationSeconds.Observe(cycle.DurationSeconds)

	c.events.Publish(events.CacheStatisticsUpdated, map[string]any{
		"tasks_planned":    len(result.Tasks),
		"tracked_entries":  len(tracked),
		"duration_seconds": cycle.DurationSeconds,
	})
}

// summarizeCycle tallies a planning tick's pipeline results into the shape
// the external boundary reports (spec.md §6 "POST /cache/cycle", §7 "failure
// reporting"). sizeBefore holds each tracked path's size before this tick's
// restores ran, since a successful restore's entry no longer carries it;
// a successful cache-in's size is instead looked up from the store after the
// fact, since it wasn't tracked before the tick.
func (c *Controller) summarizeCycle(results []redirect.TaskResult, sizeBefore map[string]int64) CycleResult {
	var cycle CycleResult
	for _, res := range results {
		if res.Err != nil {
			cycle.Errors = append(cycle.Errors, CycleError{
				Path:   res.Task.Path,
				Kind:   string(ctrlerr.KindOf(res.Err)),
				Reason: failureReason(res.Err),
			})
			continue
		}
		switch res.Task.Kind {
		case planner.TaskCacheIn:
			cycle.FilesCached++
			if entry, ok, err := c.store.Get(res.Task.Path); ok && err == nil {
				cycle.BytesCached += entry.SizeBytes
			}
		case planner.TaskRestore:
			cycle.FilesRestored++
			cycle.BytesRestored += sizeBefore[res.Task.Path]
		}
	}
	return cycle
}

// failureReason renders a TaskResult error as a reason string: the
// classified ctrlerr reason when available, the bare error text otherwise.
func failureReason(err error) string {
	if kind := ctrlerr.KindOf(err); kind != "" {
		return string(kind)
	}
	return err.Error()
}

// runSessionTick runs stage C and opportunistically caches in the paths
// of newly-active sessions under atomicCopy-only rules (spec.md §4.I).
func (c *Controller) runSessionTick(ctx context.Context) {
	c.monitor.Poll(ctx)
	sessions := c.monitor.Sessions()

	var tasks []redirect.Task
	protected := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if !s.Active() {
			continue
		}
		protected[s.Path] = true
		tasks = append(tasks, redirect.Task{
			Path: s.Path, Kind: planner.TaskCacheIn,
			Score: priority.Score(priority.Input{Source: model.SourceActiveWatch, ActiveSession: true}),
			Protected: true,
		})
	}
	if len(tasks) == 0 {
		return
	}
	c.pipeline.Run(ctx, tasks, protected, true)
}

// CompletedTicks reports how many planning ticks have finished since
// startup, used by the health boundary's readiness check.
func (c *Controller) CompletedTicks() int64 {
	return atomic.LoadInt64(&c.completedTicks)
}

// LastPlanResult returns the most recent planning tick's output, if any.
func (c *Controller) LastPlanResult() (planner.Result, bool) {
	v := c.lastPlanResult.Load()
	if v == nil {
		return planner.Result{}, false
	}
	return v.(planner.Result), true
}

// LastCycleResult returns the most recent planning tick's execution summary,
// if any (spec.md §6 "POST /cache/cycle").
func (c *Controller) LastCycleResult() (CycleResult, bool) {
	v := c.lastCycleResult.Load()
	if v == nil {
		return CycleResult{}, false
	}
	return v.(CycleResult), true
}

// TriggerReconcile runs one reconciliation pass out of band and returns its
// report, for the external boundary's "POST /cache/reconcile" (spec.md §6).
func (c *Controller) TriggerReconcile(ctx context.Context) reconcile.Report {
	rep := c.reconciler.Run(ctx)
	c.lastReconcile.Store(rep)
	c.events.Publish(events.OperationProgress, map[string]any{"operation": "reconcile", "report": rep})
	return rep
}

// LastReconcileReport returns the most recent reconcile pass's report, if any.
func (c *Controller) LastReconcileReport() (reconcile.Report, bool) {
	v := c.lastReconcile.Load()
	if v == nil {
		return reconcile.Report{}, false
	}
	return v.(reconcile.Report), true
}
