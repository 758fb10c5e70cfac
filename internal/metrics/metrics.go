// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the cache controller:
// planning-cycle outcomes, eviction activity, and the Redirection
// Pipeline's cache-in/restore traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CycleTotal counts completed planning ticks, by outcome (ok/skipped/aborted).
	CycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_cycle_total",
		Help: "Total number of planning ticks, by outcome.",
	}, []string{"outcome"})

	// CycleDurationSeconds observes the wall-clock duration of a planning tick.
	CycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cachectl_cycle_duration_seconds",
		Help:    "Duration of a completed planning tick.",
		Buckets: prometheus.DefBuckets,
	})

	// TasksPlannedTotal counts tasks the Planner emitted, by kind (cacheIn/restore).
	TasksPlannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_tasks_planned_total",
		Help: "Total number of tasks emitted by the Planner, by kind.",
	}, []string{"kind"})

	// CacheInTotal counts cache-in attempts, by outcome (ok/no_space/failed).
	CacheInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_cache_in_total",
		Help: "Total number of cache-in attempts, by outcome.",
	}, []string{"outcome"})

	// RestoreTotal counts restore attempts, by outcome (ok/failed/protected).
	RestoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_restore_total",
		Help: "Total number of restore attempts, by outcome.",
	}, []string{"outcome"})

	// BytesCachedTotal sums the bytes copied into the cache by cache-ins.
	BytesCachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachectl_bytes_cached_total",
		Help: "Total bytes copied into the cache by completed cache-ins.",
	})

	// BytesRestoredTotal sums the bytes freed by restores.
	BytesRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachectl_bytes_restored_total",
		Help: "Total bytes freed from the cache by completed restores.",
	})

	// EvictionRunsTotal counts synchronous eviction procedure invocations, by outcome.
	EvictionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_eviction_runs_total",
		Help: "Total number of eviction procedure runs, by outcome.",
	}, []string{"outcome"})

	// EvictionVictimsTotal counts entries restored as eviction victims.
	EvictionVictimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachectl_eviction_victims_total",
		Help: "Total number of cache entries restored as eviction victims.",
	})

	// TrackedEntries gauges the current Tracking Store row count.
	TrackedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cachectl_tracked_entries",
		Help: "Current number of rows in the Tracking Store.",
	})

	// CacheUsedBytes is registered for the total size of cached files, but
	// nothing in this repository sets it, so it always reads 0.
	CacheUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cachectl_cache_used_bytes",
		Help: "Current total size of cached files, in bytes.",
	})

	// ReconcileDriftTotal counts drift corrections made by the Reconciler, by category.
	ReconcileDriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_reconcile_drift_total",
		Help: "Total number of drift corrections made by the Reconciler, by category.",
	}, []string{"category"})

	// ActiveSessions gauges the current protected-session count.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cachectl_active_sessions",
		Help: "Current number of sessions protecting a path from eviction.",
	})

	// CollectorDegradedTotal counts collector passes that fell back to a
	// partial or empty result after an upstream error.
	CollectorDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachectl_collector_degraded_total",
		Help: "Total number of collector passes that degraded after an upstream error, by collector.",
	}, []string{"collector"})
)
