// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit governs outbound calls to the media server (spec.md
// §4.D, §5): a single process-wide token bucket enforces a minimum
// inter-call delay, and an independent semaphore caps how many calls may
// be in flight at once. This is the one genuinely mutable module-level
// state the design notes call out (§9 "Global state").
package ratelimit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var waitsBlocked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cacherr",
	Name:      "mediaserver_ratelimit_waits_total",
	Help:      "Total number of non-blocking acquire attempts refused for lack of a rate-limit token.",
})

// Config configures the shared media-server limiter.
type Config struct {
	// RequestsPerSecond is the sustained refill rate of the token bucket.
	RequestsPerSecond float64
	// Burst is the bucket's maximum burst size.
	Burst int
	// MaxConcurrent caps simultaneous in-flight media-server calls,
	// independent of the token bucket (spec.md §5).
	MaxConcurrent int64
}

// DefaultConfig returns conservative defaults suitable for a single Plex instance.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxConcurrent:     4,
	}
}

// Limiter is the process-wide gate every collector and the Session Monitor
// call through before issuing a media-server request.
type Limiter struct {
	bucket *rate.Limiter
	sem    *semaphore.Weighted
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Acquire blocks until both the token bucket and the concurrency semaphore
// admit one call, or ctx is cancelled. The returned release func must be
// called exactly once, regardless of the call's outcome.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.bucket.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}

// TryAcquire is a non-blocking variant used by callers that would rather
// skip a cycle than wait (e.g. a collector near its tick deadline).
func (l *Limiter) TryAcquire(ctx context.Context) (release func(), ok bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	if !l.bucket.Allow() {
		waitsBlocked.Inc()
		l.sem.Release(1)
		return nil, false
	}
	return func() { l.sem.Release(1) }, true
}
