// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session is the Session Monitor (§4.C): it polls the media server
// for in-progress playback and maintains the set of paths currently
// protected against eviction or move. Polling is advisory by design — a
// transient failure never fails a planning cycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/mediaserver"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/ratelimit"
)

// Monitor owns the last-known session set and refreshes it on a timer.
type Monitor struct {
	client      mediaserver.Client
	limiter     *ratelimit.Limiter
	staleGrace  time.Duration
	pollTimeout time.Duration

	mu          sync.RWMutex
	sessions    []model.Session
	lastSuccess time.Time
}

// Config configures a Monitor.
type Config struct {
	StaleSessionGrace time.Duration
	PollTimeout       time.Duration
}

// New builds a Monitor. client and limiter are shared collaborators; the
// Monitor does not own their lifecycle.
func New(client mediaserver.Client, limiter *ratelimit.Limiter, cfg Config) *Monitor {
	if cfg.StaleSessionGrace <= 0 {
		cfg.StaleSessionGrace = 2 * time.Minute
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Monitor{
		client:      client,
		limiter:     limiter,
		staleGrace:  cfg.StaleSessionGrace,
		pollTimeout: cfg.PollTimeout,
	}
}

// Poll fetches the current session set and replaces the cached one on
// success. On failure it logs and leaves the previous set in place for up
// to staleGrace, after which the set is cleared (spec.md §4.C). Poll never
// returns an error: the cycle must never fail because of it.
func (m *Monitor) Poll(ctx context.Context) {
	logger := log.WithComponent("session")

	release, err := m.limiter.Acquire(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("session poll skipped: rate limiter wait cancelled")
		m.expireIfStale()
		return
	}
	defer release()

	pollCtx, cancel := context.WithTimeout(ctx, m.pollTimeout)
	defer cancel()

	sessions, err := m.client.Sessions(pollCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("session poll failed; retaining last known set")
		m.expireIfStale()
		return
	}

	m.mu.Lock()
	m.sessions = sessions
	m.lastSuccess = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) expireIfStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSuccess.IsZero() {
		return
	}
	if time.Since(m.lastSuccess) > m.staleGrace {
		m.sessions = nil
	}
}

// Sessions returns the current session set. Callers must treat the result
// as a snapshot valid for the duration of one planning tick (spec.md §4.I:
// "the Session set observed by a planning tick is not refreshed mid-tick").
func (m *Monitor) Sessions() []model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// ProtectedPaths returns the set of paths currently protected by an active
// session, keyed by path for O(1) membership tests.
func (m *Monitor) ProtectedPaths() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		if s.Active() {
			out[s.Path] = true
		}
	}
	return out
}

// Run polls every interval until ctx is cancelled. The Controller Loop does
// not use it: its session ticker calls Poll directly.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Poll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}
