// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the controller's HTTP/JSON and WebSocket surface (§6): a
// read-mostly status/inspection API plus a small set of operator actions
// (force a cycle, force an eviction, force a reconcile, force a restore),
// fronting the Controller Loop, Tracking Store and Pipeline.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apimw "github.com/cacherr/ctrl/internal/api/middleware"
	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/controller"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/health"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/reconcile"
	"github.com/cacherr/ctrl/internal/redirect"
	"github.com/cacherr/ctrl/internal/session"
	"github.com/cacherr/ctrl/internal/store"
)

// Server wires the Controller Loop and its collaborators to an HTTP
// handler. Build one with New and pass it to http.Server.
type Server struct {
	cfg         config.AppConfig
	store       *store.Store
	resolver    *pathresolver.Resolver
	monitor     *session.Monitor
	pipeline    *redirect.Pipeline
	reconciler  *reconcile.Reconciler
	controller  *controller.Controller
	healthMgr   *health.Manager
	events      *events.Hub
	startedAt   time.Time
}

// New builds a Server from its already-constructed collaborators. hub is
// shared with whatever else in the process publishes realtime notifications
// (the Redirection Pipeline, the Controller Loop) — it is not owned by the
// Server.
func New(
	cfg config.AppConfig,
	s *store.Store,
	resolver *pathresolver.Resolver,
	monitor *session.Monitor,
	pipeline *redirect.Pipeline,
	reconciler *reconcile.Reconciler,
	ctrl *controller.Controller,
	healthMgr *health.Manager,
	hub *events.Hub,
) *Server {
	return &Server{
		cfg:        cfg,
		store:      s,
		resolver:   resolver,
		monitor:    monitor,
		pipeline:   pipeline,
		reconciler: reconciler,
		controller: ctrl,
		healthMgr:  healthMgr,
		events:     hub,
		startedAt:  time.Now(),
	}
}

// Routes builds the chi router for the entire API surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(apimw.Recoverer)
	r.Use(apimw.CORS(s.cfg.AllowedOrigins))
	r.Use(apimw.SecurityHeaders(apimw.DefaultCSP))
	r.Use(log.Middleware())
	r.Use(apimw.RateLimit(s.cfg.RateLimitPerMinute))

	r.Get("/healthz", s.healthMgr.ServeHealth)
	r.Get("/readyz", s.healthMgr.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", s.handleStatus)
	r.Get("/cache/stats", s.handleCacheStats)
	r.Get("/cache/files", s.handleCacheFiles)
	r.Post("/cache/cycle", s.handleCacheCycle)
	r.Post("/cache/evict", s.handleCacheEvict)
	r.Post("/cache/reconcile", s.handleCacheReconcile)
	r.Delete("/cache/file/*", s.handleCacheFileDelete)
	r.Get("/sessions", s.handleSessions)
	r.Get("/events", s.handleEvents)

	return r
}
