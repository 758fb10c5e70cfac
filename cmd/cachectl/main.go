// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cacherr/ctrl/internal/api"
	"github.com/cacherr/ctrl/internal/collect"
	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/controller"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/health"
	cachelog "github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/mediaserver"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/ratelimit"
	"github.com/cacherr/ctrl/internal/reconcile"
	"github.com/cacherr/ctrl/internal/session"
	"github.com/cacherr/ctrl/internal/store"
	"github.com/cacherr/ctrl/internal/version"
)

// Exit codes (spec.md §6): 0 clean shutdown, 2 config error at load, 3
// Tracking Store unrecoverable, 4 media server unreachable at startup
// when plex.fail_fast_if_unreachable is true.
const (
	exitOK               = 0
	exitConfigError      = 2
	exitStoreUnavailable = 3
	exitMediaUnreachable = 4
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			os.Exit(runDaemon(os.Args[2:]))
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "status":
			os.Exit(runStatusCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}
	os.Exit(runDaemon(os.Args[1:]))
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("cachectl", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return exitOK
	}

	cachelog.Configure(cachelog.Config{Level: "info", Service: "cachectl", Version: version.Version})
	logger := cachelog.WithComponent("main")

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
		return exitConfigError
	}

	cachelog.Configure(cachelog.Config{Level: cfg.LogLevel, Service: "cachectl", Version: version.Version})
	logger = cachelog.WithComponent("main")
	logger.Info().Str("version", version.Version).Str("commit", version.Commit).Msg("starting cachectl")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("startup checks failed")
		return exitConfigError
	}

	s, err := store.Open(filepath.Join(cfg.DataDir, "tracking-store"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to open tracking store")
		return exitStoreUnavailable
	}
	defer func() { _ = s.Close() }()

	// The sidecar index answers size/listing queries without paying
	// badger's JSON-unmarshal cost; corruption is self-healing via a
	// delete-and-rebuild from the authoritative store (spec.md §9).
	idx, err := store.EnsureFresh(filepath.Join(cfg.DataDir, "cache-index.db"), s)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open sidecar index")
		return exitStoreUnavailable
	}
	defer func() { _ = idx.Close() }()

	resolver, err := pathresolver.New(cfg.Roots, cfg.AlternateSourceRoots)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build path resolver")
		return exitConfigError
	}

	plexClient := mediaserver.NewPlexClient(mediaserver.PlexConfig{
		BaseURL:    cfg.PlexURL,
		Token:      cfg.PlexToken,
		MaxRetries: cfg.MaxRetries,
	})

	if cfg.PlexURL != "" && cfg.FailFastIfUnreachable {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := plexClient.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("media server unreachable at startup; plex.fail_fast_if_unreachable is set")
			return exitMediaUnreachable
		}
	}

	limiterCfg := ratelimit.DefaultConfig()
	if cfg.APIDelay > 0 {
		limiterCfg.RequestsPerSecond = float64(time.Second) / float64(cfg.APIDelay)
	}
	limiter := ratelimit.New(limiterCfg)

	monitor := session.New(plexClient, limiter, session.Config{
		StaleSessionGrace: 2 * time.Minute,
		PollTimeout:       10 * time.Second,
	})

	hub := events.NewHub()
	pipeline := controller.NewPipeline(cfg, resolver, s, monitor, hub)
	reconciler := reconcile.New(resolver, s, cfg.UntrackedGraceHours)

	collectors := buildCollectors(cfg, plexClient, limiter)

	ctrl := controller.New(cfg, resolver, s, monitor, collectors, pipeline, reconciler, hub)

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewStoreChecker(func(context.Context) error {
		_, err := s.Snapshot()
		return err
	}))
	healthMgr.RegisterChecker(health.NewPlanningTickChecker(ctrl.CompletedTicks, cfg.PlanInterval))
	if cfg.PlexURL != "" {
		healthMgr.RegisterChecker(health.NewPlexChecker(func(pingCtx context.Context) error {
			return plexClient.Ping(pingCtx)
		}))
	}

	apiServer := api.New(cfg, s, resolver, monitor, pipeline, reconciler, ctrl, healthMgr, hub)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.ListenAddr {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	runDone := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(runDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	select {
	case <-runDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("controller did not shut down within the grace period")
	}

	logger.Info().Msg("cachectl exiting")
	return exitOK
}

// buildCollectors wires one collector per enabled feature against the
// resolved per-user policy (spec.md §4.D).
func buildCollectors(cfg config.AppConfig, client mediaserver.Client, limiter *ratelimit.Limiter) []collect.Collector {
	users := make([]string, 0, len(cfg.Users))
	for id := range cfg.Users {
		users = append(users, id)
	}

	var collectors []collect.Collector
	collectors = append(collectors, &collect.OnDeckCollector{
		Client:       client,
		Limiter:      limiter,
		Users:        users,
		PolicyFor:    cfg.UserPolicyFor,
		DefaultAhead: cfg.OnDeckEpisodesAhead,
	})
	collectors = append(collectors, &collect.WatchlistCollector{
		Client:          client,
		Limiter:         limiter,
		Users:           users,
		PolicyFor:       cfg.UserPolicyFor,
		EpisodesPerShow: cfg.WatchlistEpisodesPerShow,
	})
	if len(cfg.Lists) > 0 {
		collectors = append(collectors, &collect.ListCollector{
			Fetcher: collect.NewHTTPFetcher(10 * time.Second),
			Client:  client,
			Limiter: limiter,
			Lists:   cfg.Lists,
		})
	}
	return collectors
}
