// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment and root pairs before the
// Controller Loop starts its first tick.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

// checkTargetedValidations performs the runtime-critical validations that
// config.Load's own validation (validateBudget) does not already enforce: listen address
// shape, Plex URL scheme, and root-pair existence/writability.
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if cfg.ListenAddr != "" {
		if err := checkListenAddr(cfg.ListenAddr); err != nil {
			return fmt.Errorf("invalid listen_addr %q: %w", cfg.ListenAddr, err)
		}
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listen address is valid")
	}
	if cfg.MetricsAddr != "" {
		if err := checkListenAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics_addr %q: %w", cfg.MetricsAddr, err)
		}
	}

	if cfg.PlexURL == "" {
		logger.Warn().Msg("plex.url not configured; session protection and collectors are disabled")
	} else {
		u, err := url.Parse(cfg.PlexURL)
		if err != nil {
			return fmt.Errorf("invalid plex.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("plex.url scheme must be http or https, got: %s", u.Scheme)
		}
		logger.Info().Str("url", cfg.PlexURL).Msg("plex url is valid")
	}

	if len(cfg.Roots) == 0 {
		return fmt.Errorf("at least one root pair must be configured")
	}
	for _, pair := range cfg.Roots {
		if !filepath.IsAbs(pair.SourceRoot) {
			return fmt.Errorf("source_root must be an absolute path: %s", pair.SourceRoot)
		}
		if !filepath.IsAbs(pair.CacheRoot) {
			return fmt.Errorf("cache_root must be an absolute path: %s", pair.CacheRoot)
		}
		if _, err := os.Stat(pair.SourceRoot); err != nil {
			return fmt.Errorf("source_root %s: %w", pair.SourceRoot, err)
		}
		if err := os.MkdirAll(pair.CacheRoot, 0o750); err != nil {
			return fmt.Errorf("cache_root %s: %w", pair.CacheRoot, err)
		}
	}
	logger.Info().Int("count", len(cfg.Roots)).Msg("root pairs validated")

	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
