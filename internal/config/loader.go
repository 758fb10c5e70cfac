// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CACHERR_"

type envLookupFunc func(key string) (string, bool)

// envOverrides is the mechanical record of every environment variable the
// Loader consulted, consumed==true regardless of whether the variable was
// actually set. It mirrors the teacher's ConsumedEnvKeys diagnostic.
type envOverrides struct {
	consumed map[string]struct{}
}

// Loader applies the precedence ENV > file > defaults, exactly the order
// the teacher's config loader uses.
type Loader struct {
	configPath  string
	lookupEnvFn envLookupFunc
	env         envOverrides
}

// NewLoader builds a Loader reading configPath and os.LookupEnv.
func NewLoader(configPath string) *Loader {
	return NewLoaderWithEnv(configPath, os.LookupEnv)
}

// NewLoaderWithEnv injects the environment source, for tests.
func NewLoaderWithEnv(configPath string, lookup envLookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{
		configPath:  configPath,
		lookupEnvFn: lookup,
		env:         envOverrides{consumed: make(map[string]struct{})},
	}
}

func (l *Loader) lookup(key string) (string, bool) {
	l.env.consumed[key] = struct{}{}
	return l.lookupEnvFn(key)
}

func (l *Loader) envString(key string, into *string) {
	if v, ok := l.lookup(envPrefix + key); ok {
		*into = v
	}
}

func (l *Loader) envBool(key string, into *bool) {
	v, ok := l.lookup(envPrefix + key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*into = b
}

func (l *Loader) envInt(key string, into *int) {
	v, ok := l.lookup(envPrefix + key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*into = n
}

func (l *Loader) envFloat(key string, into *float64) {
	v, ok := l.lookup(envPrefix + key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*into = f
}

func (l *Loader) envDuration(key string, into *string) {
	v, ok := l.lookup(envPrefix + key)
	if !ok {
		return
	}
	if _, err := time.ParseDuration(v); err != nil {
		return
	}
	*into = v
}

// Load reads the YAML file at l.configPath with strict decoding (unknown
// fields are rejected), applies CACHERR_-prefixed environment overrides for
// the fields operators most commonly need to override at deploy time, then
// resolves and validates the result into an AppConfig.
func (l *Loader) Load() (AppConfig, error) {
	fc, err := l.loadFile(l.configPath)
	if err != nil {
		return AppConfig{}, err
	}

	l.applyEnvOverrides(fc)

	cfg, err := resolve(*fc, l.env)
	if err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	if path == "" {
		return &FileConfig{}, nil
	}
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: unsupported config format %q (only yaml/yml)", ErrInvalidConfig, ext)
	}

	// #nosec G304 -- configuration file path is provided by the operator via CLI flag
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("%w: config file contains trailing content", ErrInvalidConfig)
	}

	return &fc, nil
}

func (l *Loader) applyEnvOverrides(fc *FileConfig) {
	l.envString("DATA_DIR", &fc.DataDir)
	l.envString("LOG_LEVEL", &fc.LogLevel)

	l.envString("PLEX_URL", &fc.Plex.URL)
	l.envString("PLEX_TOKEN", &fc.Plex.Token)
	l.envDuration("PLEX_SESSION_POLL_INTERVAL", &fc.Plex.SessionPollInterval)
	l.envInt("PLEX_API_DELAY_MS", &fc.Plex.APIDelayMS)
	l.envInt("PLEX_MAX_RETRIES", &fc.Plex.MaxRetries)

	l.envString("CACHE_LIMIT", &fc.Cache.Limit)
	l.envFloat("CACHE_EVICT_ABOVE_PERCENT", &fc.Cache.EvictAbovePercent)
	l.envFloat("CACHE_EVICT_TARGET_PERCENT", &fc.Cache.EvictTargetPercent)
	l.envString("CACHE_MODE", &fc.Cache.Mode)

	l.envDuration("PLAN_INTERVAL", &fc.Plan.PlanInterval)
	l.envDuration("RECONCILE_INTERVAL", &fc.Plan.ReconcileInterval)

	l.envString("API_LISTEN_ADDR", &fc.API.ListenAddr)
	l.envString("API_METRICS_ADDR", &fc.API.MetricsAddr)
	l.envInt("API_RATE_LIMIT_PER_MINUTE", &fc.API.RateLimitPerMinute)
}
