// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

// FileConfig is the raw YAML configuration shape, grouped per spec.md §6.
// It is deliberately loose (pointers for optional bools, omitempty strings)
// so the Loader can tell "not set" apart from "set to zero value" when
// applying defaults and environment overrides.
type FileConfig struct {
	DataDir  string `yaml:"dataDir,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`

	Plex      PlexConfig       `yaml:"plex"`
	Paths     PathsConfig      `yaml:"paths"`
	Cache     CacheFileConfig  `yaml:"cache"`
	Plan      PlanConfig       `yaml:"plan"`
	Users     map[string]UserPolicyConfig `yaml:"users,omitempty"`
	Lists     []ListConfig     `yaml:"lists,omitempty"`
	Watchlist WatchlistConfig  `yaml:"watchlist"`
	OnDeck    OnDeckConfig     `yaml:"ondeck"`
	API       APIConfig        `yaml:"api"`
}

// PlexConfig configures the media-server client (§6).
type PlexConfig struct {
	URL                 string `yaml:"url,omitempty"`
	Token               string `yaml:"token,omitempty"`
	SessionPollInterval string `yaml:"session_poll_interval,omitempty"` // e.g. "30s"
	APIDelayMS          int    `yaml:"api_delay_ms,omitempty"`
	MaxRetries          int    `yaml:"max_retries,omitempty"`
	FailFastIfUnreachable *bool `yaml:"fail_fast_if_unreachable,omitempty"`
}

// RootPair is one (source_root, cache_root) pair resolved by the Path Resolver.
type RootPair struct {
	SourceRoot string `yaml:"source_root"`
	CacheRoot  string `yaml:"cache_root"`
}

// PathsConfig configures the Path Resolver (§4.A).
type PathsConfig struct {
	Roots                []RootPair `yaml:"roots,omitempty"`
	AlternateSourceRoots []string   `yaml:"alternate_source_roots,omitempty"`
}

// CacheFileConfig configures the size budget and eviction policy (§3 CacheBudget).
type CacheFileConfig struct {
	Limit                  string  `yaml:"limit,omitempty"` // "500 GB", "80 %", or bare bytes
	EvictAbovePercent      float64 `yaml:"evict_above_percent,omitempty"`
	EvictTargetPercent     float64 `yaml:"evict_target_percent,omitempty"`
	Mode                   string  `yaml:"mode,omitempty"` // none|fifo|smart
	MinPriorityForEviction float64 `yaml:"min_priority_for_eviction,omitempty"`
	MinRetentionHours      float64 `yaml:"min_retention_hours,omitempty"`
	UntrackedGraceHours    float64 `yaml:"untracked_grace_hours,omitempty"`
}

// PlanConfig configures the Controller Loop and Pipeline pools (§4.I, §4.G).
type PlanConfig struct {
	PlanInterval      string `yaml:"plan_interval,omitempty"`      // e.g. "15m"
	ReconcileInterval string `yaml:"reconcile_interval,omitempty"` // e.g. "1h"
	CachePoolSize     int    `yaml:"cache_pool_size,omitempty"`
	ArrayPoolSize     int    `yaml:"array_pool_size,omitempty"`
	// RedirectMode is the global method bias the Pipeline applies when a
	// path is not protected by an active session: "copy" forces atomicCopy
	// everywhere, "symlink" (default) uses atomicSymlink (§4.G step 5).
	RedirectMode string `yaml:"redirect_mode,omitempty"`
}

// UserPolicyConfig is the per-user enable-flag record (§9 "dynamic per-user toggles").
type UserPolicyConfig struct {
	OnDeck           *bool `yaml:"ondeck,omitempty"`
	Watchlist        *bool `yaml:"watchlist,omitempty"`
	Lists            *bool `yaml:"lists,omitempty"`
	Excluded         *bool `yaml:"excluded,omitempty"`
	OnDeckEpisodesAhead int `yaml:"ondeck_episodes_ahead,omitempty"`
}

// ListConfig configures one external list provider (§4.D List Collector).
type ListConfig struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url,omitempty"`
	Count     int    `yaml:"count,omitempty"`
	Mode      string `yaml:"mode,omitempty"` // strict|fill
	FillLimit int    `yaml:"fill_limit,omitempty"`
}

// WatchlistConfig configures the Watchlist Collector (§4.D).
type WatchlistConfig struct {
	EpisodesPerShow int `yaml:"episodes_per_show,omitempty"`
	RetentionDays   int `yaml:"retention_days,omitempty"`
}

// OnDeckConfig configures the OnDeck Collector (§4.D).
type OnDeckConfig struct {
	EpisodesAhead  int `yaml:"episodes_ahead,omitempty"`
	DaysToMonitor  int `yaml:"days_to_monitor,omitempty"`
}

// APIConfig configures the HTTP/WebSocket surface (§6).
type APIConfig struct {
	ListenAddr        string   `yaml:"listen_addr,omitempty"`
	MetricsAddr       string   `yaml:"metrics_addr,omitempty"`
	AllowedOrigins    []string `yaml:"allowed_origins,omitempty"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute,omitempty"`
}
