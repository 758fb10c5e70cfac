// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the controller's configuration from a single YAML
// file plus environment-variable overrides and resolves it into an
// immutable AppConfig value (§6, §9 "Global state": configuration is
// loaded once at process start and never hot-reloaded).
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cacherr/ctrl/internal/model"
)

// UserPolicy is the resolved, typed per-user policy record (§9).
// Users absent from the file inherit DefaultUserPolicy.
type UserPolicy struct {
	OnDeck              bool
	Watchlist           bool
	Lists               bool
	Excluded            bool
	OnDeckEpisodesAhead int
}

// AppConfig is the fully resolved, immutable configuration value consumed
// by every other package. It is built once by Load and never mutated.
type AppConfig struct {
	DataDir  string
	LogLevel string

	PlexURL                 string
	PlexToken               string
	SessionPollInterval     time.Duration
	APIDelay                time.Duration
	MaxRetries              int
	FailFastIfUnreachable   bool

	Roots                []RootPair
	AlternateSourceRoots []string

	Budget              model.CacheBudget
	MinRetentionHours   float64
	UntrackedGraceHours float64

	PlanInterval      time.Duration
	ReconcileInterval time.Duration
	CachePoolSize     int
	ArrayPoolSize     int
	DefaultRedirectMethod model.Method

	DefaultUserPolicy UserPolicy
	Users             map[string]UserPolicy

	Lists []ListConfig

	WatchlistEpisodesPerShow int
	WatchlistRetentionDays   int
	OnDeckEpisodesAhead      int
	OnDeckDaysToMonitor      int

	ListenAddr  string
	MetricsAddr string

	AllowedOrigins     []string
	RateLimitPerMinute int

	// ConsumedEnvKeys records every environment variable the loader actually
	// read, for audit/diagnostics — mirrors the teacher's mechanical tracking.
	ConsumedEnvKeys map[string]struct{}
}

// UserPolicyFor returns the resolved policy for userID, falling back to
// DefaultUserPolicy when the user is not explicitly configured.
func (c AppConfig) UserPolicyFor(userID string) UserPolicy {
	if p, ok := c.Users[userID]; ok {
		return p
	}
	return c.DefaultUserPolicy
}

func defaultUserPolicy() UserPolicy {
	return UserPolicy{
		OnDeck:              true,
		Watchlist:           true,
		Lists:               true,
		Excluded:            false,
		OnDeckEpisodesAhead: 5,
	}
}

// resolve converts a parsed FileConfig (with env overrides already applied)
// into an immutable AppConfig, applying defaults and validating invariants.
func resolve(fc FileConfig, env envOverrides) (AppConfig, error) {
	cfg := AppConfig{
		DataDir:  firstNonEmpty(fc.DataDir, "/var/lib/cacherr"),
		LogLevel: firstNonEmpty(fc.LogLevel, "info"),

		PlexURL:   fc.Plex.URL,
		PlexToken: fc.Plex.Token,
		MaxRetries: firstPositiveInt(fc.Plex.MaxRetries, 3),

		Roots:                fc.Paths.Roots,
		AlternateSourceRoots: fc.Paths.AlternateSourceRoots,

		PlanInterval:      durationOrDefault(fc.Plan.PlanInterval, 15*time.Minute),
		ReconcileInterval: durationOrDefault(fc.Plan.ReconcileInterval, time.Hour),
		CachePoolSize:     firstPositiveInt(fc.Plan.CachePoolSize, 2),
		ArrayPoolSize:     firstPositiveInt(fc.Plan.ArrayPoolSize, 2),
		DefaultRedirectMethod: redirectMethodFromString(fc.Plan.RedirectMode),

		DefaultUserPolicy: defaultUserPolicy(),
		Users:             make(map[string]UserPolicy, len(fc.Users)),

		Lists: fc.Lists,

		WatchlistEpisodesPerShow: firstPositiveInt(fc.Watchlist.EpisodesPerShow, 3),
		WatchlistRetentionDays:   firstPositiveInt(fc.Watchlist.RetentionDays, 60),
		OnDeckEpisodesAhead:      firstPositiveInt(fc.OnDeck.EpisodesAhead, 5),
		OnDeckDaysToMonitor:      firstPositiveInt(fc.OnDeck.DaysToMonitor, 14),

		ListenAddr:  firstNonEmpty(fc.API.ListenAddr, ":8383"),
		MetricsAddr: firstNonEmpty(fc.API.MetricsAddr, ":9383"),

		AllowedOrigins:     fc.API.AllowedOrigins,
		RateLimitPerMinute: firstPositiveInt(fc.API.RateLimitPerMinute, 600),

		ConsumedEnvKeys: env.consumed,
	}

	cfg.SessionPollInterval = durationOrDefault(fc.Plex.SessionPollInterval, 30*time.Second)
	cfg.APIDelay = time.Duration(firstPositiveInt(fc.Plex.APIDelayMS, 250)) * time.Millisecond
	if fc.Plex.FailFastIfUnreachable != nil {
		cfg.FailFastIfUnreachable = *fc.Plex.FailFastIfUnreachable
	}

	for id, up := range fc.Users {
		resolved := cfg.DefaultUserPolicy
		if up.OnDeck != nil {
			resolved.OnDeck = *up.OnDeck
		}
		if up.Watchlist != nil {
			resolved.Watchlist = *up.Watchlist
		}
		if up.Lists != nil {
			resolved.Lists = *up.Lists
		}
		if up.Excluded != nil {
			resolved.Excluded = *up.Excluded
		}
		if up.OnDeckEpisodesAhead > 0 {
			resolved.OnDeckEpisodesAhead = up.OnDeckEpisodesAhead
		}
		cfg.Users[id] = resolved
	}

	limitBytes, err := parseSizeLiteral(fc.Cache.Limit, 0 /* cacheVolumeBytes resolved at runtime by caller if "%" form is used */)
	if err != nil {
		return AppConfig{}, fmt.Errorf("cache.limit: %w", err)
	}

	mode := model.EvictionMode(firstNonEmpty(fc.Cache.Mode, string(model.EvictionSmart)))
	cfg.Budget = model.CacheBudget{
		LimitBytes:             limitBytes,
		EvictAbovePercent:      firstPositiveFloat(fc.Cache.EvictAbovePercent, 90),
		EvictTargetPercent:     firstPositiveFloat(fc.Cache.EvictTargetPercent, 75),
		Mode:                   mode,
		MinPriorityForEviction: fc.Cache.MinPriorityForEviction,
	}
	cfg.MinRetentionHours = firstPositiveFloat(fc.Cache.MinRetentionHours, 6)
	cfg.UntrackedGraceHours = firstPositiveFloat(fc.Cache.UntrackedGraceHours, 24)

	if err := validateBudget(cfg.Budget); err != nil {
		return AppConfig{}, err
	}
	if len(cfg.Roots) == 0 {
		return AppConfig{}, fmt.Errorf("%w: paths.roots must have at least one entry", ErrInvalidConfig)
	}

	return cfg, nil
}

// validateBudget enforces the CacheBudget invariant from spec.md §3:
// 0 < target <= above <= 100.
func validateBudget(b model.CacheBudget) error {
	if !(0 < b.EvictTargetPercent && b.EvictTargetPercent <= b.EvictAbovePercent && b.EvictAbovePercent <= 100) {
		return fmt.Errorf("%w: require 0 < evict_target_percent(%v) <= evict_above_percent(%v) <= 100",
			ErrInvalidConfig, b.EvictTargetPercent, b.EvictAbovePercent)
	}
	switch b.Mode {
	case model.EvictionNone, model.EvictionFIFO, model.EvictionSmart:
	default:
		return fmt.Errorf("%w: unknown cache.mode %q", ErrInvalidConfig, b.Mode)
	}
	return nil
}

// redirectMethodFromString maps the "copy"|"symlink" config knob to a
// Method; anything else (including unset) defaults to atomicSymlink, the
// "otherwise" branch of §4.G step 5.
func redirectMethodFromString(s string) model.Method {
	if strings.EqualFold(s, "copy") {
		return model.MethodAtomicCopy
	}
	return model.MethodAtomicSymlink
}

func firstNonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func firstPositiveInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func firstPositiveFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func durationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

var sizeLiteralRe = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*(GB|MB|KB|B|%)?\s*$`)

// parseSizeLiteral resolves cache.limit's three literal forms (§3 CacheBudget):
// "N GB" (binary: GB = 1<<30 bytes, MB = 1<<20, KB = 1<<10), "N %" of
// cacheVolumeBytes, or a bare byte count. A percent literal with
// cacheVolumeBytes == 0 resolves to 0. resolve always passes 0, so a "%"
// cache.limit yields Budget.LimitBytes == 0; the limit is not re-resolved
// against the cache volume's size anywhere in this repository.
func parseSizeLiteral(literal string, cacheVolumeBytes int64) (int64, error) {
	if literal == "" {
		return 0, nil
	}
	m := sizeLiteralRe.FindStringSubmatch(literal)
	if m == nil {
		return 0, fmt.Errorf("invalid size literal %q", literal)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size literal %q: %w", literal, err)
	}
	switch strings.ToUpper(m[2]) {
	case "GB":
		return int64(val * (1 << 30)), nil
	case "MB":
		return int64(val * (1 << 20)), nil
	case "KB":
		return int64(val * (1 << 10)), nil
	case "%":
		return int64(val / 100 * float64(cacheVolumeBytes)), nil
	default: // bare bytes
		return int64(val), nil
	}
}

// ResolvePercentLimit resolves a cache.limit literal against a known cache
// volume capacity, so a "%"-form literal yields a non-zero byte count.
func ResolvePercentLimit(literal string, cacheVolumeBytes int64) (int64, error) {
	return parseSizeLiteral(literal, cacheVolumeBytes)
}
