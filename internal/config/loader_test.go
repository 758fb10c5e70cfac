// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalValidConfig(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  roots:
    - source_root: /array
      cache_root: /cache
`)

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Roots) != 1 {
		t.Fatalf("Roots = %v, want 1 entry", cfg.Roots)
	}
	if cfg.Budget.Mode != "smart" {
		t.Errorf("default Budget.Mode = %q, want smart", cfg.Budget.Mode)
	}
	if cfg.DefaultRedirectMethod != "atomicSymlink" {
		t.Errorf("default DefaultRedirectMethod = %q, want atomicSymlink", cfg.DefaultRedirectMethod)
	}
}

func TestLoad_RejectsMissingRoots(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  roots: []
`)

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load() error = nil, want an error for an empty roots list")
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  roots:
    - source_root: /array
      cache_root: /cache
totallyUnknownField: true
`)

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load() error = nil, want an error for an unknown top-level field")
	}
}

func TestLoad_RejectsUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load() error = nil, want an error for a non-yaml extension")
	}
}

func TestLoad_RejectsInvalidBudget(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  roots:
    - source_root: /array
      cache_root: /cache
cache:
  evict_target_percent: 90
  evict_above_percent: 50
`)

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load() error = nil, want an error when target_percent > above_percent")
	}
}

func TestLoad_EnvOverridesFileValue(t *testing.T) {
	path := writeConfigFile(t, `
dataDir: /from-file
paths:
  roots:
    - source_root: /array
      cache_root: /cache
`)

	env := map[string]string{"CACHERR_DATA_DIR": "/from-env"}
	loader := NewLoaderWithEnv(path, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/from-env" {
		t.Errorf("DataDir = %q, want /from-env (env should win over file)", cfg.DataDir)
	}
}

func TestLoad_EmptyConfigPathUsesDefaultsOnly(t *testing.T) {
	// An empty path means "no file provided" (spec.md defaults apply), but
	// paths.roots is still mandatory so this must fail validation, not panic.
	if _, err := NewLoader("").Load(); err == nil {
		t.Fatal("Load() error = nil, want an error because no roots were configured")
	}
}
