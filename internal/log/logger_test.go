// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestConfigureSetsLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Output: &buf, Service: "test-svc"})
	defer Configure(Config{})

	L().Info().Msg("should be filtered")
	L().Warn().Msg("should pass")

	out := buf.String()
	if bytes.Contains([]byte(out), []byte("should be filtered")) {
		t.Error("info message should have been filtered at warn level")
	}
	if !bytes.Contains([]byte(out), []byte("should pass")) {
		t.Error("warn message should have passed")
	}
}

func TestAuditInfoBypassesLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "error", Output: &buf})
	defer Configure(Config{})

	AuditInfo(context.Background(), "cache.committed", "file committed", map[string]any{"path": "/m/x.mkv"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid json audit line: %v", err)
	}
	if entry["event"] != "cache.committed" {
		t.Errorf("event = %v, want cache.committed", entry["event"])
	}
	if entry["component"] != "audit" {
		t.Errorf("component = %v, want audit", entry["component"])
	}
}

func TestSetLevel(t *testing.T) {
	Configure(Config{Level: "info"})
	defer Configure(Config{})

	if err := SetLevel(context.Background(), "test", "bogus"); err == nil {
		t.Error("expected error for invalid level")
	}
	if err := SetLevel(context.Background(), "test", "debug"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	defer Configure(Config{})

	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/ok", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("store")
	if l.GetLevel() > 10 {
		t.Error("expected a usable logger")
	}
}
