// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func testServerPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}
	return port
}

func TestRunHealthcheckCLI_ReadySuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/readyz" {
			t.Errorf("expected /readyz, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	got := runHealthcheckCLI([]string{"--port", fmt.Sprint(testServerPort(t, ts))})
	if got != exitOK {
		t.Fatalf("runHealthcheckCLI() = %d, want %d", got, exitOK)
	}
}

func TestRunHealthcheckCLI_LiveMode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("expected /healthz, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	got := runHealthcheckCLI([]string{"--mode", "live", "--port", fmt.Sprint(testServerPort(t, ts))})
	if got != exitOK {
		t.Fatalf("runHealthcheckCLI() = %d, want %d", got, exitOK)
	}
}

func TestRunHealthcheckCLI_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	got := runHealthcheckCLI([]string{"--port", fmt.Sprint(testServerPort(t, ts))})
	if got == exitOK {
		t.Fatalf("runHealthcheckCLI() = %d, want non-zero for a 503 response", got)
	}
}

func TestRunHealthcheckCLI_Unreachable(t *testing.T) {
	got := runHealthcheckCLI([]string{"--port", "1", "--timeout", "100ms"})
	if got == exitOK {
		t.Fatalf("runHealthcheckCLI() = %d, want non-zero when nothing is listening", got)
	}
}
