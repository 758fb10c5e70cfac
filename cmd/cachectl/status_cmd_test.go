// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunStatusCLI_ReportsFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("expected /status, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"running": true,
			"completed_ticks": 3,
			"tracked_files": 12,
			"active_sessions": 1,
			"ondeck_entries": 4,
			"watchlist_entries": 2,
			"uptime_seconds": 120
		}`))
	}))
	defer ts.Close()

	got := runStatusCLI([]string{"--port", fmt.Sprint(testServerPort(t, ts))})
	if got != exitOK {
		t.Fatalf("runStatusCLI() = %d, want %d", got, exitOK)
	}
}

func TestRunStatusCLI_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	got := runStatusCLI([]string{"--port", fmt.Sprint(testServerPort(t, ts))})
	if got == exitOK {
		t.Fatalf("runStatusCLI() = %d, want non-zero for a 500 response", got)
	}
}

func TestRunStatusCLI_JSONOutput(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"running": true}`))
	}))
	defer ts.Close()

	got := runStatusCLI([]string{"--json", "--port", fmt.Sprint(testServerPort(t, ts))})
	if got != exitOK {
		t.Fatalf("runStatusCLI(--json) = %d, want %d", got, exitOK)
	}
}
