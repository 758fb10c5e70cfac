// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func runStatusCLI(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	port := fs.Int("port", 8383, "API port")
	asJSON := fs.Bool("json", false, "output raw JSON")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")

	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	client := http.Client{Timeout: *timeout}
	url := fmt.Sprintf("http://localhost:%d/status", *port)
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status request returned %d\n", resp.StatusCode)
		return 1
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode status response: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return boolToExit(enc.Encode(body) == nil)
	}

	fmt.Printf("running:            %v\n", body["running"])
	fmt.Printf("completed ticks:    %v\n", body["completed_ticks"])
	fmt.Printf("tracked files:      %v\n", body["tracked_files"])
	fmt.Printf("active sessions:    %v\n", body["active_sessions"])
	fmt.Printf("ondeck entries:     %v\n", body["ondeck_entries"])
	fmt.Printf("watchlist entries:  %v\n", body["watchlist_entries"])
	fmt.Printf("uptime (seconds):   %v\n", body["uptime_seconds"])
	return exitOK
}

func boolToExit(ok bool) int {
	if ok {
		return exitOK
	}
	return 1
}
