// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cacherr/ctrl/internal/config"
)

// HTTPFetcher is a Fetcher for Radarr-style external list providers that
// expose their ranked items as a flat JSON array (spec.md §9 leaves the
// exact wire contract open; this is the "custom URL" shape operators use
// most often).
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with a bounded per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

var _ Fetcher = (*HTTPFetcher)(nil)

type httpListItem struct {
	Path string `json:"path"`
	Rank int    `json:"rank"`
}

// Fetch implements Fetcher by GETting list.URL and decoding a JSON array
// of {path, rank} objects, already ordered by provider rank.
func (f *HTTPFetcher) Fetch(ctx context.Context, list config.ListConfig) ([]ListItem, error) {
	if list.URL == "" {
		return nil, fmt.Errorf("collect: list %q has no url configured", list.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, list.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("collect: build request for list %q: %w", list.ID, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collect: fetch list %q: %w", list.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collect: list %q returned status %d", list.ID, resp.StatusCode)
	}

	var raw []httpListItem
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("collect: decode list %q: %w", list.ID, err)
	}

	out := make([]ListItem, 0, len(raw))
	for _, item := range raw {
		out = append(out, ListItem{Path: item.Path, Rank: item.Rank})
	}
	return out, nil
}
