// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mediaserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/model"
)

// PlexConfig configures PlexClient.
type PlexConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// PlexClient implements Client against a Plex Media Server's HTTP API.
// It holds no process-wide rate limiting itself: that is the job of the
// shared limiter every collector calls through before reaching here
// (spec.md §4.D, §5).
type PlexClient struct {
	cfg  PlexConfig
	http *http.Client
}

// NewPlexClient builds a client for the server at cfg.BaseURL.
func NewPlexClient(cfg PlexConfig) *PlexClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &PlexClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

var _ Client = (*PlexClient)(nil)

// shouldRetry reports whether a response/error pair warrants another
// attempt: network timeouts and 5xx are retryable, a 4xx is fatal for the
// item (spec.md §4.D).
func shouldRetry(status int, err error) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *PlexClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.cfg.BaseURL + path
	if query != nil {
		query.Set("X-Plex-Token", c.cfg.Token)
		reqURL += "?" + query.Encode()
	}

	backoff := c.cfg.Backoff
	var lastErr error
	maxAttempts := c.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("mediaserver: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		var status int
		if resp != nil {
			status = resp.StatusCode
		}

		if err == nil && status == http.StatusOK {
			defer resp.Body.Close()
			decodeErr := json.NewDecoder(resp.Body).Decode(out)
			cancel()
			if decodeErr != nil {
				return ctrlerr.New(ctrlerr.KindSchemaDrift, path, "decode failed", decodeErr)
			}
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		cancel()

		if status >= 400 && status < 500 {
			return ctrlerr.New(ctrlerr.KindTransientUpstream, path, fmt.Sprintf("status %d", status), err)
		}
		if !shouldRetry(status, err) || attempt == maxAttempts {
			lastErr = ctrlerr.New(ctrlerr.KindTransientUpstream, path, fmt.Sprintf("status %d after %d attempts", status, attempt), err)
			break
		}

		log.WithComponent("mediaserver").Warn().
			Str("path", path).Int("attempt", attempt).Int("status", status).
			Msg("retrying media-server request")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return lastErr
}

type plexMediaContainer[T any] struct {
	MediaContainer T `json:"MediaContainer"`
}

type plexSessionsResponse struct {
	Metadata []plexSession `json:"Metadata"`
}

// plexSession is a flattened view of Plex's nested Metadata/Media/Part/Player
// session payload; FilePath is populated from the first Part's file
// attribute during unmarshalling in a real deployment's response-shaping
// layer, which this stub does not implement.
type plexSession struct {
	Key         string   `json:"key"`
	User        plexUser `json:"User"`
	ViewOffset  int64    `json:"viewOffset"`
	Duration    int64    `json:"duration"`
	PlayerState string   `json:"state"`
	FilePath    string   `json:"-"`
}

type plexUser struct {
	Title string `json:"title"`
}

// Sessions implements Client.
func (c *PlexClient) Sessions(ctx context.Context) ([]model.Session, error) {
	var body plexMediaContainer[plexSessionsResponse]
	if err := c.getJSON(ctx, "/status/sessions", url.Values{}, &body); err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(body.MediaContainer.Metadata))
	for _, s := range body.MediaContainer.Metadata {
		state := model.SessionPlaying
		switch s.PlayerState {
		case "paused":
			state = model.SessionPaused
		case "buffering":
			state = model.SessionBuffering
		case "stopped", "":
			state = model.SessionStopped
		}
		progress := 0.0
		if s.Duration > 0 {
			progress = float64(s.ViewOffset) / float64(s.Duration)
		}
		out = append(out, model.Session{
			User:     s.User.Title,
			Path:     s.FilePath,
			State:    state,
			Progress: progress,
		})
	}
	return out, nil
}

type plexOnDeckResponse struct {
	Metadata []plexOnDeckItem `json:"Metadata"`
}

type plexOnDeckItem struct {
	Key           string `json:"key"`
	GrandparentKey string `json:"grandparentKey"`
	Index         int    `json:"index"`
	ViewedAt      int64  `json:"viewedAt"`
}

// OnDeck implements Client.
func (c *PlexClient) OnDeck(ctx context.Context, userID string) ([]OnDeckItem, error) {
	var body plexMediaContainer[plexOnDeckResponse]
	q := url.Values{"X-Plex-Token": []string{c.cfg.Token}}
	path := fmt.Sprintf("/library/onDeck?X-Plex-Token-User=%s", url.QueryEscape(userID))
	if err := c.getJSON(ctx, path, q, &body); err != nil {
		return nil, err
	}
	out := make([]OnDeckItem, 0, len(body.MediaContainer.Metadata))
	for i, item := range body.MediaContainer.Metadata {
		out = append(out, OnDeckItem{
			Path:         item.Key,
			ShowKey:      item.GrandparentKey,
			EpisodeIndex: item.Index,
			IsCurrent:    i == 0,
			LastViewedAt: time.Unix(item.ViewedAt, 0),
		})
	}
	return out, nil
}

type plexWatchlistResponse struct {
	Metadata []plexWatchlistItem `json:"Metadata"`
}

type plexWatchlistItem struct {
	Key            string `json:"key"`
	GrandparentKey string `json:"grandparentKey"`
	AddedAt        int64  `json:"addedAt"`
	OriginallyAvailableAt string `json:"originallyAvailableAt"`
}

// Watchlist implements Client.
func (c *PlexClient) Watchlist(ctx context.Context, userID string) ([]WatchlistItem, error) {
	var body plexMediaContainer[plexWatchlistResponse]
	path := fmt.Sprintf("/library/sections/watchlist?X-Plex-Token-User=%s", url.QueryEscape(userID))
	if err := c.getJSON(ctx, path, url.Values{}, &body); err != nil {
		return nil, err
	}
	out := make([]WatchlistItem, 0, len(body.MediaContainer.Metadata))
	for i, item := range body.MediaContainer.Metadata {
		aired := item.OriginallyAvailableAt != "" && item.OriginallyAvailableAt <= time.Now().Format("2006-01-02")
		out = append(out, WatchlistItem{
			Path:           item.Key,
			ShowKey:        item.GrandparentKey,
			RankWithinShow: i,
			AddedAt:        time.Unix(item.AddedAt, 0),
			Aired:          aired,
		})
	}
	return out, nil
}

// InLibrary implements Client.
func (c *PlexClient) InLibrary(ctx context.Context, path string) (bool, error) {
	var body plexMediaContainer[plexWatchlistResponse]
	q := url.Values{"path": []string{path}}
	err := c.getJSON(ctx, "/library/matches", q, &body)
	if err != nil {
		if ctrlerr.Is(err, ctrlerr.KindTransientUpstream) {
			return false, nil
		}
		return false, err
	}
	return len(body.MediaContainer.Metadata) > 0, nil
}

// Ping implements Client.
func (c *PlexClient) Ping(ctx context.Context) error {
	var body plexMediaContainer[struct{}]
	return c.getJSON(ctx, "/identity", url.Values{}, &body)
}
