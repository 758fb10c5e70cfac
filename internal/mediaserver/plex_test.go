// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mediaserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/mediaserver"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *mediaserver.PlexClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return mediaserver.NewPlexClient(mediaserver.PlexConfig{
		BaseURL:    srv.URL,
		Token:      "test-token",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
}

func TestPingSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"MediaContainer":{}}`))
	})
	require.NoError(t, c.Ping(context.Background()))
}

func TestGetJSONRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"MediaContainer":{}}`))
	})

	err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGetJSONFatalOn4xx(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, ctrlerr.Is(err, ctrlerr.KindTransientUpstream))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "a 4xx must not be retried")
}

func TestOnDeckParsesItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"MediaContainer":{"Metadata":[
			{"key":"/library/metadata/1","grandparentKey":"/library/metadata/show1","index":4,"viewedAt":1700000000}
		]}}`))
	})

	items, err := c.OnDeck(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/library/metadata/1", items[0].Path)
	assert.True(t, items[0].IsCurrent)
}
