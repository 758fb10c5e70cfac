// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mediaserver

import (
	"context"

	"github.com/cacherr/ctrl/internal/model"
)

// MockClient is a scriptable Client used by the collector, session and
// controller test suites. Each unset field defaults to returning a zero
// value and nil error, except InLibraryFunc, which defaults to true; override
// only what a test needs to exercise.
type MockClient struct {
	SessionsFunc  func(ctx context.Context) ([]model.Session, error)
	OnDeckFunc    func(ctx context.Context, userID string) ([]OnDeckItem, error)
	WatchlistFunc func(ctx context.Context, userID string) ([]WatchlistItem, error)
	InLibraryFunc func(ctx context.Context, path string) (bool, error)
	PingFunc      func(ctx context.Context) error
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Sessions(ctx context.Context) ([]model.Session, error) {
	if m.SessionsFunc == nil {
		return nil, nil
	}
	return m.SessionsFunc(ctx)
}

func (m *MockClient) OnDeck(ctx context.Context, userID string) ([]OnDeckItem, error) {
	if m.OnDeckFunc == nil {
		return nil, nil
	}
	return m.OnDeckFunc(ctx, userID)
}

func (m *MockClient) Watchlist(ctx context.Context, userID string) ([]WatchlistItem, error) {
	if m.WatchlistFunc == nil {
		return nil, nil
	}
	return m.WatchlistFunc(ctx, userID)
}

func (m *MockClient) InLibrary(ctx context.Context, path string) (bool, error) {
	if m.InLibraryFunc == nil {
		return true, nil
	}
	return m.InLibraryFunc(ctx, path)
}

func (m *MockClient) Ping(ctx context.Context) error {
	if m.PingFunc == nil {
		return nil
	}
	return m.PingFunc(ctx)
}
