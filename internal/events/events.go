// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events is the controller's realtime notification fan-out (§6
// "Realtime stream"): a small in-process hub that the Redirection Pipeline
// and Controller Loop publish to, and that the API's WebSocket transport
// drains. It knows nothing about HTTP or WebSocket framing — that belongs
// to internal/api.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cacherr/ctrl/internal/log"
)

// Type names one of the realtime notifications a subscriber can receive.
type Type string

const (
	CacheFileAdded         Type = "cache_file_added"
	CacheFileRemoved       Type = "cache_file_removed"
	CacheStatisticsUpdated Type = "cache_statistics_updated"
	OperationProgress      Type = "operation_progress"
)

// Event is one realtime notification, carrying a monotonic Sequence so a
// subscriber can detect a gap in the stream it observed.
type Event struct {
	Sequence  int64     `json:"sequence"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher is the narrow interface the Redirection Pipeline and Controller
// Loop use to emit realtime notifications, without depending on the API
// package's transport details.
type Publisher interface {
	Publish(typ Type, data any)
}

// Subscriber is one connected realtime client's outbound queue. The
// connection itself (WebSocket upgrade, ping/pong, write deadlines) is
// owned by internal/api; Hub only ever touches Send.
type Subscriber struct {
	Send chan []byte
}

// NewSubscriber builds a Subscriber with the given outbound queue depth.
func NewSubscriber(buffer int) *Subscriber {
	return &Subscriber{Send: make(chan []byte, buffer)}
}

// Hub fans out published events to every currently-registered subscriber.
// A subscriber whose queue is full is dropped rather than allowed to block
// publishers — a stalled WebSocket write must never stall a cache-in.
type Hub struct {
	seq int64

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

var _ Publisher = (*Hub)(nil)

// Publish implements Publisher.
func (h *Hub) Publish(typ Type, data any) {
	evt := Event{
		Sequence:  atomic.AddInt64(&h.seq, 1),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.WithComponent("events").Warn().Err(err).Str("type", string(typ)).Msg("event marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.Send <- payload:
		default:
			log.WithComponent("events").Warn().Msg("subscriber queue full; dropping subscriber")
			delete(h.subs, sub)
			close(sub.Send)
		}
	}
}

// Register adds sub to the fan-out set.
func (h *Hub) Register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
}

// Unregister removes sub and closes its queue, if still registered.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.Send)
	}
}
