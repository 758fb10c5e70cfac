// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package redirect

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunRespectsConcurrencyCap(t *testing.T) {
	p := newPool(2)
	var inFlight int32
	var maxSeen int32

	tasks := []Task{{Path: "/a"}, {Path: "/b"}, {Path: "/c"}, {Path: "/d"}}
	p.Run(context.Background(), tasks, func(ctx context.Context, t Task) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	})

	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestPoolRunAdmitsHighestScoreFirst(t *testing.T) {
	p := newPool(1)
	var order []string
	tasks := []Task{
		{Path: "/low", Score: 10},
		{Path: "/high", Score: 90},
		{Path: "/mid", Score: 50},
	}
	p.Run(context.Background(), tasks, func(ctx context.Context, t Task) {
		order = append(order, t.Path)
	})
	assert.Equal(t, []string{"/high", "/mid", "/low"}, order)
}

func TestPoolRunStopsAdmittingOnCancelledContext(t *testing.T) {
	p := newPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := 0
	p.Run(ctx, []Task{{Path: "/a"}, {Path: "/b"}}, func(ctx context.Context, t Task) {
		ran++
	})
	assert.Equal(t, 0, ran)
}
