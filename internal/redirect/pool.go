// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package redirect

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// pool is a fixed-concurrency admission gate for one direction of traffic
// (cache_pool or array_pool, spec.md §4.G). It does not own goroutines of
// its own; Run fans out the given batch under bounded concurrency,
// admitting higher-Score tasks first when the batch exceeds capacity,
// mirroring the weighted-semaphore gating the teacher uses for outbound
// calls in internal/ratelimit.
type pool struct {
	sem *semaphore.Weighted
}

func newPool(concurrency int) *pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Run executes fn for every task in the batch, highest Score first,
// respecting the pool's concurrency cap. It blocks until every admitted
// task has returned or ctx is cancelled; tasks that never acquire a slot
// because ctx was cancelled first are skipped.
func (p *pool) Run(ctx context.Context, tasks []Task, fn func(ctx context.Context, t Task)) {
	ordered := make([]Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var wg sync.WaitGroup
	for _, t := range ordered {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break // context cancelled; stop admitting new tasks
		}
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer p.sem.Release(1)
			fn(ctx, t)
		}(t)
	}
	wg.Wait()
}
