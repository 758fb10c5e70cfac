// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reconcile is the Reconciler (§4.H): it scans the Tracking Store
// and the cache filesystem every reconcile_interval and on startup,
// correcting drift the Pipeline's own failure paths could not resolve
// synchronously. Apart from the Controller Loop's last_seen_in_upstream
// refresh, Reconciler writes are the only Tracking Store writes made outside
// the Redirection Pipeline.
package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/metrics"
	"github.com/cacherr/ctrl/internal/model"
	"github.com/cacherr/ctrl/internal/pathresolver"
	"github.com/cacherr/ctrl/internal/store"
)

// Reconciler holds the orphan-absence counters needed to implement the
// "absent for two consecutive reconciles" rule for dropping an orphaned row.
type Reconciler struct {
	resolver *pathresolver.Resolver
	store    *store.Store

	untrackedGraceHours float64

	mu           sync.Mutex
	orphanMisses map[string]int
}

// New builds a Reconciler. resolver and s are shared collaborators whose
// lifecycle the Reconciler does not own.
func New(resolver *pathresolver.Resolver, s *store.Store, untrackedGraceHours float64) *Reconciler {
	return &Reconciler{
		resolver:            resolver,
		store:               s,
		untrackedGraceHours: untrackedGraceHours,
		orphanMisses:        make(map[string]int),
	}
}

// Report summarises one reconciliation pass, for logging and the
// external status boundary.
type Report struct {
	OrphanedMarked   int
	OrphanedDropped  int
	Adopted          int
	UntrackedDeleted int
	StaleRemoved     int
	SizeDriftFixed   int
}

// Run executes one full reconciliation pass (spec.md §4.H).
func (r *Reconciler) Run(ctx context.Context) Report {
	logger := log.WithComponent("reconcile")
	var rep Report

	tracked, err := r.store.Snapshot()
	if err != nil {
		logger.Error().Err(err).Msg("reconcile: snapshot failed, aborting pass")
		return rep
	}

	trackedByPath := make(map[string]model.CachedEntry, len(tracked))
	for _, e := range tracked {
		trackedByPath[e.Path] = e
	}

	onCache := r.walkCacheFiles()

	for _, entry := range tracked {
		if ctx.Err() != nil {
			return rep
		}
		r.reconcileTrackedPath(entry, onCache, &rep)
	}

	for cachePath, info := range onCache {
		arrayPath, err := r.resolver.ArrayPath(cachePath)
		if err != nil {
			continue
		}
		if _, isTracked := trackedByPath[arrayPath]; isTracked {
			continue
		}
		r.reconcileUntracked(arrayPath, cachePath, info, &rep)
	}

	metrics.ReconcileDriftTotal.WithLabelValues("orphaned_marked").Add(float64(rep.OrphanedMarked))
	metrics.ReconcileDriftTotal.WithLabelValues("orphaned_dropped").Add(float64(rep.OrphanedDropped))
	metrics.ReconcileDriftTotal.WithLabelValues("adopted").Add(float64(rep.Adopted))
	metrics.ReconcileDriftTotal.WithLabelValues("untracked_deleted").Add(float64(rep.UntrackedDeleted))
	metrics.ReconcileDriftTotal.WithLabelValues("stale_removed").Add(float64(rep.StaleRemoved))
	metrics.ReconcileDriftTotal.WithLabelValues("size_drift_fixed").Add(float64(rep.SizeDriftFixed))
	metrics.TrackedEntries.Set(float64(len(tracked) - rep.OrphanedDropped - rep.StaleRemoved + rep.Adopted))

	logger.Info().
		Int("orphaned_marked", rep.OrphanedMarked).
		Int("orphaned_dropped", rep.OrphanedDropped).
		Int("adopted", rep.Adopted).
		Int("untracked_deleted", rep.UntrackedDeleted).
		Int("stale_removed", rep.StaleRemoved).
		Int("size_drift_fixed", rep.SizeDriftFixed).
		Msg("reconcile pass complete")
	return rep
}

// reconcileTrackedPath handles the Orphan, Stale and Size-drift cases for
// one already-tracked row.
func (r *Reconciler) reconcileTrackedPath(entry model.CachedEntry, onCache map[string]os.FileInfo, rep *Report) {
	resolved, err := r.resolver.Resolve(entry.Path)
	if err != nil {
		return
	}
	info, cached := onCache[resolved.CachePath]

	if !cached {
		r.handleOrphan(entry, rep)
		return
	}
	r.clearOrphanMiss(entry.Path)

	if _, err := os.Stat(entry.Path); err != nil && os.IsNotExist(err) {
		r.handleStale(entry, resolved.CachePath, rep)
		return
	}

	if info.Size() != entry.SizeBytes {
		entry.SizeBytes = info.Size()
		if err := r.store.Upsert(entry); err == nil {
			rep.SizeDriftFixed++
		}
	}
}

func (r *Reconciler) handleOrphan(entry model.CachedEntry, rep *Report) {
	r.mu.Lock()
	r.orphanMisses[entry.Path]++
	misses := r.orphanMisses[entry.Path]
	r.mu.Unlock()

	if misses >= 2 {
		if err := r.store.Remove(entry.Path); err == nil {
			rep.OrphanedDropped++
			r.mu.Lock()
			delete(r.orphanMisses, entry.Path)
			r.mu.Unlock()
		}
		return
	}

	if entry.Status != model.StatusOrphaned {
		if err := r.store.Mark(entry.Path, model.StatusOrphaned); err == nil {
			rep.OrphanedMarked++
		}
	}
}

func (r *Reconciler) clearOrphanMiss(path string) {
	r.mu.Lock()
	delete(r.orphanMisses, path)
	r.mu.Unlock()
}

func (r *Reconciler) handleStale(entry model.CachedEntry, cachePath string, rep *Report) {
	if err := r.store.Mark(entry.Path, model.StatusPendingRemoval); err != nil {
		return
	}
	_ = os.Remove(cachePath)
	if err := r.store.Remove(entry.Path); err == nil {
		rep.StaleRemoved++
	}
}

// reconcileUntracked handles one cache-side file with no tracking row:
// adopt it if an array-side symlink points at it, otherwise delete it once
// it has aged past untracked_grace_hours.
func (r *Reconciler) reconcileUntracked(arrayPath, cachePath string, info os.FileInfo, rep *Report) {
	if lst, err := os.Lstat(arrayPath); err == nil && lst.Mode()&os.ModeSymlink != 0 {
		if target, err := filepath.EvalSymlinks(arrayPath); err == nil && target == cachePath {
			entry := model.CachedEntry{
				Path:      arrayPath,
				Source:    model.SourceManual,
				CachedAt:  info.ModTime(),
				SizeBytes: info.Size(),
				Method:    model.MethodAtomicSymlink,
				Status:    model.StatusActive,
				Users:     map[string]struct{}{},
			}
			if err := r.store.Upsert(entry); err == nil {
				rep.Adopted++
			}
			return
		}
	}

	if time.Since(info.ModTime()).Hours() > r.untrackedGraceHours {
		if err := os.Remove(cachePath); err == nil {
			rep.UntrackedDeleted++
		}
	}
}

// WatchForDrift is the reconcile_interval fast path: it watches every cache
// root for removals and renames (a symptom of something deleting cache
// files outside the Pipeline, e.g. a manual `rm` or a failing disk) and
// signals trigger so the caller can run an out-of-band pass instead of
// waiting for the next scheduled reconcile. It blocks until ctx is
// cancelled; a watcher setup failure is logged and treated as advisory
// only, matching the Reconciler's own "never fail the process" posture.
func (r *Reconciler) WatchForDrift(ctx context.Context, trigger chan<- struct{}) {
	logger := log.WithComponent("reconcile.watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify watcher unavailable; fast-path drift detection disabled")
		return
	}
	defer watcher.Close()

	for _, root := range r.resolver.CacheRoots() {
		if err := watcher.Add(root); err != nil {
			logger.Warn().Err(err).Str("root", root).Msg("failed to watch cache root")
		}
	}

	const debounce = 2 * time.Second
	var pending *time.Timer
	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.AfterFunc(debounce, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// walkCacheFiles enumerates every regular file under the configured cache
// roots, keyed by absolute path.
func (r *Reconciler) walkCacheFiles() map[string]os.FileInfo {
	out := make(map[string]os.FileInfo)
	for _, root := range r.resolver.CacheRoots() {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // skip unreadable entries, do not abort the walk
			}
			if info.Mode().IsRegular() {
				out[path] = info
			}
			return nil
		})
	}
	return out
}
