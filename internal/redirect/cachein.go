// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package redirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/renameio/v2"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/metrics"
	"github.com/cacherr/ctrl/internal/model"
)

// freeSpaceMargin is the safety factor applied to the file size when
// checking free space before a cache-in (spec.md §4.G step 2: "s × 1.05").
const freeSpaceMargin = 1.05

// CacheIn executes the cache-in contract for path (spec.md §4.G). active
// reports whether path is currently protected by an active session;
// copyOnly forces atomicCopy regardless of the configured default method
// (used by the session-tick opportunistic path).
func (p *Pipeline) CacheIn(ctx context.Context, path string, active, copyOnly bool) (err error) {
	logger := log.WithComponent("redirect.cachein").With().Str("path", path).Logger()
	defer func() {
		switch {
		case err == nil:
			metrics.CacheInTotal.WithLabelValues("ok").Inc()
		case errors.Is(err, ctrlerr.ErrNoSpace):
			metrics.CacheInTotal.WithLabelValues("no_space").Inc()
		default:
			metrics.CacheInTotal.WithLabelValues("failed").Inc()
		}
	}()

	lock := p.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	class, err := p.resolver.Classify(path)
	if err != nil {
		return err
	}
	if class == model.ClassOnCache || class == model.ClassRedirected {
		// Already redirected; refresh the tracking row only.
		return p.touchTrackingRow(path)
	}

	resolved, err := p.resolver.Resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, path, "stat array file", err)
	}
	size := info.Size()

	if err := p.ensureFreeSpace(ctx, resolved.CachePath, size); err != nil {
		return err
	}

	p.trackBytesInFlight(size)
	defer p.trackBytesInFlight(-size)

	if err := os.MkdirAll(filepath.Dir(resolved.CachePath), 0o755); err != nil {
		p.setCooldown(path)
		return ctrlerr.New(ctrlerr.KindFilesystem, path, "create cache directory", err)
	}

	if err := copyStreaming(ctx, path, resolved.CachePath); err != nil {
		p.setCooldown(path)
		return err
	}

	method := model.MethodAtomicSymlink
	if active || copyOnly || p.defaultMethod == model.MethodAtomicCopy {
		method = model.MethodAtomicCopy
	}

	if method == model.MethodAtomicSymlink {
		if err := redirectSymlink(path, resolved.CachePath); err != nil {
			// A failed symlink swap after the cache copy landed leaves a
			// dangling cache file with no tracking row yet; the Reconciler's
			// Untracked handling adopts or cleans it up on its next pass
			// (spec.md §4.G "Failure handling").
			logger.Warn().Err(err).Msg("symlink swap failed; cache file left for reconciler to adopt")
			p.setCooldown(path)
			return err
		}
	}

	entry := model.CachedEntry{
		Path:               path,
		CachedAt:           time.Now(),
		LastSeenInUpstream: time.Now(),
		SizeBytes:          size,
		Method:             method,
		Status:             model.StatusActive,
	}
	p.admission.Lock()
	err = p.store.Upsert(entry)
	p.admission.Unlock()
	if err != nil {
		return fmt.Errorf("redirect: commit tracking row for %s: %w", path, err)
	}
	metrics.BytesCachedTotal.Add(float64(size))
	p.events.Publish(events.CacheFileAdded, map[string]any{
		"path": path, "size_bytes": size, "method": string(method),
	})
	logger.Info().Str("method", string(method)).Int64("bytes", size).Msg("cached in")
	return nil
}

func (p *Pipeline) touchTrackingRow(path string) error {
	p.admission.Lock()
	defer p.admission.Unlock()
	return p.store.TouchLastSeen(path, time.Now())
}

// ensureFreeSpace checks the cache volume for at least size*1.05 bytes
// free, accounting for bytes already committed to other in-flight
// cache-ins, and synchronously triggers eviction if short (spec.md §4.G
// step 2).
func (p *Pipeline) ensureFreeSpace(ctx context.Context, cachePath string, size int64) error {
	need := int64(float64(size) * freeSpaceMargin)

	free, err := freeBytes(filepath.Dir(cachePath))
	if err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, cachePath, "statfs cache volume", err)
	}

	p.bytesInFlightMu.Lock()
	available := free - p.bytesInFlightCache
	p.bytesInFlightMu.Unlock()

	if available >= need {
		return nil
	}
	if p.evict == nil {
		return fmt.Errorf("%w: need %d, have %d", ctrlerr.ErrNoSpace, need, available)
	}
	if err := p.evict(ctx, need-available); err != nil {
		return fmt.Errorf("%w: eviction could not free enough space: %v", ctrlerr.ErrNoSpace, err)
	}
	free, err = freeBytes(filepath.Dir(cachePath))
	if err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, cachePath, "statfs cache volume after eviction", err)
	}
	if free-p.bytesInFlightCache < need {
		return fmt.Errorf("%w: still insufficient after eviction", ctrlerr.ErrNoSpace)
	}
	return nil
}

func (p *Pipeline) trackBytesInFlight(delta int64) {
	p.bytesInFlightMu.Lock()
	p.bytesInFlightCache += delta
	p.bytesInFlightMu.Unlock()
}

// freeBytes reports bytes available to an unprivileged writer under dir's
// filesystem, grounded on the teacher's disk-pressure check in
// internal/api/recordings.go.
func freeBytes(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// copyStreaming copies src to a temporary sibling of dst on the same
// filesystem, fsyncs it, then atomically renames it into place (spec.md
// §4.G steps 3-4), using renameio for the durable-write discipline the
// teacher applies to its own generated files (internal/jobs/write_unix.go).
func copyStreaming(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, src, "open source", err)
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dst)
	if err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, dst, "create pending cache file", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, &contextReader{ctx: ctx, r: in}); err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, dst, "stream copy", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, dst, "atomic rename into cache", err)
	}
	return nil
}

// redirectSymlink creates a symlink at a temporary sibling of p pointing
// at cachePath, then atomically renames it over p, and finally removes
// the original array file now that it is unreferenced (spec.md §4.G step
// 5, atomicSymlink branch).
func redirectSymlink(p, cachePath string) error {
	tmp := p + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(cachePath, tmp); err != nil {
		return ctrlerr.New(ctrlerr.KindFilesystem, p, "create temp symlink", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return ctrlerr.New(ctrlerr.KindFilesystem, p, "rename symlink into place", err)
	}
	return nil
}

// contextReader wraps an io.Reader so a long copy aborts promptly on
// cancellation instead of running to completion.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(buf []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(buf)
}
