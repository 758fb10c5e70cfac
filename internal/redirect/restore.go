// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package redirect

import (
	"context"
	"fmt"
	"os"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/events"
	"github.com/cacherr/ctrl/internal/log"
	"github.com/cacherr/ctrl/internal/metrics"
)

// Restore executes the restore contract for a tracked path (spec.md
// §4.G). It refuses a path currently protected by an active session.
func (p *Pipeline) Restore(ctx context.Context, path string, active bool) (err error) {
	if active {
		metrics.RestoreTotal.WithLabelValues("protected").Inc()
		return fmt.Errorf("%w: %s", ctrlerr.ErrProtectedPath, path)
	}
	defer func() {
		if err != nil {
			metrics.RestoreTotal.WithLabelValues("failed").Inc()
		} else {
			metrics.RestoreTotal.WithLabelValues("ok").Inc()
		}
	}()

	logger := log.WithComponent("redirect.restore").With().Str("path", path).Logger()

	lock := p.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	resolved, err := p.resolver.Resolve(path)
	if err != nil {
		return err
	}

	lst, statErr := os.Lstat(path)
	isSymlink := statErr == nil && lst.Mode()&os.ModeSymlink != 0

	if isSymlink {
		if err := copyStreaming(ctx, resolved.CachePath, path+".restoring"); err != nil {
			return err
		}
		if err := os.Rename(path+".restoring", path); err != nil {
			return ctrlerr.New(ctrlerr.KindFilesystem, path, "rename restored file over symlink", err)
		}
	}
	// atomicCopy entries never replaced the original file, so there is
	// nothing to restore on the array side — only the cache copy and the
	// tracking row are removed below.

	var freedBytes int64
	if info, statErr := os.Stat(resolved.CachePath); statErr == nil {
		freedBytes = info.Size()
	}
	if err := os.Remove(resolved.CachePath); err != nil && !os.IsNotExist(err) {
		return ctrlerr.New(ctrlerr.KindFilesystem, resolved.CachePath, "remove cache file", err)
	}

	p.admission.Lock()
	err = p.store.Remove(path)
	p.admission.Unlock()
	if err != nil {
		return fmt.Errorf("redirect: remove tracking row for %s: %w", path, err)
	}

	metrics.BytesRestoredTotal.Add(float64(freedBytes))
	p.events.Publish(events.CacheFileRemoved, map[string]any{
		"path": path, "freed_bytes": freedBytes,
	})
	logger.Info().Msg("restored")
	return nil
}
