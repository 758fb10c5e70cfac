// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pathresolver maps a server-visible path to its cache/array twins
// via configured source->destination root pairs, and classifies a path's
// current on-disk state (§4.A). All containment checks route through
// internal/fsutil so a malicious or malformed path can never escape a
// configured root via ".." segments or symlink tricks.
package pathresolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cacherr/ctrl/internal/config"
	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/fsutil"
	"github.com/cacherr/ctrl/internal/model"
)

// subtitleExtensions is the fixed extension set enumerated for subtitle
// siblings (§4.A "Subtitle siblings").
var subtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true, ".idx": true,
}

// rootPair is one resolved (source_root, cache_root) mapping, with both
// sides pre-cleaned to absolute form.
type rootPair struct {
	sourceRoot string
	cacheRoot  string
}

// Resolver holds the ordered root-pair table. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	pairs []rootPair
}

// New builds a Resolver from the configured roots plus any alternate source
// roots, which share the first pair's cache root (spec.md §4.A).
func New(roots []config.RootPair, alternateSourceRoots []string) (*Resolver, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("pathresolver: at least one root pair is required")
	}
	r := &Resolver{}
	for _, rp := range roots {
		src, err := filepath.Abs(rp.SourceRoot)
		if err != nil {
			return nil, fmt.Errorf("pathresolver: invalid source_root %q: %w", rp.SourceRoot, err)
		}
		dst, err := filepath.Abs(rp.CacheRoot)
		if err != nil {
			return nil, fmt.Errorf("pathresolver: invalid cache_root %q: %w", rp.CacheRoot, err)
		}
		r.pairs = append(r.pairs, rootPair{sourceRoot: src, cacheRoot: dst})
	}
	sharedCacheRoot := r.pairs[0].cacheRoot
	for _, alt := range alternateSourceRoots {
		abs, err := filepath.Abs(alt)
		if err != nil {
			return nil, fmt.Errorf("pathresolver: invalid alternate_source_root %q: %w", alt, err)
		}
		r.pairs = append(r.pairs, rootPair{sourceRoot: abs, cacheRoot: sharedCacheRoot})
	}
	// Longest source_root first, so a nested root pair wins over its parent.
	sort.SliceStable(r.pairs, func(i, j int) bool {
		return len(r.pairs[i].sourceRoot) > len(r.pairs[j].sourceRoot)
	})
	return r, nil
}

// Resolved is the triple produced by Resolve: the matched source root, the
// path relative to it, and the corresponding cache-side path.
type Resolved struct {
	SourceRoot string
	Relative   string
	CachePath  string
}

// Resolve maps p to its (source_root, relative, cache_path) triple. It
// fails with ctrlerr.ErrUnknownRoot if no configured pair contains p.
func (r *Resolver) Resolve(p string) (Resolved, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Resolved{}, ctrlerr.New(ctrlerr.KindUnknownRoot, p, "not an absolute path", err)
	}
	for _, pair := range r.pairs {
		rel, err := filepath.Rel(pair.sourceRoot, abs)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		cachePath, err := fsutil.ConfineRelPath(pair.cacheRoot, rel)
		if err != nil {
			// Containment failed (e.g. symlink escape under the cache root);
			// fall back to the joined path for reporting but still succeed the
			// resolve — classify() will surface the anomaly as "missing".
			cachePath = filepath.Join(pair.cacheRoot, rel)
		}
		return Resolved{SourceRoot: pair.sourceRoot, Relative: rel, CachePath: cachePath}, nil
	}
	return Resolved{}, fmt.Errorf("%w: %s", ctrlerr.ErrUnknownRoot, p)
}

// Classify inspects the filesystem state of p (spec.md §4.A classify).
func (r *Resolver) Classify(p string) (model.Classification, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return "", err
	}

	if info, err := os.Stat(resolved.CachePath); err == nil && info.Mode().IsRegular() {
		return model.ClassOnCache, nil
	}

	if lst, err := os.Lstat(p); err == nil && lst.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(p)
		if err == nil && r.underAnyCacheRoot(target) {
			return model.ClassRedirected, nil
		}
	}

	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return model.ClassOnArray, nil
	}

	return model.ClassMissing, nil
}

// CacheRoots returns the distinct cache roots configured, in the order
// they first appear among the root pairs. Used by the Reconciler to walk
// the cache filesystem for untracked files.
func (r *Resolver) CacheRoots() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pair := range r.pairs {
		if !seen[pair.cacheRoot] {
			seen[pair.cacheRoot] = true
			out = append(out, pair.cacheRoot)
		}
	}
	return out
}

// ArrayPath maps a cache-side absolute path back to its corresponding
// array-side (source) path, reversing Resolve. It returns the first root
// pair whose cache root contains cachePath.
func (r *Resolver) ArrayPath(cachePath string) (string, error) {
	abs, err := filepath.Abs(cachePath)
	if err != nil {
		return "", ctrlerr.New(ctrlerr.KindUnknownRoot, cachePath, "not an absolute path", err)
	}
	for _, pair := range r.pairs {
		rel, err := filepath.Rel(pair.cacheRoot, abs)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.Join(pair.sourceRoot, rel), nil
	}
	return "", fmt.Errorf("%w: %s", ctrlerr.ErrUnknownRoot, cachePath)
}

func (r *Resolver) underAnyCacheRoot(target string) bool {
	for _, pair := range r.pairs {
		if rel, err := filepath.Rel(pair.cacheRoot, target); err == nil {
			if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

// ToMediaFile resolves p's roots and stats it, producing a MediaFile value.
// Callers on the array side pass a regular path; ArrayPath equals p.
func (r *Resolver) ToMediaFile(p string) (model.MediaFile, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return model.MediaFile{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return model.MediaFile{}, ctrlerr.New(ctrlerr.KindFilesystem, p, "stat failed", err)
	}
	mf := model.MediaFile{
		Path:       p,
		SizeBytes:  info.Size(),
		ModTime:    info.ModTime(),
		SourceRoot: resolved.SourceRoot,
		ArrayPath:  p,
		CachePath:  resolved.CachePath,
	}
	mf.Subtitles = r.SubtitleSiblings(p)
	return mf, nil
}

// SubtitleSiblings enumerates "<basename>.*" files next to p restricted to
// subtitleExtensions (§4.A "Subtitle siblings").
func (r *Resolver) SubtitleSiblings(p string) []string {
	dir := filepath.Dir(p)
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		if subtitleExtensions[strings.ToLower(filepath.Ext(m))] {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
