// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cacherr/ctrl/internal/ctrlerr"
	"github.com/cacherr/ctrl/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// cachedEntryDTO is the wire shape of a model.CachedEntry row; the model
// type itself carries no JSON tags (the Tracking Store's JSON records use
// its Go field names), so this DTO fixes the HTTP names (spec.md §6 "GET
// /cache/files").
type cachedEntryDTO struct {
	Path               string   `json:"path"`
	Source             string   `json:"source"`
	CachedAt           string   `json:"cached_at"`
	LastSeenInUpstream string   `json:"last_seen_in_upstream"`
	SizeBytes          int64    `json:"size_bytes"`
	Users              []string `json:"users"`
	Method             string   `json:"method"`
	Status             string   `json:"status"`
}

func toDTO(e model.CachedEntry) cachedEntryDTO {
	return cachedEntryDTO{
		Path:               e.Path,
		Source:             string(e.Source),
		CachedAt:           e.CachedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		LastSeenInUpstream: e.LastSeenInUpstream.UTC().Format("2006-01-02T15:04:05Z07:00"),
		SizeBytes:          e.SizeBytes,
		Users:              e.UserList(),
		Method:             string(e.Method),
		Status:             string(e.Status),
	}
}

// handleStatus reports the controller's overall running state (spec.md §6
// "GET /status").
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.store.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	onDeck, watchlist := 0, 0
	for _, e := range tracked {
		switch e.Source {
		case model.SourceOnDeck:
			onDeck++
		case model.SourceWatchlist:
			watchlist++
		}
	}
	_, haveResult := s.controller.LastPlanResult()
	_, haveReconcile := s.controller.LastReconcileReport()

	writeJSON(w, http.StatusOK, map[string]any{
		"running":            true,
		"completed_ticks":    s.controller.CompletedTicks(),
		"have_plan_result":   haveResult,
		"have_reconcile_run": haveReconcile,
		"active_sessions":    len(s.monitor.ProtectedPaths()),
		"tracked_files":      len(tracked),
		"ondeck_entries":     onDeck,
		"watchlist_entries":  watchlist,
		"uptime_seconds":     int(time.Since(s.startedAt).Seconds()),
	})
}

// handleCacheStats reports the size budget and its current usage breakdown
// (spec.md §6 "GET /cache/stats").
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.store.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	var used int64
	bySource := map[string]int64{}
	for _, e := range tracked {
		if e.Status != model.StatusActive {
			continue
		}
		used += e.SizeBytes
		bySource[string(e.Source)] += e.SizeBytes
	}

	limit := s.cfg.Budget.LimitBytes
	usedPercent := 0.0
	if limit > 0 {
		usedPercent = float64(used) / float64(limit) * 100
	}
	health := "ok"
	if usedPercent >= s.cfg.Budget.EvictAbovePercent {
		health = "over_budget"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_size_bytes":  used,
		"limit_bytes":        limit,
		"used_percent":       usedPercent,
		"health":             health,
		"breakdown_by_source": bySource,
	})
}

// handleCacheFiles lists tracked entries, optionally filtered by source or
// user and paginated via limit/offset (spec.md §6 "GET /cache/files").
func (s *Server) handleCacheFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		tracked []model.CachedEntry
		err     error
	)
	switch {
	case q.Get("source") != "":
		tracked, err = s.store.BySource(model.Source(q.Get("source")))
	case q.Get("user") != "":
		tracked, err = s.store.ForUser(q.Get("user"))
	default:
		tracked, err = s.store.Snapshot()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}

	sort.Slice(tracked, func(i, j int) bool { return tracked[i].Path < tracked[j].Path })

	limit := parseIntDefault(q.Get("limit"), 100)
	offset := parseIntDefault(q.Get("offset"), 0)
	total := len(tracked)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total || limit <= 0 {
		end = total
	}
	page := tracked[offset:end]

	out := make([]cachedEntryDTO, 0, len(page))
	for _, e := range page {
		out = append(out, toDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"files": out,
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// handleCacheCycle forces one planning tick and reports its outcome
// (spec.md §6 "POST /cache/cycle").
func (s *Server) handleCacheCycle(w http.ResponseWriter, r *http.Request) {
	s.controller.TriggerTick(r.Context())
	cycle, _ := s.controller.LastCycleResult()
	writeJSON(w, http.StatusOK, map[string]any{
		"files_cached":     cycle.FilesCached,
		"bytes_cached":     cycle.BytesCached,
		"files_restored":   cycle.FilesRestored,
		"bytes_restored":   cycle.BytesRestored,
		"eviction":         cycle.Eviction,
		"errors":           cycle.Errors,
		"duration_seconds": cycle.DurationSeconds,
	})
}

type evictRequest struct {
	Bytes  int64 `json:"bytes"`
	DryRun bool  `json:"dry_run"`
}

// handleCacheEvict previews or executes an eviction pass for the requested
// byte count (spec.md §6 "POST /cache/evict").
func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	var req evictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Bytes <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_bytes", "bytes must be > 0")
		return
	}

	result, err := s.controller.Evict(r.Context(), req.Bytes, req.DryRun)
	if err != nil {
		writeError(w, http.StatusConflict, "eviction_failed", err.Error())
		return
	}

	victims := make([]map[string]any, 0, len(result.Victims))
	for _, v := range result.Victims {
		victims = append(victims, map[string]any{
			"path": v.Path, "size_bytes": v.SizeBytes, "score": v.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dry_run":     result.DryRun,
		"freed_bytes": result.FreedBytes,
		"victims":     victims,
	})
}

// handleCacheReconcile forces one reconciliation pass (spec.md §6
// "POST /cache/reconcile").
func (s *Server) handleCacheReconcile(w http.ResponseWriter, r *http.Request) {
	rep := s.controller.TriggerReconcile(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"orphaned_marked":   rep.OrphanedMarked,
		"orphaned_dropped":  rep.OrphanedDropped,
		"adopted":           rep.Adopted,
		"untracked_deleted": rep.UntrackedDeleted,
		"stale_removed":     rep.StaleRemoved,
		"size_drift_fixed":  rep.SizeDriftFixed,
	})
}

// handleCacheFileDelete forces a restore of one tracked path, regardless of
// its priority score (spec.md §6 "DELETE /cache/file/{path}").
func (s *Server) handleCacheFileDelete(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	entry, found, err := s.store.Get(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_tracked", ctrlerr.ErrNotTracked.Error())
		return
	}

	active := s.monitor.ProtectedPaths()[entry.Path]
	if err := s.pipeline.Restore(r.Context(), entry.Path, active); err != nil {
		if active {
			writeError(w, http.StatusConflict, "protected", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "restore_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionDTO struct {
	User     string  `json:"user"`
	Path     string  `json:"path"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}

// handleSessions reports the Session Monitor's current view of playback
// activity (spec.md §6 "GET /sessions").
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.monitor.Sessions()
	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionDTO{
			User: sess.User, Path: sess.Path,
			State: string(sess.State), Progress: sess.Progress,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}
