// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ctrlerr defines the error kinds named in the controller's error
// handling design: transient upstream failures, schema drift, filesystem
// failures, store corruption, and cancellation. Collectors, the pipeline
// and the reconciler return these as explicit values (never panics) so
// callers can branch on kind without type assertions into unrelated packages.
package ctrlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for cycle-result reporting and retry policy.
type Kind string

const (
	KindTransientUpstream Kind = "transient_upstream"
	KindSchemaDrift       Kind = "schema_drift"
	KindNoSpace           Kind = "no_space"
	KindFilesystem        Kind = "filesystem"
	KindStoreCorrupt      Kind = "store_corrupt"
	KindCancelled         Kind = "cancelled"
	KindUnknownRoot       Kind = "unknown_root"
	KindBudgetExceeded    Kind = "budget_exceeded"
	KindIllegalTransition Kind = "illegal_transition"
)

// Error is a classified, wrapped error carrying a machine-readable reason code.
type Error struct {
	Kind   Kind
	Path   string // optional: the path this error concerns
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, path, reason string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Reason: reason, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the machine-readable Kind from err, for cycle-result
// reporting. Returns "" if err does not carry one — a bare error from
// outside this package's taxonomy still needs a reason string, so callers
// should fall back to err.Error() in that case.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

var (
	ErrUnknownRoot        = errors.New("path does not resolve under any configured source root")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrNoSpace            = errors.New("insufficient free space on cache volume")
	ErrProtectedPath      = errors.New("path is protected by an active session")
	ErrNotTracked         = errors.New("path has no tracking row")
	ErrAlreadyTracked     = errors.New("path already has a tracking row")
	ErrStoreCorrupt       = errors.New("tracking store is corrupt")
)
