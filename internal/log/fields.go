// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldCycleID       = "cycle_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Media / cache fields
	FieldPath      = "path"
	FieldSource    = "source"
	FieldMethod    = "method"
	FieldStatus    = "status"
	FieldUser      = "user"
	FieldSizeBytes = "size_bytes"
	FieldScore     = "score"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
