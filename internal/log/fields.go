// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldExportID    = "export_id"
	FieldJobID       = "job_id"
	FieldExecutionID = "execution_id"
	FieldWorkerID    = "worker_id"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// Media / stream fields
	FieldProtocol      = "protocol"
	FieldCodec         = "codec"
	FieldResolution    = "resolution"
	FieldBitrateKbps   = "bitrate_kbps"
	FieldFPS           = "fps"
	FieldAdaptationKey = "adaptation_key"
	FieldRungs         = "rungs"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath         = "path"
	FieldSourcePath   = "source_path"
	FieldOutputPath   = "output_path"
	FieldPlaylistPath = "playlist_path"
)
