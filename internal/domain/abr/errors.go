// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package abr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProbe classifies every StreamProbe failure.
	ErrProbe = errors.New("probe failed")
	// ErrUnreadable is an I/O failure opening or reading the source.
	ErrUnreadable = errors.New("source unreadable")
	// ErrNoVideoStream means the container parsed but holds no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrMalformedContainer means the prober could not parse the container.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrEncode classifies every EncodeTask failure.
	ErrEncode = errors.New("encode failed")
	// ErrCancelled is returned for executions cancelled by the caller.
	ErrCancelled = errors.New("execution cancelled")
	// ErrKilled is returned for executions failed by a forced pool kill.
	ErrKilled = errors.New("pool killed")
	// ErrWorkerCrashed is returned when a worker panicked while running a task.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrPoolClosed is returned by Submit after Shutdown or Kill.
	ErrPoolClosed = errors.New("pool closed")
	// ErrPoolExhaustedTimeout is returned when a caller deadline expires while queued.
	ErrPoolExhaustedTimeout = errors.New("pool exhausted: deadline expired while waiting for a worker")

	// ErrManifestAssembly signals an internal invariant violation while assembling.
	ErrManifestAssembly = errors.New("manifest assembly failed")
	// ErrEmptyLadder is an assembly-time invariant violation.
	ErrEmptyLadder = errors.New("empty ladder")
)

// ProbeError carries the path and the failure kind (one of the probe sentinels).
type ProbeError struct {
	Path string
	Kind error
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %v: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("probe %s: %v", e.Path, e.Kind)
}

// Unwrap exposes ErrProbe, the kind and the cause to errors.Is.
func (e *ProbeError) Unwrap() []error {
	errs := []error{ErrProbe, e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// EncodeError describes a failed encoder invocation.
type EncodeError struct {
	AdaptationKey int
	ExitCode      int // -1 when the process did not report one
	Stderr        []string
	Err           error
}

func (e *EncodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "encode task %d", e.AdaptationKey)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if n := len(e.Stderr); n > 0 {
		fmt.Fprintf(&b, ": %s", e.Stderr[n-1])
	}
	return b.String()
}

// Unwrap exposes ErrEncode and the cause to errors.Is.
func (e *EncodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEncode}
	}
	return []error{ErrEncode, e.Err}
}

// Stage names the export step that failed.
type Stage string

const (
	StageProbe    Stage = "probe"
	StageLadder   Stage = "ladder"
	StageFilter   Stage = "filter"
	StageEncode   Stage = "encode"
	StageAssemble Stage = "assemble"
	StagePublish  Stage = "publish"
)

// ExportError is the single typed failure returned by an export.
type ExportError struct {
	ExportID string
	Stage    Stage
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s failed at %s: %v", e.ExportID, e.Stage, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
