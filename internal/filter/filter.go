// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package filter turns a ladder and a format selection into encoder invocations.
// The HLS strategy yields one invocation per rung; the DASH strategy yields a
// single multiplexed invocation. Arguments are vectors and never pass through a shell.
package filter

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/abrexport/internal/domain/abr"
)

// Segment container types for HLS.
const (
	SegmentTypeMPEGTS = "mpegts"
	SegmentTypeFMP4   = "fmp4"
)

// DefaultSegmentDuration is used when Options leaves it unset.
const DefaultSegmentDuration = 6

// Options carries the per-export policy the filters need.
type Options struct {
	SourcePath       string
	OutputDir        string
	BaseName         string // file stem shared by every artifact of the export
	SegmentDuration  int    // seconds
	HLSSegmentType   string // mpegts or fmp4; HEVC and VP9 always use fmp4
	AllowCache       bool
	Strict           string   // ffmpeg -strict level; empty omits the flag
	AdditionalParams []string // raw passthrough, appended last
}

// Invocation is one encoder command line plus what the assembler needs to find its output.
type Invocation struct {
	AdaptationKey   int
	Representations []abr.Representation
	Args            []string
	OutputPath      string // HLS media playlist or DASH manifest
	// VariantMasterPath is the one-entry master playlist the encoder writes next
	// to an HLS media playlist. Empty for DASH.
	VariantMasterPath string
}

var ErrInvalidOptions = errors.New("invalid filter options")

func (o Options) validate(l abr.Ladder) error {
	if len(l) == 0 {
		return abr.ErrEmptyLadder
	}
	if o.SourcePath == "" {
		return fmt.Errorf("%w: missing source path", ErrInvalidOptions)
	}
	if o.OutputDir == "" {
		return fmt.Errorf("%w: missing output directory", ErrInvalidOptions)
	}
	if o.BaseName == "" {
		return fmt.Errorf("%w: missing base name", ErrInvalidOptions)
	}
	if o.SegmentDuration < 0 {
		return fmt.Errorf("%w: negative segment duration", ErrInvalidOptions)
	}
	return nil
}

func (o Options) segmentDuration() string {
	if o.SegmentDuration <= 0 {
		return strconv.Itoa(DefaultSegmentDuration)
	}
	return strconv.Itoa(o.SegmentDuration)
}

// inputArgs opens the source. -nostdin and -progress are owned by the executor.
func inputArgs(src string) []string {
	return []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}
}

// trailingArgs are appended right before the output path so they override defaults.
func (o Options) trailingArgs() []string {
	var out []string
	if o.Strict != "" {
		out = append(out, "-strict", o.Strict)
	}
	return append(out, o.AdditionalParams...)
}

func (o Options) path(name string) string {
	return filepath.Join(o.OutputDir, name)
}

func ladderHasAudio(l abr.Ladder) bool {
	for _, r := range l {
		if r.HasAudio() {
			return true
		}
	}
	return false
}
