// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package profile maps a format selection and one representation to encoder flags.
// Everything here is pure: no I/O, no global state.
package profile

import (
	"fmt"
	"math"

	"github.com/ManuGH/abrexport/internal/domain/abr"
)

// Stream addresses an output stream index for multiplexed invocations.
// Unindexed produces plain flags (-b:v) for single-output invocations.
type Stream int

// Unindexed selects plain, non stream-specific flags.
const Unindexed Stream = -1

const (
	maxrateFactor = 1.2
	bufsizeFactor = 2.0
)

// Encoder returns the ffmpeg encoder name for the codec.
func Encoder(c abr.VideoCodec) string {
	switch c {
	case abr.CodecHEVC:
		return "libx265"
	case abr.CodecVP9:
		return "libvpx-vp9"
	default:
		return "libx264"
	}
}

// defaultInit holds codec-specific initialisation flags, emitted when DefaultInit is set.
func defaultInit(c abr.VideoCodec) [][2]string {
	switch c {
	case abr.CodecHEVC:
		return [][2]string{{"keyint_min", "25"}, {"g", "250"}, {"sc_threshold", "40"}}
	case abr.CodecVP9:
		return [][2]string{{"deadline", "good"}, {"row-mt", "1"}, {"g", "250"}}
	default:
		return [][2]string{{"bf", "1"}, {"keyint_min", "25"}, {"g", "250"}, {"sc_threshold", "40"}}
	}
}

// BuildFormatArgs returns the encoder flags for one representation: codec
// selection, optional default initialisation, video bitrate control and audio.
// Audio bitrate is omitted entirely when the rung has none. Extra parameters
// are included for unindexed streams only; multiplexed callers append
// ExtraArgs once.
func BuildFormatArgs(sel abr.FormatSelection, rep abr.Representation, s Stream) []string {
	args := make([]string, 0, 24)

	args = append(args, flag("c", "v", s), Encoder(sel.VideoCodec))
	if sel.VideoCodec == abr.CodecHEVC {
		// Apple players require hvc1 tagging.
		args = append(args, flag("tag", "v", s), "hvc1")
	}
	if sel.VideoCodec != abr.CodecVP9 {
		args = append(args, flag("pix_fmt", "v", s), "yuv420p")
	}
	if sel.DefaultInit {
		for _, kv := range defaultInit(sel.VideoCodec) {
			args = append(args, flag(kv[0], "v", s), kv[1])
		}
	}

	if kbps := rep.VideoBitrateKbps; kbps > 0 {
		args = append(args,
			flag("b", "v", s), kbpsArg(float64(kbps)),
			flag("maxrate", "v", s), kbpsArg(float64(kbps)*maxrateFactor),
			flag("bufsize", "v", s), kbpsArg(float64(kbps)*bufsizeFactor),
		)
	}

	if sel.AudioCodec != "" {
		args = append(args, flag("c", "a", s), sel.AudioCodec)
	}
	if rep.HasAudio() {
		args = append(args, flag("b", "a", s), kbpsArg(float64(rep.AudioBitrateKbps)))
	}

	if s == Unindexed {
		args = append(args, ExtraArgs(sel)...)
	}
	return args
}

// ExtraArgs renders the selection's ordered passthrough parameters.
func ExtraArgs(sel abr.FormatSelection) []string {
	out := make([]string, 0, 2*len(sel.ExtraParams))
	for _, p := range sel.ExtraParams {
		if p.Key == "" {
			continue
		}
		out = append(out, dashed(p.Key))
		if p.Value != "" {
			out = append(out, p.Value)
		}
	}
	return out
}

// flag renders -name:kind or -name:kind:index.
func flag(name, kind string, s Stream) string {
	if s == Unindexed {
		return "-" + name + ":" + kind
	}
	return fmt.Sprintf("-%s:%s:%d", name, kind, int(s))
}

func kbpsArg(v float64) string {
	return fmt.Sprintf("%dk", int(math.Round(v)))
}

func dashed(key string) string {
	if len(key) > 0 && key[0] == '-' {
		return key
	}
	return "-" + key
}
