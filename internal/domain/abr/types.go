// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package abr holds the value types, ports and error taxonomy shared by the
// adaptive-bitrate export pipeline.
package abr

import (
	"fmt"
	"strings"
	"time"
)

// SourceGeometry is the probed shape of a source file. Immutable once produced.
type SourceGeometry struct {
	Width            int
	Height           int
	DurationSeconds  float64
	VideoBitrateKbps int // 0 when the container does not report it
	AudioBitrateKbps int // 0 when unknown or absent
	VideoCodec       string
	FrameRate        float64 // 0 when unknown
	HasAudio         bool
}

// Pixels returns width*height.
func (g SourceGeometry) Pixels() int {
	return g.Width * g.Height
}

// Representation is one rung of the ladder.
type Representation struct {
	Width            int
	Height           int
	VideoBitrateKbps int
	AudioBitrateKbps int // 0 means no distinct audio bitrate for this rung
	Label            string
}

// LabelOriginal marks the pass-through rung used when no policy rung fits the source.
const LabelOriginal = "original"

// Pixels returns width*height.
func (r Representation) Pixels() int {
	return r.Width * r.Height
}

// Resolution formats the geometry as WxH.
func (r Representation) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// HasAudio reports whether the rung carries its own audio bitrate.
func (r Representation) HasAudio() bool {
	return r.AudioBitrateKbps > 0
}

// BandwidthBps is the advertised peak bandwidth in bits per second.
func (r Representation) BandwidthBps() int {
	return (r.VideoBitrateKbps + r.AudioBitrateKbps) * 1000
}

func (r Representation) String() string {
	return fmt.Sprintf("%s(%s@%dk)", r.Label, r.Resolution(), r.VideoBitrateKbps)
}

// Ladder is the ordered set of representations for one export (ascending pixel count).
type Ladder []Representation

// Labels returns the rung labels in ladder order.
func (l Ladder) Labels() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.Label
	}
	return out
}

// VideoCodec selects the encoder family.
type VideoCodec string

const (
	CodecH264 VideoCodec = "h264"
	CodecHEVC VideoCodec = "hevc"
	CodecVP9  VideoCodec = "vp9"
)

// ParseVideoCodec accepts the canonical names plus common aliases.
func ParseVideoCodec(s string) (VideoCodec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "x264", "avc", "libx264":
		return CodecH264, nil
	case "hevc", "h265", "x265", "libx265":
		return CodecHEVC, nil
	case "vp9", "libvpx-vp9":
		return CodecVP9, nil
	default:
		return "", fmt.Errorf("unsupported video codec %q", s)
	}
}

// Param is an ordered key/value encoder parameter. An empty Value emits the key alone.
type Param struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// FormatSelection is the single encode profile applied at every rung.
type FormatSelection struct {
	VideoCodec  VideoCodec
	AudioCodec  string
	DefaultInit bool // emit codec-specific initialisation flags
	ExtraParams []Param
}

// Protocol is the target adaptive streaming protocol.
type Protocol string

const (
	ProtocolHLS  Protocol = "hls"
	ProtocolDASH Protocol = "dash"
)

// ParseProtocol validates a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolHLS:
		return ProtocolHLS, nil
	case ProtocolDASH:
		return ProtocolDASH, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q (want hls or dash)", s)
	}
}

// EncodeTask is one unit of encoder work. HLS exports create one task per rung;
// DASH exports create a single task carrying the whole ladder.
type EncodeTask struct {
	ExportID        string
	AdaptationKey   int
	Protocol        Protocol
	Representations []Representation
	Format          FormatSelection
	SourcePath      string
	OutputPath      string // playlist or manifest the invocation produces
	Args            []string
}

// EncodeResult is returned by an Executor after the encoder exits cleanly.
type EncodeResult struct {
	OutputPath  string
	Elapsed     time.Duration
	Diagnostics []string
}
