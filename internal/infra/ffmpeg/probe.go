// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg adapts the ffprobe and ffmpeg binaries to the abr ports.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/metrics"
	"github.com/rs/zerolog"
)

// Ensure Prober implements abr.Prober
var _ abr.Prober = (*Prober)(nil)

// RunFunc executes a binary and returns its stdout and stderr.
type RunFunc func(ctx context.Context, bin string, args ...string) (stdout, stderr []byte, err error)

// Prober implements abr.Prober using ffprobe. It never retries.
type Prober struct {
	BinaryPath string
	Logger     zerolog.Logger
	run        RunFunc
}

func NewProber(binaryPath string, logger zerolog.Logger) *Prober {
	if binaryPath == "" {
		binaryPath = "ffprobe"
	}
	return &Prober{BinaryPath: binaryPath, Logger: logger, run: execRun}
}

// WithRunner swaps the process runner; used by tests.
func (p *Prober) WithRunner(run RunFunc) *Prober {
	p.run = run
	return p
}

func execRun(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	// #nosec G204 - ffprobe is configured by the operator; the path is passed as a single argument
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	return out, stderr.Bytes(), err
}

// Probe reads the source geometry of path.
func (p *Prober) Probe(ctx context.Context, path string) (abr.SourceGeometry, error) {
	g, err := p.probe(ctx, path)
	var pe *abr.ProbeError
	switch {
	case err == nil:
		metrics.IncProbe("ok")
	case errors.As(err, &pe) && errors.Is(pe.Kind, abr.ErrUnreadable):
		metrics.IncProbe("unreadable")
	case errors.Is(err, abr.ErrNoVideoStream):
		metrics.IncProbe("no_video")
	case errors.Is(err, abr.ErrMalformedContainer):
		metrics.IncProbe("malformed")
	default:
		metrics.IncProbe("error")
	}
	return g, err
}

func (p *Prober) probe(ctx context.Context, path string) (abr.SourceGeometry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return abr.SourceGeometry{}, &abr.ProbeError{Path: path, Kind: abr.ErrUnreadable, Err: err}
	}
	if fi.IsDir() {
		return abr.SourceGeometry{}, &abr.ProbeError{Path: path, Kind: abr.ErrUnreadable, Err: errors.New("is a directory")}
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, stderr, runErr := p.run(ctx, p.BinaryPath, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return abr.SourceGeometry{}, &abr.ProbeError{Path: path, Kind: abr.ErrUnreadable, Err: ctxErr}
	}

	var data probeData
	jsonErr := json.Unmarshal(out, &data)
	if jsonErr != nil || data.Format.FormatName == "" {
		cause := jsonErr
		if cause == nil {
			cause = errors.New("ffprobe returned no format")
		}
		if runErr != nil {
			cause = fmt.Errorf("%w (stderr: %s)", runErr, truncate(string(stderr), 4096))
		}
		kind := abr.ErrMalformedContainer
		if isIOError(string(stderr)) {
			kind = abr.ErrUnreadable
		}
		return abr.SourceGeometry{}, &abr.ProbeError{Path: path, Kind: kind, Err: cause}
	}
	if runErr != nil {
		// Valid JSON with content: partial files often exit non-zero.
		p.Logger.Warn().Err(runErr).Str(log.FieldPath, path).
			Str("stderr", truncate(string(stderr), 4096)).
			Msg("ffprobe non-zero exit but JSON accepted")
	}

	g, err := data.geometry()
	if err != nil {
		return abr.SourceGeometry{}, &abr.ProbeError{Path: path, Kind: err}
	}
	return g, nil
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Duration     string `json:"duration,omitempty"`
	BitRate      string `json:"bit_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (d probeData) geometry() (abr.SourceGeometry, error) {
	var video, audio *probeStream
	for i := range d.Streams {
		s := &d.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art is a video stream with a single frame.
			if video == nil && s.Disposition.AttachedPic == 0 && s.Width > 0 && s.Height > 0 {
				video = s
			}
		case "audio":
			if audio == nil && s.CodecName != "" {
				audio = s
			}
		}
	}
	if video == nil {
		return abr.SourceGeometry{}, abr.ErrNoVideoStream
	}

	g := abr.SourceGeometry{
		Width:      video.Width,
		Height:     video.Height,
		VideoCodec: video.CodecName,
		HasAudio:   audio != nil,
		FrameRate:  parseRate(video.AvgFrameRate),
	}
	if g.FrameRate == 0 {
		g.FrameRate = parseRate(video.RFrameRate)
	}

	g.DurationSeconds = parseFloat(video.Duration)
	if g.DurationSeconds == 0 {
		g.DurationSeconds = parseFloat(d.Format.Duration)
	}

	if audio != nil {
		g.AudioBitrateKbps = parseInt(audio.BitRate) / 1000
	}
	g.VideoBitrateKbps = parseInt(video.BitRate) / 1000
	if g.VideoBitrateKbps == 0 {
		// Matroska and friends only report the container rate.
		if total := parseInt(d.Format.BitRate) / 1000; total > g.AudioBitrateKbps {
			g.VideoBitrateKbps = total - g.AudioBitrateKbps
		}
	}
	return g, nil
}

func parseRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, err1 := strconv.ParseFloat(num, 64)
	dn, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || dn <= 0 {
		return 0
	}
	return n / dn
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func isIOError(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "permission denied") ||
		strings.Contains(s, "no such file") ||
		strings.Contains(s, "input/output error")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
