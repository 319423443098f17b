// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Progress is one block of `-progress pipe:1` output.
type Progress struct {
	Frame     int
	FPS       float64
	OutTimeUs int64
	TotalSize int64
	Speed     string
	End       bool
}

func (p Progress) hasAdvanced(prev Progress) bool {
	return p.OutTimeUs > prev.OutTimeUs || p.TotalSize > prev.TotalSize || p.Frame > prev.Frame
}

// WatchConfig controls stall detection.
type WatchConfig struct {
	// StartupGrace suppresses stall checks right after spawn (input probing, first GOP).
	StartupGrace time.Duration
	// StallTimeout kills the encoder when no progress was reported for this long.
	// Zero disables the watchdog.
	StallTimeout time.Duration
	Tick         time.Duration
}

// DefaultWatchConfig is tuned for file-to-file encodes.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		StartupGrace: 30 * time.Second,
		StallTimeout: 5 * time.Minute,
		Tick:         5 * time.Second,
	}
}

// parseProgress reads key=value lines from r and offers each completed block to ch.
// Sends never block: a slow reader loses intermediate blocks, not the process.
func parseProgress(r io.Reader, ch chan<- Progress) {
	defer close(ch)
	scanner := bufio.NewScanner(r)
	var current Progress

	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "frame":
			if v, err := strconv.Atoi(val); err == nil {
				current.Frame = v
			}
		case "fps":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				current.FPS = v
			}
		case "out_time_us", "out_time_ms": // out_time_ms is microseconds too
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.OutTimeUs = v
			}
		case "total_size":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.TotalSize = v
			}
		case "speed":
			current.Speed = val
		case "progress":
			current.End = val == "end"
			select {
			case ch <- current:
			default:
			}
		}
	}
	// Keep draining so the writer never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
