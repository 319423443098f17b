// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ManuGH/abrexport/internal/filter"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/shirou/gopsutil/v4/cpu"
)

// DefaultExtensions are the source containers the watch folder picks up.
var DefaultExtensions = []string{".mp4", ".mkv", ".mov", ".m4v", ".ts", ".m2ts", ".avi", ".webm"}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "abrexport",
		FFmpeg: FFmpegConfig{
			Bin:          "ffmpeg",
			KillGrace:    5 * time.Second,
			StallTimeout: 5 * time.Minute,
			StartupGrace: 30 * time.Second,
		},
		Pool: PoolConfig{Workers: DefaultWorkers()},
		Export: ExportConfig{
			OutputRoot:      "exports",
			Protocol:        "hls",
			SegmentDuration: filter.DefaultSegmentDuration,
			HLSSegmentType:  filter.SegmentTypeMPEGTS,
		},
		Format: FormatConfig{
			VideoCodec:  "h264",
			AudioCodec:  "aac",
			DefaultInit: true,
		},
		Ingest: IngestConfig{
			Settle:     5 * time.Second,
			Extensions: append([]string(nil), DefaultExtensions...),
		},
		API: APIConfig{ListenAddr: ":8089"},
		Telemetry: TelemetryConfig{
			Exporter:     ExporterGRPC,
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// DefaultWorkers is half the physical cores, at least one.
func DefaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		logger := log.WithComponent("config")
		logger.Debug().Err(err).Msg("physical core count unavailable, using logical CPUs")
		n = runtime.NumCPU()
	}
	return max(1, n/2)
}

// ResolveFFprobeBin derives the ffprobe path from the ffmpeg path when unset.
func ResolveFFprobeBin(ffprobeBin, ffmpegBin string) string {
	if ffprobeBin != "" {
		return ffprobeBin
	}
	if strings.ContainsRune(ffmpegBin, filepath.Separator) {
		name := "ffprobe"
		if strings.HasSuffix(ffmpegBin, ".exe") {
			name += ".exe"
		}
		return filepath.Join(filepath.Dir(ffmpegBin), name)
	}
	return "ffprobe"
}
