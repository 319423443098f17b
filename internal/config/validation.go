// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/filter"
	"github.com/rs/zerolog"
)

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the whole configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		add("logLevel", "unknown level %q", cfg.LogLevel)
	}

	if cfg.FFmpeg.Bin == "" {
		add("ffmpeg.bin", "must not be empty")
	}
	if cfg.FFmpeg.KillGrace <= 0 {
		add("ffmpeg.killGrace", "must be positive")
	}
	if cfg.FFmpeg.StallTimeout < 0 {
		add("ffmpeg.stallTimeout", "must not be negative")
	}
	if cfg.FFmpeg.StartupGrace < 0 {
		add("ffmpeg.startupGrace", "must not be negative")
	}

	if cfg.Pool.Workers < 1 {
		add("pool.workers", "must be at least 1 (got %d)", cfg.Pool.Workers)
	}

	if cfg.Export.OutputRoot == "" {
		add("export.outputRoot", "must not be empty")
	}
	if _, err := abr.ParseProtocol(cfg.Export.Protocol); err != nil {
		add("export.protocol", "%v", err)
	}
	if cfg.Export.SegmentDuration < 1 {
		add("export.segmentDuration", "must be at least 1 second")
	}
	switch cfg.Export.HLSSegmentType {
	case filter.SegmentTypeMPEGTS, filter.SegmentTypeFMP4:
	default:
		add("export.hlsSegmentType", "must be %s or %s", filter.SegmentTypeMPEGTS, filter.SegmentTypeFMP4)
	}

	if _, err := abr.ParseVideoCodec(cfg.Format.VideoCodec); err != nil {
		add("format.videoCodec", "%v", err)
	}
	for i, p := range cfg.Format.ExtraParams {
		if p.Key == "" {
			add(fmt.Sprintf("format.extraParams[%d]", i), "key must not be empty")
		}
	}

	if len(cfg.Ladder.Rungs) > 0 {
		if err := cfg.Ladder.Rungs.Validate(); err != nil {
			add("ladder.rungs", "%v", err)
		}
	}

	if cfg.Ingest.Inbox != "" && cfg.Ingest.Settle <= 0 {
		add("ingest.settle", "must be positive when an inbox is configured")
	}

	if cfg.Telemetry.Enabled {
		if err := checkExporter(cfg.Telemetry.Exporter); err != nil {
			add("telemetry.exporter", "%v", err)
		}
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint", "must not be empty when telemetry is enabled")
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate", "must be between 0 and 1")
	}

	return errors.Join(errs...)
}
