// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/filter"
	"github.com/rs/zerolog"
)

// EnvOverride records one ABR_* variable found in the environment.
type EnvOverride struct {
	Key   string
	Value string
	// Err is set when the value was rejected; the previous setting is kept.
	Err error
}

type envSetter func(cfg *AppConfig, raw string) error

type envBinding struct {
	key string
	set envSetter
}

// envBindings is every environment override, applied in this order.
var envBindings = []envBinding{
	{"ABR_LOG_LEVEL", setString(func(c *AppConfig) *string { return &c.LogLevel }, checkLevel)},
	{"ABR_LOG_SERVICE", setString(func(c *AppConfig) *string { return &c.LogService }, nil)},

	{"ABR_FFMPEG_BIN", setString(func(c *AppConfig) *string { return &c.FFmpeg.Bin }, nil)},
	{"ABR_FFPROBE_BIN", setString(func(c *AppConfig) *string { return &c.FFmpeg.FFprobeBin }, nil)},
	{"ABR_FFMPEG_KILL_GRACE", setDuration(func(c *AppConfig) *time.Duration { return &c.FFmpeg.KillGrace }, false)},
	{"ABR_FFMPEG_STALL_TIMEOUT", setDuration(func(c *AppConfig) *time.Duration { return &c.FFmpeg.StallTimeout }, true)},
	{"ABR_FFMPEG_STARTUP_GRACE", setDuration(func(c *AppConfig) *time.Duration { return &c.FFmpeg.StartupGrace }, true)},

	{"ABR_POOL_WORKERS", setPositiveInt(func(c *AppConfig) *int { return &c.Pool.Workers })},

	{"ABR_OUTPUT_ROOT", setString(func(c *AppConfig) *string { return &c.Export.OutputRoot }, nil)},
	{"ABR_PROTOCOL", setString(func(c *AppConfig) *string { return &c.Export.Protocol }, checkProtocol)},
	{"ABR_SEGMENT_DURATION", setPositiveInt(func(c *AppConfig) *int { return &c.Export.SegmentDuration })},
	{"ABR_HLS_SEGMENT_TYPE", setString(func(c *AppConfig) *string { return &c.Export.HLSSegmentType }, checkSegmentType)},
	{"ABR_ALLOW_CACHE", setBool(func(c *AppConfig) *bool { return &c.Export.AllowCache })},
	{"ABR_STRICT", setString(func(c *AppConfig) *string { return &c.Export.Strict }, nil)},
	{"ABR_ADDITIONAL_PARAMS", setList(func(c *AppConfig) *[]string { return &c.Export.AdditionalParams })},
	{"ABR_KEEP_VARIANT_MASTERS", setBool(func(c *AppConfig) *bool { return &c.Export.KeepVariantMasters })},

	{"ABR_VIDEO_CODEC", setString(func(c *AppConfig) *string { return &c.Format.VideoCodec }, checkVideoCodec)},
	{"ABR_AUDIO_CODEC", setString(func(c *AppConfig) *string { return &c.Format.AudioCodec }, nil)},
	{"ABR_DEFAULT_INIT", setBool(func(c *AppConfig) *bool { return &c.Format.DefaultInit })},

	{"ABR_INGEST_INBOX", setString(func(c *AppConfig) *string { return &c.Ingest.Inbox }, nil)},
	{"ABR_INGEST_SETTLE", setDuration(func(c *AppConfig) *time.Duration { return &c.Ingest.Settle }, false)},
	{"ABR_INGEST_EXTENSIONS", setList(func(c *AppConfig) *[]string { return &c.Ingest.Extensions })},

	{"ABR_LISTEN_ADDR", setString(func(c *AppConfig) *string { return &c.API.ListenAddr }, nil)},

	{"ABR_TELEMETRY_ENABLED", setBool(func(c *AppConfig) *bool { return &c.Telemetry.Enabled })},
	{"ABR_TELEMETRY_EXPORTER", setString(func(c *AppConfig) *string { return &c.Telemetry.Exporter }, checkExporter)},
	{"ABR_TELEMETRY_ENDPOINT", setString(func(c *AppConfig) *string { return &c.Telemetry.Endpoint }, nil)},
	{"ABR_TELEMETRY_SAMPLING_RATE", setRatio(func(c *AppConfig) *float64 { return &c.Telemetry.SamplingRate })},
}

// EnvKeys lists the recognised environment variables.
func EnvKeys() []string {
	keys := make([]string, len(envBindings))
	for i, b := range envBindings {
		keys[i] = b.key
	}
	return keys
}

// applyEnv applies every override that is set and non-empty.
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool), logger zerolog.Logger) []EnvOverride {
	var seen []EnvOverride
	for _, b := range envBindings {
		raw, ok := lookup(b.key)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			continue
		}
		o := EnvOverride{Key: b.key, Value: raw}
		if err := b.set(cfg, raw); err != nil {
			o.Err = err
			logger.Warn().
				Str("key", b.key).
				Str("value", raw).
				Err(err).
				Msg("invalid environment variable, keeping previous value")
		} else {
			logger.Debug().
				Str("key", b.key).
				Str("value", raw).
				Str("source", "environment").
				Msg("using environment variable")
		}
		seen = append(seen, o)
	}
	return seen
}

func setString(field func(*AppConfig) *string, check func(string) error) envSetter {
	return func(cfg *AppConfig, raw string) error {
		if check != nil {
			if err := check(raw); err != nil {
				return err
			}
		}
		*field(cfg) = raw
		return nil
	}
}

func setPositiveInt(field func(*AppConfig) *int) envSetter {
	return func(cfg *AppConfig, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("not an integer: %q", raw)
		}
		if n < 1 {
			return fmt.Errorf("must be at least 1 (got %d)", n)
		}
		*field(cfg) = n
		return nil
	}
}

func setDuration(field func(*AppConfig) *time.Duration, allowZero bool) envSetter {
	return func(cfg *AppConfig, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		if d < 0 || (d == 0 && !allowZero) {
			return fmt.Errorf("must be positive (got %s)", d)
		}
		*field(cfg) = d
		return nil
	}
}

func setBool(field func(*AppConfig) *bool) envSetter {
	return func(cfg *AppConfig, raw string) error {
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			*field(cfg) = true
		case "false", "0", "no", "off":
			*field(cfg) = false
		default:
			return fmt.Errorf("not a boolean: %q", raw)
		}
		return nil
	}
}

func setRatio(field func(*AppConfig) *float64) envSetter {
	return func(cfg *AppConfig, raw string) error {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", raw)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("must be between 0 and 1 (got %g)", f)
		}
		*field(cfg) = f
		return nil
	}
}

// setList splits on commas and drops empty items.
func setList(field func(*AppConfig) *[]string) envSetter {
	return func(cfg *AppConfig, raw string) error {
		var out []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(cfg) = out
		return nil
	}
}

func checkLevel(s string) error {
	_, err := zerolog.ParseLevel(s)
	return err
}

func checkProtocol(s string) error {
	_, err := abr.ParseProtocol(s)
	return err
}

func checkVideoCodec(s string) error {
	_, err := abr.ParseVideoCodec(s)
	return err
}

func checkSegmentType(s string) error {
	if s != filter.SegmentTypeMPEGTS && s != filter.SegmentTypeFMP4 {
		return fmt.Errorf("must be %s or %s", filter.SegmentTypeMPEGTS, filter.SegmentTypeFMP4)
	}
	return nil
}

func checkExporter(s string) error {
	switch s {
	case ExporterGRPC, ExporterHTTP:
		return nil
	}
	return errors.New("must be grpc or http")
}
