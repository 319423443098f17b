// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestApplyEnv_ValidValues(t *testing.T) {
	cfg := Defaults()
	seen := applyEnv(&cfg, envMap(map[string]string{
		"ABR_LOG_LEVEL":               "debug",
		"ABR_FFMPEG_STALL_TIMEOUT":    "0s",
		"ABR_INGEST_SETTLE":           "1m30s",
		"ABR_POOL_WORKERS":            " 6 ",
		"ABR_PROTOCOL":                "dash",
		"ABR_VIDEO_CODEC":             "x265",
		"ABR_HLS_SEGMENT_TYPE":        "fmp4",
		"ABR_ALLOW_CACHE":             "Yes",
		"ABR_DEFAULT_INIT":            "off",
		"ABR_INGEST_EXTENSIONS":       " .mkv, ,.mp4 ",
		"ABR_TELEMETRY_ENABLED":       "1",
		"ABR_TELEMETRY_EXPORTER":      "http",
		"ABR_TELEMETRY_SAMPLING_RATE": "0.25",
	}), zerolog.Nop())

	assert.Len(t, seen, 13)
	for _, o := range seen {
		assert.NoError(t, o.Err, o.Key)
	}
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Duration(0), cfg.FFmpeg.StallTimeout)
	assert.Equal(t, 90*time.Second, cfg.Ingest.Settle)
	assert.Equal(t, 6, cfg.Pool.Workers)
	assert.Equal(t, "dash", cfg.Export.Protocol)
	assert.Equal(t, "x265", cfg.Format.VideoCodec)
	assert.Equal(t, "fmp4", cfg.Export.HLSSegmentType)
	assert.True(t, cfg.Export.AllowCache)
	assert.False(t, cfg.Format.DefaultInit)
	assert.Equal(t, []string{".mkv", ".mp4"}, cfg.Ingest.Extensions)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, ExporterHTTP, cfg.Telemetry.Exporter)
	assert.InDelta(t, 0.25, cfg.Telemetry.SamplingRate, 1e-9)
}

func TestApplyEnv_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(t *testing.T, cfg AppConfig)
	}{
		{"ABR_LOG_LEVEL", "loud", func(t *testing.T, c AppConfig) { assert.Equal(t, "info", c.LogLevel) }},
		{"ABR_POOL_WORKERS", "0", func(t *testing.T, c AppConfig) { assert.Equal(t, DefaultWorkers(), c.Pool.Workers) }},
		{"ABR_POOL_WORKERS", "many", func(t *testing.T, c AppConfig) { assert.Equal(t, DefaultWorkers(), c.Pool.Workers) }},
		{"ABR_SEGMENT_DURATION", "-2", func(t *testing.T, c AppConfig) { assert.Positive(t, c.Export.SegmentDuration) }},
		{"ABR_PROTOCOL", "smooth", func(t *testing.T, c AppConfig) { assert.Equal(t, "hls", c.Export.Protocol) }},
		{"ABR_VIDEO_CODEC", "mpeg2", func(t *testing.T, c AppConfig) { assert.Equal(t, "h264", c.Format.VideoCodec) }},
		{"ABR_HLS_SEGMENT_TYPE", "cmaf", func(t *testing.T, c AppConfig) { assert.Equal(t, "mpegts", c.Export.HLSSegmentType) }},
		{"ABR_FFMPEG_KILL_GRACE", "0s", func(t *testing.T, c AppConfig) { assert.Equal(t, 5*time.Second, c.FFmpeg.KillGrace) }},
		{"ABR_INGEST_SETTLE", "soon", func(t *testing.T, c AppConfig) { assert.Equal(t, 5*time.Second, c.Ingest.Settle) }},
		{"ABR_ALLOW_CACHE", "perhaps", func(t *testing.T, c AppConfig) { assert.False(t, c.Export.AllowCache) }},
		{"ABR_TELEMETRY_EXPORTER", "zipkin", func(t *testing.T, c AppConfig) { assert.Equal(t, ExporterGRPC, c.Telemetry.Exporter) }},
		{"ABR_TELEMETRY_SAMPLING_RATE", "1.5", func(t *testing.T, c AppConfig) { assert.InDelta(t, 1.0, c.Telemetry.SamplingRate, 1e-9) }},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := Defaults()
			seen := applyEnv(&cfg, envMap(map[string]string{tt.key: tt.value}), zerolog.Nop())
			require.Len(t, seen, 1)
			assert.Equal(t, tt.key, seen[0].Key)
			assert.Error(t, seen[0].Err)
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnv_IgnoresUnsetAndEmpty(t *testing.T) {
	cfg := Defaults()
	seen := applyEnv(&cfg, envMap(map[string]string{"ABR_OUTPUT_ROOT": "  ", "ABR_UNKNOWN": "x"}), zerolog.Nop())
	assert.Empty(t, seen)
	assert.Equal(t, Defaults().Export.OutputRoot, cfg.Export.OutputRoot)
}

func TestEnvKeys_UniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for _, key := range EnvKeys() {
		assert.True(t, strings.HasPrefix(key, "ABR_"), key)
		assert.False(t, seen[key], "duplicate binding %s", key)
		seen[key] = true
	}
}
