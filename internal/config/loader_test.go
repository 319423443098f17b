// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/ladder"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "ffmpeg", cfg.FFmpeg.Bin)
	assert.Equal(t, "ffprobe", cfg.FFmpeg.FFprobeBin)
	assert.GreaterOrEqual(t, cfg.Pool.Workers, 1)
	assert.True(t, filepath.IsAbs(cfg.Export.OutputRoot))
	assert.Equal(t, abr.ProtocolHLS, cfg.ExportProtocol())
	assert.Equal(t, ladder.DefaultPolicy(), cfg.Policy())
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, ExporterGRPC, cfg.Telemetry.Exporter)

	sel, err := cfg.FormatSelection()
	require.NoError(t, err)
	assert.Equal(t, abr.FormatSelection{VideoCodec: abr.CodecH264, AudioCodec: "aac", DefaultInit: true}, sel)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
ffmpeg:
  bin: /opt/ffmpeg/bin/ffmpeg
  stallTimeout: 90s
pool:
  workers: 3
export:
  outputRoot: /srv/exports
  protocol: dash
  segmentDuration: 4
format:
  videoCodec: hevc
  extraParams:
    - key: preset
      value: slow
ladder:
  rungs:
    - {width: 1280, height: 720, videoKbps: 3000}
    - {width: 1920, height: 1080, videoKbps: 6000, audioKbps: 192}
ingest:
  inbox: /srv/inbox
  extensions: [MKV, .mp4]
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/opt/ffmpeg/bin/ffprobe", cfg.FFmpeg.FFprobeBin)
	assert.Equal(t, 90*time.Second, cfg.FFmpeg.StallTimeout)
	assert.Equal(t, 5*time.Second, cfg.FFmpeg.KillGrace, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Pool.Workers)
	assert.Equal(t, abr.ProtocolDASH, cfg.ExportProtocol())
	assert.Equal(t, 4, cfg.Export.SegmentDuration)
	assert.Equal(t, []string{".mkv", ".mp4"}, cfg.Ingest.Extensions)

	want := ladder.Policy{
		{Width: 1280, Height: 720, VideoKbps: 3000},
		{Width: 1920, Height: 1080, VideoKbps: 6000, AudioKbps: 192},
	}
	if diff := cmp.Diff(want, cfg.Policy()); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}

	sel, err := cfg.FormatSelection()
	require.NoError(t, err)
	assert.Equal(t, abr.CodecHEVC, sel.VideoCodec)
	assert.Equal(t, []abr.Param{{Key: "preset", Value: "slow"}}, sel.ExtraParams)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "pool:\n  workers: 3\nexport:\n  protocol: dash\n")
	t.Setenv("ABR_POOL_WORKERS", "7")
	t.Setenv("ABR_PROTOCOL", "hls")
	t.Setenv("ABR_ADDITIONAL_PARAMS", "-movflags, +faststart")
	t.Setenv("ABR_ALLOW_CACHE", "yes")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pool.Workers)
	assert.Equal(t, abr.ProtocolHLS, cfg.ExportProtocol())
	assert.Equal(t, []string{"-movflags", "+faststart"}, cfg.Export.AdditionalParams)
	assert.True(t, cfg.Export.AllowCache)
	var keys []string
	for _, o := range l.Overrides {
		require.NoError(t, o.Err)
		keys = append(keys, o.Key)
	}
	assert.ElementsMatch(t, []string{"ABR_POOL_WORKERS", "ABR_PROTOCOL", "ABR_ADDITIONAL_PARAMS", "ABR_ALLOW_CACHE"}, keys)
}

func TestLoad_InvalidEnvFallsBackToFileValue(t *testing.T) {
	path := writeConfig(t, "pool:\n  workers: 3\n")
	t.Setenv("ABR_POOL_WORKERS", "many")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pool.Workers)
	require.Len(t, l.Overrides, 1)
	assert.Error(t, l.Overrides[0].Err)
}

func TestLoad_StrictParsing(t *testing.T) {
	tests := []struct {
		name string
		body string
		ext  string
	}{
		{name: "unknown key", body: "pool:\n  slots: 3\n", ext: ".yaml"},
		{name: "multiple documents", body: "logLevel: info\n---\nlogLevel: debug\n", ext: ".yaml"},
		{name: "wrong extension", body: "{}", ext: ".json"},
		{name: "bad duration", body: "ffmpeg:\n  killGrace: soon\n", ext: ".yml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "config"+tt.ext)
			require.NoError(t, os.WriteFile(p, []byte(tt.body), 0o600))
			_, err := NewLoader(p, "").Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, ""), "").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), "").Load()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveFFprobeBin(t *testing.T) {
	assert.Equal(t, "/usr/bin/custom-probe", ResolveFFprobeBin("/usr/bin/custom-probe", "/opt/ffmpeg"))
	assert.Equal(t, "ffprobe", ResolveFFprobeBin("", "ffmpeg"))
	assert.Equal(t, filepath.Join("/opt/bin", "ffprobe"), ResolveFFprobeBin("", "/opt/bin/ffmpeg"))
}

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
}
