// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the application configuration.
//
// Precedence is ENV > file > defaults. The YAML file is parsed strictly:
// unknown keys and trailing documents are errors.
package config

import (
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/ladder"
)

// AppConfig is the resolved configuration.
type AppConfig struct {
	Version    string `yaml:"-"`
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
	Pool   PoolConfig   `yaml:"pool"`
	Export ExportConfig `yaml:"export"`
	Format FormatConfig `yaml:"format"`
	Ladder LadderConfig `yaml:"ladder"`
	Ingest IngestConfig `yaml:"ingest"`
	API    APIConfig    `yaml:"api"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type FFmpegConfig struct {
	Bin          string        `yaml:"bin"`
	FFprobeBin   string        `yaml:"ffprobeBin"`
	KillGrace    time.Duration `yaml:"killGrace"`
	StallTimeout time.Duration `yaml:"stallTimeout"` // 0 disables the watchdog
	StartupGrace time.Duration `yaml:"startupGrace"`
}

type PoolConfig struct {
	// Workers is the number of concurrent encoder slots. Changes need a restart.
	Workers int `yaml:"workers"`
}

type ExportConfig struct {
	OutputRoot         string   `yaml:"outputRoot"`
	Protocol           string   `yaml:"protocol"`
	SegmentDuration    int      `yaml:"segmentDuration"`
	HLSSegmentType     string   `yaml:"hlsSegmentType"`
	AllowCache         bool     `yaml:"allowCache"`
	Strict             string   `yaml:"strict"`
	AdditionalParams   []string `yaml:"additionalParams"`
	KeepVariantMasters bool     `yaml:"keepVariantMasters"`
}

type FormatConfig struct {
	VideoCodec  string      `yaml:"videoCodec"`
	AudioCodec  string      `yaml:"audioCodec"`
	DefaultInit bool        `yaml:"defaultInit"`
	ExtraParams []abr.Param `yaml:"extraParams"`
}

type LadderConfig struct {
	// Rungs replaces the built-in policy when non-empty.
	Rungs ladder.Policy `yaml:"rungs"`
}

type IngestConfig struct {
	Inbox      string        `yaml:"inbox"` // empty disables the watch folder
	Settle     time.Duration `yaml:"settle"`
	Extensions []string      `yaml:"extensions"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// Trace exporters.
const (
	ExporterGRPC = "grpc"
	ExporterHTTP = "http"
)

// TelemetryConfig controls OpenTelemetry tracing. Disabled installs a noop provider.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Policy returns the configured ladder policy or the built-in one.
func (c AppConfig) Policy() ladder.Policy {
	if len(c.Ladder.Rungs) > 0 {
		return c.Ladder.Rungs
	}
	return ladder.DefaultPolicy()
}

// FormatSelection converts the format section into the encode profile.
func (c AppConfig) FormatSelection() (abr.FormatSelection, error) {
	codec, err := abr.ParseVideoCodec(c.Format.VideoCodec)
	if err != nil {
		return abr.FormatSelection{}, err
	}
	return abr.FormatSelection{
		VideoCodec:  codec,
		AudioCodec:  c.Format.AudioCodec,
		DefaultInit: c.Format.DefaultInit,
		ExtraParams: append([]abr.Param(nil), c.Format.ExtraParams...),
	}, nil
}

// ExportProtocol returns the default protocol, falling back to HLS.
func (c AppConfig) ExportProtocol() abr.Protocol {
	p, err := abr.ParseProtocol(c.Export.Protocol)
	if err != nil {
		return abr.ProtocolHLS
	}
	return p
}
