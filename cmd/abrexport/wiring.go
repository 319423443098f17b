// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"time"

	"github.com/ManuGH/abrexport/internal/config"
	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/export"
	"github.com/ManuGH/abrexport/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/pool"
	"github.com/ManuGH/abrexport/internal/telemetry"
)

// exportStack is the prober, encoder pool and orchestrator of one configuration.
type exportStack struct {
	prober   *ffmpeg.Prober
	executor *ffmpeg.Executor
	pool     *pool.Pool
	exporter *export.Orchestrator
}

// settings supplies the ladder policy and format per export.
type settings interface {
	Get() config.AppConfig
}

type staticSettings config.AppConfig

func (s staticSettings) Get() config.AppConfig { return config.AppConfig(s) }

// liveCapabilities reads ladder and format from the current configuration on
// every export, so reloads apply to the next export without a restart.
type liveCapabilities struct {
	src settings
}

func (c liveCapabilities) Representations(g abr.SourceGeometry) (abr.Ladder, error) {
	return export.PolicyBuilder{Policy: c.src.Get().Policy()}.Representations(g)
}

// Key names the current ladder policy for export deduplication.
func (c liveCapabilities) Key() string {
	return export.PolicyBuilder{Policy: c.src.Get().Policy()}.Key()
}

func (c liveCapabilities) Format() abr.FormatSelection {
	sel, err := c.src.Get().FormatSelection()
	if err != nil {
		// Validated on load.
		logger := xglog.WithComponent("cli")
		logger.Warn().Err(err).Msg("invalid format selection, using h264")
		sel.VideoCodec = abr.CodecH264
	}
	return sel
}

func newProber(cfg config.AppConfig) *ffmpeg.Prober {
	return ffmpeg.NewProber(cfg.FFmpeg.FFprobeBin, xglog.WithComponent("ffprobe"))
}

func newExecutor(cfg config.AppConfig) *ffmpeg.Executor {
	e := ffmpeg.NewExecutor(cfg.FFmpeg.Bin, xglog.WithComponent("ffmpeg"))
	e.KillGrace = cfg.FFmpeg.KillGrace
	e.Watch.StallTimeout = cfg.FFmpeg.StallTimeout
	e.Watch.StartupGrace = cfg.FFmpeg.StartupGrace
	return e
}

func newExportStack(cfg config.AppConfig, src settings) *exportStack {
	rt := &exportStack{
		prober:   newProber(cfg),
		executor: newExecutor(cfg),
	}
	rt.pool = pool.New(cfg.Pool.Workers, rt.executor, xglog.WithComponent("pool"))

	caps := liveCapabilities{src: src}
	rt.exporter = export.New(rt.prober, rt.pool, caps, caps, export.Options{
		OutputRoot:         cfg.Export.OutputRoot,
		Protocol:           cfg.ExportProtocol(),
		KeepVariantMasters: cfg.Export.KeepVariantMasters,
		SegmentDuration:    cfg.Export.SegmentDuration,
		HLSSegmentType:     cfg.Export.HLSSegmentType,
		AllowCache:         cfg.Export.AllowCache,
		Strict:             cfg.Export.Strict,
		AdditionalParams:   cfg.Export.AdditionalParams,
	}, xglog.WithComponent("export"))
	return rt
}

// close drains the pool, killing whatever is still running after grace.
func (rt *exportStack) close(grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := rt.pool.Shutdown(ctx); err != nil {
		logger := xglog.WithComponent("cli")
		logger.Warn().Err(err).Msg("pool did not drain in time, killing encoders")
		rt.pool.Kill()
	}
}

// startTracing installs the tracer provider. The returned func flushes spans.
// A provider that cannot start is logged and tracing stays off.
func startTracing(ctx context.Context, cfg config.AppConfig) func() {
	logger := xglog.WithComponent("cli")
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("tracing unavailable")
		return func() {}
	}
	if cfg.Telemetry.Enabled {
		logger.Info().
			Str("exporter", cfg.Telemetry.Exporter).
			Str("endpoint", cfg.Telemetry.Endpoint).
			Float64("sampling_rate", cfg.Telemetry.SamplingRate).
			Msg("tracing enabled")
	}
	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}
}
