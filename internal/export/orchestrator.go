// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package export runs a complete adaptive-bitrate export: probe, ladder,
// encoder arguments, pooled encodes and the final manifest.
//
// An export is all-or-nothing. If any representation fails, the remaining
// encodes are cancelled, the export's artifacts are removed and no master
// manifest is published.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/filter"
	"github.com/ManuGH/abrexport/internal/fsutil"
	"github.com/ManuGH/abrexport/internal/hls"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/metrics"
	"github.com/ManuGH/abrexport/internal/pool"
	"github.com/ManuGH/abrexport/internal/telemetry"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Request describes one export. Zero fields fall back to the orchestrator defaults.
type Request struct {
	SourcePath string
	Protocol   abr.Protocol
	OutputDir  string // default: <OutputRoot>/<BaseName>
	BaseName   string // default: source file stem

	SegmentDuration  int
	HLSSegmentType   string
	AllowCache       bool
	Strict           string
	AdditionalParams []string

	Ladder RepresentationBuilder
	Format FormatSelector
}

// Result is a published export.
type Result struct {
	ExportID     string
	Protocol     abr.Protocol
	ManifestPath string
	Manifest     string
	Source       abr.SourceGeometry
	Ladder       abr.Ladder
	Elapsed      time.Duration
}

// Options configures an Orchestrator.
type Options struct {
	OutputRoot string
	Protocol   abr.Protocol // default protocol when a request names none
	// KeepVariantMasters leaves the per-representation HLS masters on disk.
	KeepVariantMasters bool

	// Encode defaults for requests that leave the field unset.
	SegmentDuration  int
	HLSSegmentType   string
	AllowCache       bool
	Strict           string
	AdditionalParams []string
}

// Orchestrator composes a prober, a scheduler and the ladder and format capabilities.
type Orchestrator struct {
	prober  abr.Prober
	pool    Scheduler
	builder RepresentationBuilder
	formats FormatSelector
	opts    Options
	logger  zerolog.Logger
	flight  singleflight.Group
}

// Ensure Orchestrator implements Exporter
var _ Exporter = (*Orchestrator)(nil)

func New(prober abr.Prober, sched Scheduler, builder RepresentationBuilder, formats FormatSelector, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Protocol == "" {
		opts.Protocol = abr.ProtocolHLS
	}
	return &Orchestrator{
		prober:  prober,
		pool:    sched,
		builder: builder,
		formats: formats,
		opts:    opts,
		logger:  logger.With().Str(log.FieldComponent, "export").Logger(),
	}
}

// Export runs the request to completion and returns the published manifest.
// Concurrent calls for the same source, destination, ladder and encode settings
// share one run.
func (o *Orchestrator) Export(ctx context.Context, req Request) (*Result, error) {
	req, err := o.normalize(req)
	if err != nil {
		return nil, &abr.ExportError{Stage: abr.StageFilter, Err: err}
	}

	// The format is resolved once so the run encodes exactly what the key names.
	sel := req.Format.Format()
	key := strings.Join([]string{
		string(req.Protocol), req.SourcePath, req.OutputDir, req.BaseName,
		fmt.Sprintf("%+v", sel), capabilityKey(req.Ladder), encodeKey(req),
	}, "|")
	v, err, shared := o.flight.Do(key, func() (any, error) {
		return o.run(ctx, req, sel)
	})
	if shared {
		o.logger.Debug().Str(log.FieldSourcePath, req.SourcePath).Msg("joined in-flight export")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func encodeKey(req Request) string {
	return fmt.Sprintf("%d/%s/%t/%s/%q", req.SegmentDuration, req.HLSSegmentType, req.AllowCache, req.Strict, req.AdditionalParams)
}

func (o *Orchestrator) normalize(req Request) (Request, error) {
	if req.SourcePath == "" {
		return req, errors.New("missing source path")
	}
	abs, err := filepath.Abs(req.SourcePath)
	if err != nil {
		return req, err
	}
	req.SourcePath = abs
	if req.Protocol == "" {
		req.Protocol = o.opts.Protocol
	}
	if _, err := abr.ParseProtocol(string(req.Protocol)); err != nil {
		return req, err
	}
	if req.BaseName == "" {
		req.BaseName = BaseName(abs)
	}
	if strings.ContainsAny(req.BaseName, `/\`) || req.BaseName == "." || req.BaseName == ".." {
		return req, fmt.Errorf("invalid base name %q", req.BaseName)
	}
	if req.OutputDir == "" {
		if o.opts.OutputRoot == "" {
			return req, errors.New("missing output directory")
		}
		dir, err := fsutil.ConfineRelPath(o.opts.OutputRoot, req.BaseName)
		if err != nil {
			return req, err
		}
		req.OutputDir = dir
	}
	if req.SegmentDuration == 0 {
		req.SegmentDuration = o.opts.SegmentDuration
	}
	if req.HLSSegmentType == "" {
		req.HLSSegmentType = o.opts.HLSSegmentType
	}
	if req.Strict == "" {
		req.Strict = o.opts.Strict
	}
	if req.AdditionalParams == nil {
		req.AdditionalParams = o.opts.AdditionalParams
	}
	req.AllowCache = req.AllowCache || o.opts.AllowCache
	if req.Ladder == nil {
		req.Ladder = o.builder
	}
	if req.Format == nil {
		req.Format = o.formats
	}
	if req.Ladder == nil || req.Format == nil {
		return req, errors.New("no ladder policy or format configured")
	}
	return req, nil
}

// BaseName derives an artifact stem from a source path.
func BaseName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, stem)
	if stem == "" || stem == "." || stem == ".." {
		return "export"
	}
	return stem
}

func (o *Orchestrator) run(ctx context.Context, req Request, sel abr.FormatSelection) (res *Result, err error) {
	id := uuid.NewString()
	ctx = log.ContextWithExportID(ctx, id)
	ctx, span := telemetry.Tracer(telemetry.ScopeExport).Start(ctx, "export.run",
		trace.WithAttributes(telemetry.ExportAttributes(id, req.Protocol, req.SourcePath, sel)...))
	defer span.End()
	logger := log.WithContext(ctx, o.logger).With().
		Str(log.FieldProtocol, string(req.Protocol)).
		Str(log.FieldSourcePath, req.SourcePath).
		Logger()

	start := time.Now()
	defer func() {
		metrics.ObserveExport(string(req.Protocol), err == nil, time.Since(start))
		telemetry.RecordError(span, err)
		var ee *abr.ExportError
		if errors.As(err, &ee) {
			metrics.IncExportFailure(string(ee.Stage))
			span.SetAttributes(attribute.String(telemetry.ExportStageKey, string(ee.Stage)))
			logger.Error().Str(log.FieldEvent, "export.failed").Str("stage", string(ee.Stage)).Err(ee.Err).Msg("export failed")
		}
	}()
	fail := func(stage abr.Stage, err error) (*Result, error) {
		return nil, &abr.ExportError{ExportID: id, Stage: stage, Err: err}
	}

	var g abr.SourceGeometry
	if err := runStage(ctx, abr.StageProbe, func(ctx context.Context) (err error) {
		g, err = o.prober.Probe(ctx, req.SourcePath)
		return err
	}); err != nil {
		return fail(abr.StageProbe, err)
	}
	logger.Info().
		Str(log.FieldEvent, "export.probed").
		Str(log.FieldResolution, fmt.Sprintf("%dx%d", g.Width, g.Height)).
		Str(log.FieldCodec, g.VideoCodec).
		Int(log.FieldBitrateKbps, g.VideoBitrateKbps).
		Float64(log.FieldFPS, g.FrameRate).
		Msg("source probed")

	var l abr.Ladder
	if err := runStage(ctx, abr.StageLadder, func(context.Context) (err error) {
		l, err = req.Ladder.Representations(g)
		if err == nil && len(l) == 0 {
			err = abr.ErrEmptyLadder
		}
		return err
	}); err != nil {
		return fail(abr.StageLadder, err)
	}
	metrics.ObserveLadder(len(l))
	span.SetAttributes(telemetry.LadderAttributes(l)...)
	logger.Info().Str(log.FieldEvent, "export.ladder").Strs(log.FieldRungs, l.Labels()).Msg("ladder computed")

	var invs []filter.Invocation
	if err := runStage(ctx, abr.StageFilter, func(context.Context) (err error) {
		invs, err = o.invocations(req, l, sel)
		if err != nil {
			return err
		}
		return os.MkdirAll(req.OutputDir, 0o755)
	}); err != nil {
		return fail(abr.StageFilter, err)
	}

	if err := runStage(ctx, abr.StageEncode, func(ctx context.Context) error {
		return o.encodeAll(ctx, id, req, sel, invs, logger)
	}); err != nil {
		o.cleanup(req, logger)
		return fail(abr.StageEncode, err)
	}

	var manifestPath, manifest string
	if err := runStage(ctx, abr.StageAssemble, func(context.Context) (err error) {
		manifestPath, manifest, err = o.manifest(req, g, l, invs)
		return err
	}); err != nil {
		o.cleanup(req, logger)
		return fail(abr.StageAssemble, err)
	}

	if err := runStage(ctx, abr.StagePublish, func(context.Context) error {
		return o.publish(req, manifestPath, manifest, invs, logger)
	}); err != nil {
		o.cleanup(req, logger)
		return fail(abr.StagePublish, err)
	}

	res = &Result{
		ExportID:     id,
		Protocol:     req.Protocol,
		ManifestPath: manifestPath,
		Manifest:     manifest,
		Source:       g,
		Ladder:       l,
		Elapsed:      time.Since(start),
	}
	logger.Info().
		Str(log.FieldEvent, "export.published").
		Str(log.FieldPlaylistPath, manifestPath).
		Dur("elapsed", res.Elapsed).
		Msg("export published")
	return res, nil
}

// runStage runs fn inside an "export.<stage>" child span.
func runStage(ctx context.Context, stage abr.Stage, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer(telemetry.ScopeExport).Start(ctx, "export."+string(stage))
	defer span.End()
	err := fn(ctx)
	telemetry.RecordError(span, err)
	return err
}

func (o *Orchestrator) invocations(req Request, l abr.Ladder, sel abr.FormatSelection) ([]filter.Invocation, error) {
	fo := filter.Options{
		SourcePath:       req.SourcePath,
		OutputDir:        req.OutputDir,
		BaseName:         req.BaseName,
		SegmentDuration:  req.SegmentDuration,
		HLSSegmentType:   req.HLSSegmentType,
		AllowCache:       req.AllowCache,
		Strict:           req.Strict,
		AdditionalParams: req.AdditionalParams,
	}
	if req.Protocol == abr.ProtocolDASH {
		inv, err := filter.DASH(l, sel, fo)
		if err != nil {
			return nil, err
		}
		return []filter.Invocation{inv}, nil
	}
	return filter.HLS(l, sel, fo)
}

// manifest returns the master manifest path and text. DASH manifests come
// from the encoder; HLS masters are assembled from the variant masters.
func (o *Orchestrator) manifest(req Request, g abr.SourceGeometry, l abr.Ladder, invs []filter.Invocation) (string, string, error) {
	if req.Protocol == abr.ProtocolDASH {
		path := invs[0].OutputPath
		b, err := os.ReadFile(path)
		if err == nil && len(b) == 0 {
			err = errors.New("encoder wrote an empty manifest")
		}
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", abr.ErrManifestAssembly, err)
		}
		return path, string(b), nil
	}
	text, err := o.assemble(req, g, l, invs)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(req.OutputDir, req.BaseName+".m3u8"), text, nil
}

// publish writes the HLS master. The DASH encoder has already written its manifest.
func (o *Orchestrator) publish(req Request, manifestPath, manifest string, invs []filter.Invocation, logger zerolog.Logger) error {
	if req.Protocol == abr.ProtocolDASH {
		return nil
	}
	if err := renameio.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		return err
	}
	if o.opts.KeepVariantMasters {
		return nil
	}
	for _, inv := range invs {
		if err := os.Remove(inv.VariantMasterPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str(log.FieldPath, inv.VariantMasterPath).Msg("failed to remove variant master")
		}
	}
	return nil
}

// encodeAll submits every invocation and waits for all of them. The first
// failure cancels the rest so no encoder outlives a failed export.
func (o *Orchestrator) encodeAll(
	ctx context.Context,
	id string,
	req Request,
	sel abr.FormatSelection,
	invs []filter.Invocation,
	logger zerolog.Logger,
) error {
	execs := make([]*pool.Execution, 0, len(invs))
	for _, inv := range invs {
		ex, err := o.pool.Submit(ctx, abr.EncodeTask{
			ExportID:        id,
			AdaptationKey:   inv.AdaptationKey,
			Protocol:        req.Protocol,
			Representations: inv.Representations,
			Format:          sel,
			SourcePath:      req.SourcePath,
			OutputPath:      inv.OutputPath,
			Args:            inv.Args,
		})
		if err != nil {
			for _, started := range execs {
				started.Cancel()
				<-started.Done()
			}
			return fmt.Errorf("submit representation %d: %w", inv.AdaptationKey, err)
		}
		execs = append(execs, ex)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range execs {
		g.Go(func() error {
			select {
			case <-ex.Done():
			case <-gctx.Done():
				ex.Cancel()
				<-ex.Done()
			}
			_, err := ex.Wait(context.Background())
			if err != nil && gctx.Err() == nil {
				logger.Error().
					Str(log.FieldEvent, "export.representation_failed").
					Int(log.FieldAdaptationKey, ex.Task.AdaptationKey).
					Str(log.FieldExecutionID, ex.ID).
					Err(err).
					Msg("representation failed")
			}
			return err
		})
	}
	return g.Wait()
}

func (o *Orchestrator) assemble(req Request, g abr.SourceGeometry, l abr.Ladder, invs []filter.Invocation) (string, error) {
	sps := make([]hls.SegmentPlaylist, 0, len(invs))
	for _, inv := range invs {
		rel, err := filepath.Rel(req.OutputDir, inv.VariantMasterPath)
		if err != nil {
			return "", fmt.Errorf("%w: %w", abr.ErrManifestAssembly, err)
		}
		sps = append(sps, hls.SegmentPlaylist{
			AdaptationKey:  inv.AdaptationKey,
			Representation: l[inv.AdaptationKey],
			Name:           filepath.ToSlash(rel),
		})
	}
	// Every rung is encoded at the source frame rate.
	fps := func(abr.Representation) (float64, bool) {
		return g.FrameRate, g.FrameRate > 0
	}
	return hls.Assembler{FS: os.DirFS(req.OutputDir)}.Assemble(sps, fps)
}

// cleanup removes everything the export wrote so a failure publishes nothing.
// Files of other exports sharing the directory are left alone.
func (o *Orchestrator) cleanup(req Request, logger zerolog.Logger) {
	entries, err := os.ReadDir(req.OutputDir)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldOutputPath, req.OutputDir).Msg("cleanup failed")
		return
	}
	owns := filter.ArtifactMatcher(req.BaseName)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !owns(e.Name()) {
			continue
		}
		m := filepath.Join(req.OutputDir, e.Name())
		if err := os.Remove(m); err == nil {
			removed++
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str(log.FieldPath, m).Msg("cleanup failed")
		}
	}
	logger.Debug().Int("removed", removed).Str(log.FieldOutputPath, req.OutputDir).Msg("export artifacts removed")
}
