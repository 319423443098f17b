// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ingest exports media files dropped into an inbox directory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/abrexport/internal/export"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Options configures a Watcher.
type Options struct {
	Inbox string
	// Settle is how long a file must go without writes before it is exported.
	Settle     time.Duration
	Extensions []string
}

type candidate struct {
	lastEvent time.Time
	size      int64
}

// Watcher picks up settled media files from the inbox and hands them to an exporter.
// Each file is exported at most once per watcher lifetime.
type Watcher struct {
	opts     Options
	exts     map[string]struct{}
	exporter export.Exporter
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]candidate
	seen    map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a watcher. Extensions are matched case-insensitively.
func New(opts Options, exporter export.Exporter, logger zerolog.Logger) (*Watcher, error) {
	if opts.Inbox == "" {
		return nil, errors.New("ingest: inbox must not be empty")
	}
	if opts.Settle <= 0 {
		return nil, errors.New("ingest: settle must be positive")
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Watcher{
		opts:     opts,
		exts:     exts,
		exporter: exporter,
		logger:   logger.With().Str(log.FieldComponent, "ingest").Logger(),
		now:      time.Now,
		pending:  make(map[string]candidate),
		seen:     make(map[string]struct{}),
	}, nil
}

// Run watches the inbox until ctx is done, then waits for in-flight exports.
// Files already present when Run starts are treated as new arrivals.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.Inbox, 0o750); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err := watcher.Add(w.opts.Inbox); err != nil {
		return fmt.Errorf("watch inbox %s: %w", w.opts.Inbox, err)
	}

	// Scan after adding the watch so nothing written in between is missed.
	w.scan()

	w.logger.Info().
		Str(log.FieldEvent, "ingest.started").
		Str(log.FieldPath, w.opts.Inbox).
		Dur("settle", w.opts.Settle).
		Msg("watching inbox")

	ticker := time.NewTicker(max(w.opts.Settle/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info().Str(log.FieldEvent, "ingest.stopped").Msg("inbox watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.touch(event.Name)
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.forget(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")

		case <-ticker.C:
			for _, path := range w.settled() {
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					w.export(ctx, path)
				}()
			}
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.opts.Inbox)
	if err != nil {
		w.logger.Warn().Err(err).Msg("inbox scan failed")
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.touch(filepath.Join(w.opts.Inbox, e.Name()))
		}
	}
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (w *Watcher) touch(path string) {
	if !w.accepts(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.seen[path]; done {
		return
	}
	w.pending[path] = candidate{lastEvent: w.now(), size: info.Size()}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// settled removes and returns the pending files that stopped changing.
func (w *Watcher) settled() []string {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, c := range w.pending {
		if now.Sub(c.lastEvent) < w.opts.Settle {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != c.size || info.Size() == 0 {
			// Still growing without events (e.g. network mounts), restart the window.
			w.pending[path] = candidate{lastEvent: now, size: info.Size()}
			continue
		}
		delete(w.pending, path)
		w.seen[path] = struct{}{}
		ready = append(ready, path)
	}
	return ready
}

func (w *Watcher) export(ctx context.Context, path string) {
	logger := w.logger.With().Str(log.FieldSourcePath, path).Logger()
	logger.Info().Str(log.FieldEvent, "ingest.export_start").Msg("exporting inbox file")

	res, err := w.exporter.Export(ctx, export.Request{SourcePath: path})
	if err != nil {
		result := "failed"
		if ctx.Err() != nil {
			result = "cancelled"
		}
		metrics.IncIngest(result)
		logger.Error().Err(err).Str(log.FieldEvent, "ingest.export_failed").Msg("inbox export failed")
		return
	}

	metrics.IncIngest("exported")
	logger.Info().
		Str(log.FieldEvent, "ingest.export_done").
		Str(log.FieldExportID, res.ExportID).
		Str(log.FieldPlaylistPath, res.ManifestPath).
		Dur("elapsed", res.Elapsed).
		Msg("inbox file exported")
}
