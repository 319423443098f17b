// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/abrexport/internal/api"
	"github.com/ManuGH/abrexport/internal/config"
	"github.com/ManuGH/abrexport/internal/ingest"
	xglog "github.com/ManuGH/abrexport/internal/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	httpShutdownTimeout = 10 * time.Second
	poolDrainTimeout    = 30 * time.Second
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watch folder and the metrics/health endpoint",
		Long: `Runs until SIGINT or SIGTERM. Files settling in ingest.inbox are exported
automatically. The config file is watched and reloaded; ladder, format and
log level changes apply to the next export, pool and listener changes need
a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := root.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), loader, cfg)
		},
	}
}

func serve(ctx context.Context, loader *config.Loader, cfg config.AppConfig) (err error) {
	logger := xglog.WithComponent("daemon")
	defer startTracing(ctx, cfg)()

	holder := config.NewConfigHolder(cfg, loader)
	stack := newExportStack(cfg, holder)
	defer stack.close(poolDrainTimeout)

	srv := api.New(cfg.Version, stack.pool)
	srv.SetConfigHolder(holder)
	httpSrv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var inbox *ingest.Watcher
	if cfg.Ingest.Inbox != "" {
		inbox, err = ingest.New(ingest.Options{
			Inbox:      cfg.Ingest.Inbox,
			Settle:     cfg.Ingest.Settle,
			Extensions: cfg.Ingest.Extensions,
		}, stack.exporter, xglog.WithComponent("ingest"))
		if err != nil {
			return err
		}
	} else {
		logger.Info().Msg("no ingest inbox configured, watch folder disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := holder.StartWatcher(gctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, reload via API only")
	}
	defer holder.Stop()

	updates := make(chan config.AppConfig, 1)
	holder.RegisterListener(updates)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-updates:
				configureLogging(next)
			}
		}
	})

	g.Go(func() error {
		logger.Info().
			Str(xglog.FieldEvent, "api.listen").
			Str("addr", httpSrv.Addr).
			Int("workers", stack.pool.Limit()).
			Msg("serving health and metrics")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if inbox != nil {
		g.Go(func() error { return inbox.Run(gctx) })
	}

	err = g.Wait()
	logger.Info().Str(xglog.FieldEvent, "daemon.stopping").Msg("shutting down, draining encoders")
	return err
}
