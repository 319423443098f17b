// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command abrexport encodes a media file into an HLS or DASH bitrate ladder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/abrexport/internal/config"
	xglog "github.com/ManuGH/abrexport/internal/log"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "abrexport",
		Short:         "Adaptive-bitrate HLS/DASH export",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newExportCmd(opts),
		newProbeCmd(opts),
		newLadderCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// load reads the configuration and configures logging from it.
// Logs go to stderr so command output on stdout stays machine readable.
func (o *rootOptions) load() (*config.Loader, config.AppConfig, error) {
	xglog.Configure(xglog.Config{Level: "info", Service: "abrexport", Version: version, Output: os.Stderr})

	loader := config.NewLoader(o.configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, cfg, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	configureLogging(cfg)

	logger := xglog.WithComponent("cli")
	if o.configPath != "" {
		logger.Debug().
			Str(xglog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(xglog.FieldPath, o.configPath).
			Msg("loaded configuration from file")
	} else {
		logger.Debug().
			Str(xglog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}
	return loader, cfg, nil
}

func configureLogging(cfg config.AppConfig) {
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
		Output:  os.Stderr,
	})
}
