// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/abrexport/internal/config"
	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/export"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	protocol        string
	outputDir       string
	name            string
	segmentDuration int
	workers         int
	jsonOutput      bool
}

func newExportCmd(root *rootOptions) *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Encode a source into an HLS or DASH ladder",
		Long: `Probes the source, derives the bitrate ladder, encodes every representation
on the worker pool and publishes the master manifest. Nothing is published
if any representation fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := root.load()
			if err != nil {
				return err
			}
			if f.workers > 0 {
				cfg.Pool.Workers = f.workers
			}

			req, err := f.request(args[0])
			if err != nil {
				return err
			}

			defer startTracing(cmd.Context(), cfg)()
			stack := newExportStack(cfg, staticSettings(cfg))
			defer stack.close(cfg.FFmpeg.KillGrace * 2)

			res, err := stack.exporter.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd, res, f.jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&f.protocol, "protocol", "p", "", "hls or dash (default from config)")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "", "output directory (default <outputRoot>/<name>)")
	cmd.Flags().StringVar(&f.name, "name", "", "artifact base name (default source file stem)")
	cmd.Flags().IntVar(&f.segmentDuration, "segment-duration", 0, "segment length in seconds (default from config)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "concurrent encoders (default from config)")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "print the result as JSON")
	return cmd
}

func (f *exportFlags) request(src string) (export.Request, error) {
	req := export.Request{
		SourcePath:      src,
		OutputDir:       f.outputDir,
		BaseName:        f.name,
		SegmentDuration: f.segmentDuration,
	}
	if f.protocol != "" {
		p, err := abr.ParseProtocol(f.protocol)
		if err != nil {
			return req, err
		}
		req.Protocol = p
	}
	if f.segmentDuration < 0 {
		return req, &config.ValidationError{Field: "segment-duration", Message: "must not be negative"}
	}
	return req, nil
}

type resultView struct {
	ExportID       string   `json:"export_id"`
	Protocol       string   `json:"protocol"`
	Manifest       string   `json:"manifest"`
	Representation []string `json:"representations"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
}

func printResult(cmd *cobra.Command, res *export.Result, asJSON bool) error {
	reps := make([]string, len(res.Ladder))
	for i, r := range res.Ladder {
		reps[i] = r.String()
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resultView{
			ExportID:       res.ExportID,
			Protocol:       string(res.Protocol),
			Manifest:       res.ManifestPath,
			Representation: reps,
			ElapsedSeconds: res.Elapsed.Seconds(),
		})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.ManifestPath)
	return err
}
