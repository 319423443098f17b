// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/export"
	"github.com/spf13/cobra"
)

type ladderFlags struct {
	geometry string
	kbps     int
	noAudio  bool
}

func newLadderCmd(root *rootOptions) *cobra.Command {
	f := &ladderFlags{}
	cmd := &cobra.Command{
		Use:   "ladder [source]",
		Short: "Show the representations an export would encode",
		Long: `Computes the bitrate ladder for a source from the configured policy.
With --geometry the source is not probed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := root.load()
			if err != nil {
				return err
			}

			var g abr.SourceGeometry
			switch {
			case f.geometry != "":
				if _, err := fmt.Sscanf(f.geometry, "%dx%d", &g.Width, &g.Height); err != nil {
					return fmt.Errorf("invalid --geometry %q: want WIDTHxHEIGHT", f.geometry)
				}
				g.VideoBitrateKbps = f.kbps
				g.HasAudio = !f.noAudio
			case len(args) == 1:
				g, err = newProber(cfg).Probe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			default:
				return errors.New("a source or --geometry is required")
			}

			l, err := export.PolicyBuilder{Policy: cfg.Policy()}.Representations(g)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tLABEL\tRESOLUTION\tVIDEO\tAUDIO")
			for i, r := range l {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%dk\t%dk\n", i, r.Label, r.Resolution(), r.VideoBitrateKbps, r.AudioBitrateKbps)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&f.geometry, "geometry", "", "source geometry as WIDTHxHEIGHT instead of probing")
	cmd.Flags().IntVar(&f.kbps, "kbps", 0, "source video bitrate with --geometry (0 = unknown)")
	cmd.Flags().BoolVar(&f.noAudio, "no-audio", false, "source has no audio with --geometry")
	return cmd
}
