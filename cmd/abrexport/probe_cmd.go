// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/spf13/cobra"
)

type geometryView struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DurationSeconds  float64 `json:"duration_seconds"`
	VideoBitrateKbps int     `json:"video_bitrate_kbps"`
	AudioBitrateKbps int     `json:"audio_bitrate_kbps"`
	VideoCodec       string  `json:"video_codec"`
	FrameRate        float64 `json:"frame_rate"`
	HasAudio         bool    `json:"has_audio"`
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <source>",
		Short: "Print the probed source geometry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := root.load()
			if err != nil {
				return err
			}
			g, err := newProber(cfg).Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(viewGeometry(g))
		},
	}
}

func viewGeometry(g abr.SourceGeometry) geometryView {
	return geometryView{
		Width:            g.Width,
		Height:           g.Height,
		DurationSeconds:  g.DurationSeconds,
		VideoBitrateKbps: g.VideoBitrateKbps,
		AudioBitrateKbps: g.AudioBitrateKbps,
		VideoCodec:       g.VideoCodec,
		FrameRate:        g.FrameRate,
		HasAudio:         g.HasAudio,
	}
}
