// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package filter

import (
	"fmt"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/profile"
)

// HLSNames are the per-rung artifact names, relative to the output directory.
type HLSNames struct {
	Playlist      string
	Segment       string // printf pattern
	Init          string // fMP4 only
	VariantMaster string
}

// NamesForHLS derives the artifact names for rung key of an export.
func NamesForHLS(base string, key int, rep abr.Representation, segType string) HLSNames {
	stem := fmt.Sprintf("%s_%d_%d", base, key, rep.VideoBitrateKbps)
	ext := ".ts"
	if segType == SegmentTypeFMP4 {
		ext = ".m4s"
	}
	return HLSNames{
		Playlist:      stem + ".m3u8",
		Segment:       stem + "_%05d" + ext,
		Init:          stem + "_init.mp4",
		VariantMaster: fmt.Sprintf("%s_%d_master.m3u8", base, key),
	}
}

// HLS emits one independent encoder invocation per representation, in ladder order.
func HLS(l abr.Ladder, sel abr.FormatSelection, o Options) ([]Invocation, error) {
	if err := o.validate(l); err != nil {
		return nil, err
	}

	segType := o.HLSSegmentType
	if segType == "" {
		segType = SegmentTypeMPEGTS
	}
	// fMP4 is required for HEVC on Apple players and for VP9 in general.
	if sel.VideoCodec == abr.CodecHEVC || sel.VideoCodec == abr.CodecVP9 {
		segType = SegmentTypeFMP4
	}
	if segType != SegmentTypeMPEGTS && segType != SegmentTypeFMP4 {
		return nil, fmt.Errorf("%w: unknown HLS segment type %q", ErrInvalidOptions, segType)
	}

	allowCache := "0"
	if o.AllowCache {
		allowCache = "1"
	}

	out := make([]Invocation, 0, len(l))
	for key, rep := range l {
		names := NamesForHLS(o.BaseName, key, rep, segType)

		args := inputArgs(o.SourcePath)
		args = append(args, "-map", "0:v:0")
		if rep.HasAudio() {
			args = append(args, "-map", "0:a:0?")
		} else {
			args = append(args, "-an")
		}
		args = append(args, profile.BuildFormatArgs(sel, rep, profile.Unindexed)...)
		args = append(args, "-s:v", rep.Resolution())
		args = append(args,
			"-f", "hls",
			"-hls_time", o.segmentDuration(),
			"-hls_list_size", "0",
			"-hls_playlist_type", "vod",
			"-hls_allow_cache", allowCache,
			"-hls_segment_type", segType,
		)
		if segType == SegmentTypeFMP4 {
			args = append(args, "-hls_fmp4_init_filename", names.Init)
		}
		args = append(args,
			"-hls_segment_filename", o.path(names.Segment),
			"-master_pl_name", names.VariantMaster,
		)
		args = append(args, o.trailingArgs()...)

		playlist := o.path(names.Playlist)
		args = append(args, playlist)

		out = append(out, Invocation{
			AdaptationKey:     key,
			Representations:   []abr.Representation{rep},
			Args:              args,
			OutputPath:        playlist,
			VariantMasterPath: o.path(names.VariantMaster),
		})
	}
	return out, nil
}
