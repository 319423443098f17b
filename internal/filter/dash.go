// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package filter

import (
	"fmt"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/profile"
)

// DASH segment naming templates; $...$ identifiers are expanded by the muxer.
const (
	dashInitTemplate  = "%s_init_$RepresentationID$.$ext$"
	dashMediaTemplate = "%s_chunk_$RepresentationID$_$Number%%05d$.$ext$"
)

// DASHManifestName is the manifest file name for an export base name.
func DASHManifestName(base string) string {
	return base + ".mpd"
}

// DASH emits exactly one invocation that multiplexes every representation.
func DASH(l abr.Ladder, sel abr.FormatSelection, o Options) (Invocation, error) {
	if err := o.validate(l); err != nil {
		return Invocation{}, err
	}

	withAudio := ladderHasAudio(l)

	args := inputArgs(o.SourcePath)
	for range l {
		args = append(args, "-map", "0")
	}
	args = append(args, "-sn")
	if !withAudio {
		args = append(args, "-an")
	}

	for k, rep := range l {
		args = append(args, profile.BuildFormatArgs(sel, rep, profile.Stream(k))...)
		args = append(args, fmt.Sprintf("-s:v:%d", k), rep.Resolution())
	}
	args = append(args, profile.ExtraArgs(sel)...)

	adaptationSets := "id=0,streams=v"
	if withAudio {
		adaptationSets += " id=1,streams=a"
	}

	args = append(args,
		"-use_timeline", "1",
		"-use_template", "1",
		"-init_seg_name", fmt.Sprintf(dashInitTemplate, o.BaseName),
		"-media_seg_name", fmt.Sprintf(dashMediaTemplate, o.BaseName),
		"-seg_duration", o.segmentDuration(),
		"-adaptation_sets", adaptationSets,
		"-f", "dash",
	)
	args = append(args, o.trailingArgs()...)

	manifest := o.path(DASHManifestName(o.BaseName))
	args = append(args, manifest)

	reps := make([]abr.Representation, len(l))
	copy(reps, l)

	return Invocation{
		AdaptationKey:   0,
		Representations: reps,
		Args:            args,
		OutputPath:      manifest,
	}, nil
}
