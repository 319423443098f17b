// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ladder computes the representation ladder for a probed source.
package ladder

import (
	"sort"

	"github.com/ManuGH/abrexport/internal/domain/abr"
)

// Compute filters the policy against the source geometry and returns the ladder
// in ascending pixel order. The result is never empty: when no rung fits, the
// source geometry is passed through as a single "original" rung.
//
// A rung survives when its width and height are each within the source
// dimensions and, if the source bitrate is known, its video bitrate does not
// exceed it. One rung is kept per bucket; the policy bitrate is used as-is.
func Compute(g abr.SourceGeometry, p Policy) abr.Ladder {
	seen := make(map[string]struct{}, len(p))
	out := make(abr.Ladder, 0, len(p))

	for _, r := range p {
		if r.Width > g.Width || r.Height > g.Height {
			continue
		}
		if g.VideoBitrateKbps > 0 && r.VideoKbps > g.VideoBitrateKbps {
			continue
		}
		bucket := r.Bucket()
		if _, dup := seen[bucket]; dup {
			continue
		}
		seen[bucket] = struct{}{}

		out = append(out, abr.Representation{
			Width:            r.Width,
			Height:           r.Height,
			VideoBitrateKbps: r.VideoKbps,
			AudioBitrateKbps: audioFor(g, r.AudioKbps),
			Label:            bucket,
		})
	}

	if len(out) == 0 {
		return abr.Ladder{Original(g)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pixels() != out[j].Pixels() {
			return out[i].Pixels() < out[j].Pixels()
		}
		return out[i].VideoBitrateKbps < out[j].VideoBitrateKbps
	})
	return out
}

// Original is the pass-through representation of the source itself.
func Original(g abr.SourceGeometry) abr.Representation {
	audio := 0
	if g.HasAudio {
		audio = g.AudioBitrateKbps
	}
	return abr.Representation{
		Width:            g.Width,
		Height:           g.Height,
		VideoBitrateKbps: g.VideoBitrateKbps,
		AudioBitrateKbps: audio,
		Label:            abr.LabelOriginal,
	}
}

func audioFor(g abr.SourceGeometry, kbps int) int {
	if !g.HasAudio || kbps <= 0 {
		return 0
	}
	if g.AudioBitrateKbps > 0 && kbps > g.AudioBitrateKbps {
		return g.AudioBitrateKbps
	}
	return kbps
}
