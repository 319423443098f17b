// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ladder

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/abrexport/internal/domain/abr"
)

var hdPolicy = Policy{
	{Width: 1280, Height: 720, VideoKbps: 3000},
	{Width: 1920, Height: 1080, VideoKbps: 6000},
}

func TestCompute_SourceMatchesTopRung(t *testing.T) {
	src := abr.SourceGeometry{Width: 1920, Height: 1080, VideoBitrateKbps: 8000}

	got := Compute(src, hdPolicy)

	want := abr.Ladder{
		{Width: 1280, Height: 720, VideoBitrateKbps: 3000, Label: "720p"},
		{Width: 1920, Height: 1080, VideoBitrateKbps: 6000, Label: "1080p"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compute() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompute_UnknownSourceBitrateKeepsPolicyBitrates(t *testing.T) {
	src := abr.SourceGeometry{Width: 1920, Height: 1080}

	got := Compute(src, hdPolicy)
	require.Len(t, got, 2)
	assert.Equal(t, 6000, got[1].VideoBitrateKbps)
}

func TestCompute_SourceBelowEveryRungPassesThrough(t *testing.T) {
	src := abr.SourceGeometry{Width: 640, Height: 360, VideoBitrateKbps: 900, AudioBitrateKbps: 96, HasAudio: true}

	got := Compute(src, hdPolicy)

	want := abr.Ladder{{Width: 640, Height: 360, VideoBitrateKbps: 900, AudioBitrateKbps: 96, Label: "original"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compute() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompute_BitrateAboveSourceIsDropped(t *testing.T) {
	src := abr.SourceGeometry{Width: 1920, Height: 1080, VideoBitrateKbps: 4000}

	got := Compute(src, hdPolicy)
	assert.Equal(t, []string{"720p"}, got.Labels())
}

func TestCompute_DuplicateBucketPrefersLowerIndex(t *testing.T) {
	p := Policy{
		{Width: 1280, Height: 720, VideoKbps: 2500},
		{Width: 960, Height: 720, VideoKbps: 1800},
		{Width: 640, Height: 360, VideoKbps: 800},
	}
	src := abr.SourceGeometry{Width: 1920, Height: 1080}

	got := Compute(src, p)

	want := abr.Ladder{
		{Width: 640, Height: 360, VideoBitrateKbps: 800, Label: "360p"},
		{Width: 1280, Height: 720, VideoBitrateKbps: 2500, Label: "720p"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compute() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompute_WidthAndHeightBothBound(t *testing.T) {
	// Portrait source: 720 wide, 1280 tall. A 1280x720 rung exceeds the width.
	src := abr.SourceGeometry{Width: 720, Height: 1280}
	p := Policy{
		{Width: 1280, Height: 720, VideoKbps: 3000},
		{Width: 640, Height: 360, VideoKbps: 800},
	}

	got := Compute(src, p)
	assert.Equal(t, []string{"360p"}, got.Labels())
}

func TestCompute_AudioFollowsSource(t *testing.T) {
	p := Policy{{Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 192}}

	silent := Compute(abr.SourceGeometry{Width: 1920, Height: 1080}, p)
	assert.Zero(t, silent[0].AudioBitrateKbps, "video-only source must not get an audio bitrate")

	capped := Compute(abr.SourceGeometry{Width: 1920, Height: 1080, HasAudio: true, AudioBitrateKbps: 128}, p)
	assert.Equal(t, 128, capped[0].AudioBitrateKbps)

	unknown := Compute(abr.SourceGeometry{Width: 1920, Height: 1080, HasAudio: true}, p)
	assert.Equal(t, 192, unknown[0].AudioBitrateKbps)
}

func TestCompute_OrderIgnoresPolicyOrder(t *testing.T) {
	reversed := Policy{hdPolicy[1], hdPolicy[0]}
	src := abr.SourceGeometry{Width: 3840, Height: 2160}

	assert.Equal(t, []string{"720p", "1080p"}, Compute(src, reversed).Labels())
}

func TestCompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	policy := DefaultPolicy()

	for i := 0; i < 500; i++ {
		src := abr.SourceGeometry{
			Width:            2 * (1 + rng.Intn(2000)),
			Height:           2 * (1 + rng.Intn(1200)),
			VideoBitrateKbps: rng.Intn(20000),
			AudioBitrateKbps: rng.Intn(320),
			HasAudio:         rng.Intn(2) == 0,
		}

		got := Compute(src, policy)
		require.NotEmpty(t, got, "source %+v", src)

		for j, r := range got {
			assert.LessOrEqual(t, r.Width, src.Width)
			assert.LessOrEqual(t, r.Height, src.Height)
			if src.VideoBitrateKbps > 0 {
				assert.LessOrEqual(t, r.VideoBitrateKbps, src.VideoBitrateKbps)
			}
			if j > 0 {
				prev := got[j-1]
				assert.Less(t, prev.Pixels(), r.Pixels(), "pixel order at %d for %+v", j, src)
				assert.Less(t, prev.VideoBitrateKbps, r.VideoBitrateKbps, "bitrate order at %d for %+v", j, src)
			}
		}

		// Deterministic across calls.
		if diff := cmp.Diff(got, Compute(src, policy)); diff != "" {
			t.Fatalf("non-deterministic ladder for %+v:\n%s", src, diff)
		}
	}
}

func TestDefaultPolicy_Valid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 1280, p[4].Width)
	assert.Equal(t, 854, p[3].Width, "480p width is rounded up to even")
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr error
	}{
		{"empty", nil, ErrEmptyPolicy},
		{"zero height", Policy{{Width: 640, VideoKbps: 800}}, ErrInvalidRung},
		{"odd width", Policy{{Width: 641, Height: 360, VideoKbps: 800}}, ErrInvalidRung},
		{"no bitrate", Policy{{Width: 640, Height: 360}}, ErrInvalidRung},
		{"inverted", Policy{
			{Width: 640, Height: 360, VideoKbps: 5000},
			{Width: 1280, Height: 720, VideoKbps: 3000},
		}, ErrNonMonotonic},
		{"ok", hdPolicy, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
