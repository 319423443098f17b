// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ladder

import (
	"errors"
	"fmt"
)

// Rung is one candidate entry of a ladder policy.
type Rung struct {
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	VideoKbps int    `yaml:"videoKbps"`
	AudioKbps int    `yaml:"audioKbps,omitempty"`
	Label     string `yaml:"label,omitempty"`
}

// Bucket is the nominal resolution bucket of the rung ("720p" unless labelled).
func (r Rung) Bucket() string {
	if r.Label != "" {
		return r.Label
	}
	return fmt.Sprintf("%dp", r.Height)
}

// Policy is the ordered list of candidate rungs. Lower index means higher priority.
type Policy []Rung

var defaultHeights = []struct {
	height int
	kbps   int
}{
	{144, 95},
	{240, 150},
	{360, 276},
	{480, 750},
	{720, 2048},
	{1080, 4096},
	{1440, 6144},
	{2160, 17408},
}

// DefaultAudioKbps is attached to every default rung.
const DefaultAudioKbps = 128

// DefaultPolicy returns the built-in 16:9 ladder used when no rungs are configured.
func DefaultPolicy() Policy {
	p := make(Policy, 0, len(defaultHeights))
	for _, d := range defaultHeights {
		p = append(p, Rung{
			Width:     evenWidth(d.height, 16, 9),
			Height:    d.height,
			VideoKbps: d.kbps,
			AudioKbps: DefaultAudioKbps,
		})
	}
	return p
}

func evenWidth(height, num, den int) int {
	w := height * num / den
	if w%2 != 0 {
		w++
	}
	return w
}

var (
	ErrEmptyPolicy  = errors.New("ladder policy has no rungs")
	ErrInvalidRung  = errors.New("invalid ladder rung")
	ErrNonMonotonic = errors.New("ladder policy rungs are not monotonic")
)

// Validate checks every rung and that bitrate never decreases as pixel count grows.
// Rungs sharing a bucket are allowed; the lower index wins during computation.
func (p Policy) Validate() error {
	if len(p) == 0 {
		return ErrEmptyPolicy
	}
	for i, r := range p {
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("%w: rung %d has non-positive geometry %dx%d", ErrInvalidRung, i, r.Width, r.Height)
		}
		if r.Width%2 != 0 || r.Height%2 != 0 {
			return fmt.Errorf("%w: rung %d geometry %dx%d must be even", ErrInvalidRung, i, r.Width, r.Height)
		}
		if r.VideoKbps <= 0 {
			return fmt.Errorf("%w: rung %d has non-positive video bitrate", ErrInvalidRung, i)
		}
		if r.AudioKbps < 0 {
			return fmt.Errorf("%w: rung %d has negative audio bitrate", ErrInvalidRung, i)
		}
	}
	for i := range p {
		for j := range p {
			a, b := p[i], p[j]
			if a.Bucket() == b.Bucket() {
				continue
			}
			if a.Width*a.Height < b.Width*b.Height && a.VideoKbps > b.VideoKbps {
				return fmt.Errorf("%w: %s (%dk) is smaller than %s (%dk) but has a higher bitrate",
					ErrNonMonotonic, a.Bucket(), a.VideoKbps, b.Bucket(), b.VideoKbps)
			}
		}
	}
	return nil
}
