// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls assembles the HLS master playlist from the per-representation
// playlists the encoder wrote.
package hls

import (
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/ManuGH/abrexport/internal/domain/abr"
)

const (
	tagHeader     = "#EXTM3U"
	tagEndList    = "#EXT-X-ENDLIST"
	tagStreamInf  = "#EXT-X-STREAM-INF:"
	attrFrameRate = "FRAME-RATE="
)

// SegmentPlaylist is the one-entry variant master an HLS invocation produced.
// Name is slash-separated and relative to the assembler's file system root,
// which is also the directory the combined master is written to.
type SegmentPlaylist struct {
	AdaptationKey  int
	Representation abr.Representation
	Name           string
}

// FrameRateLookup reports the measured frame rate of a representation, if known.
type FrameRateLookup func(abr.Representation) (float64, bool)

// Entry is one stream-info line and the media playlist it references.
type Entry struct {
	StreamInf string
	URI       string
}

// Assembler merges per-representation playlists into one master.
type Assembler struct {
	FS fs.FS
	// SkipMediaCheck disables parsing of the referenced media playlists.
	SkipMediaCheck bool
}

// Assemble builds the master playlist. Entries keep the input order, which must be ladder order.
// The result is #EXTM3U, then one stream-info line plus URI per representation,
// then #EXT-X-ENDLIST.
func (a Assembler) Assemble(playlists []SegmentPlaylist, fps FrameRateLookup) (string, error) {
	if len(playlists) == 0 {
		return "", fmt.Errorf("%w: %w", abr.ErrManifestAssembly, abr.ErrEmptyLadder)
	}

	entries := make([]Entry, 0, len(playlists))
	for _, sp := range playlists {
		e, err := a.entry(sp, fps)
		if err != nil {
			return "", fmt.Errorf("%w: representation %d (%s): %w",
				abr.ErrManifestAssembly, sp.AdaptationKey, sp.Representation.Label, err)
		}
		entries = append(entries, e)
	}
	return Render(entries), nil
}

// Render writes the master playlist text for the given entries.
func Render(entries []Entry) string {
	var b strings.Builder
	b.WriteString(tagHeader)
	b.WriteByte('\n')
	for _, e := range entries {
		b.WriteString(e.StreamInf)
		b.WriteByte('\n')
		b.WriteString(e.URI)
		b.WriteByte('\n')
	}
	b.WriteString(tagEndList)
	b.WriteByte('\n')
	return b.String()
}

func (a Assembler) entry(sp SegmentPlaylist, fps FrameRateLookup) (Entry, error) {
	raw, err := fs.ReadFile(a.FS, sp.Name)
	if err != nil {
		return Entry{}, fmt.Errorf("read variant playlist: %w", err)
	}

	streamInf, ref, err := StreamInfo(string(raw))
	if err != nil {
		return Entry{}, fmt.Errorf("%s: %w", sp.Name, err)
	}

	if fps != nil && !strings.Contains(streamInf, attrFrameRate) {
		if rate, ok := fps(sp.Representation); ok && rate > 0 {
			streamInf += "," + attrFrameRate + strconv.FormatFloat(rate, 'f', 3, 64)
		}
	}

	// The reference is relative to the variant master; rebase onto the root.
	uri := path.Join(path.Dir(sp.Name), ref)
	if _, err := fs.Stat(a.FS, uri); err != nil {
		return Entry{}, fmt.Errorf("referenced playlist %s: %w", uri, err)
	}

	if !a.SkipMediaCheck {
		body, err := fs.ReadFile(a.FS, uri)
		if err != nil {
			return Entry{}, fmt.Errorf("read media playlist %s: %w", uri, err)
		}
		mp, err := ParseMediaPlaylist(string(body))
		if err != nil {
			return Entry{}, fmt.Errorf("media playlist %s: %w", uri, err)
		}
		if !mp.IsVOD {
			return Entry{}, fmt.Errorf("media playlist %s is not complete (no ENDLIST)", uri)
		}
		if len(mp.Segments) == 0 {
			return Entry{}, fmt.Errorf("media playlist %s has no segments", uri)
		}
	}

	return Entry{StreamInf: streamInf, URI: uri}, nil
}

// StreamInfo returns the stream-info line of a variant master: the line
// immediately preceding the first URI, together with that URI.
func StreamInfo(playlist string) (streamInf, uri string, err error) {
	lines := strings.Split(strings.ReplaceAll(playlist, "\r\n", "\n"), "\n")
	prev := ""
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if !strings.HasPrefix(l, "#") {
			if !strings.HasPrefix(prev, tagStreamInf) {
				return "", "", fmt.Errorf("line before %q is not a stream-info tag", l)
			}
			return prev, l, nil
		}
		prev = l
	}
	return "", "", fmt.Errorf("no playlist reference found")
}
