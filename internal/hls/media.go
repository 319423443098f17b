// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MediaPlaylist is the subset of a per-representation media playlist the
// assembler needs to trust it.
type MediaPlaylist struct {
	TargetDuration int
	Segments       []string
	TotalDuration  time.Duration
	IsVOD          bool // #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
	HasMap         bool // fMP4 init segment (#EXT-X-MAP)
}

// ParseMediaPlaylist scans a media playlist. It fails on malformed EXTINF or
// TARGETDURATION values and on a segment URI that has no preceding EXTINF.
func ParseMediaPlaylist(playlist string) (*MediaPlaylist, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	mp := &MediaPlaylist{}

	var (
		pending    time.Duration
		hasPending bool
		sawHeader  bool
		endList    bool
		typeVOD    bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "#EXTM3U":
			sawHeader = true
		case line == "#EXT-X-ENDLIST":
			endList = true
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			typeVOD = strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:") == "VOD"
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			mp.HasMap = true
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid TARGETDURATION: %s", line)
			}
			mp.TargetDuration = v
		case strings.HasPrefix(line, "#EXTINF:"):
			// #EXTINF:6.006000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			pending = time.Duration(secs * float64(time.Second))
			hasPending = true
		case strings.HasPrefix(line, "#"):
			// Other tags are irrelevant here.
		default:
			if !hasPending {
				return nil, fmt.Errorf("segment %q has no EXTINF", line)
			}
			mp.Segments = append(mp.Segments, line)
			mp.TotalDuration += pending
			pending, hasPending = 0, false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("missing #EXTM3U header")
	}

	mp.IsVOD = typeVOD || endList
	return mp, nil
}
