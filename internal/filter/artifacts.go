// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package filter

import "regexp"

// artifactSuffixes are the names NamesForHLS and the DASH templates produce
// after the base name. Anything else in the directory belongs to someone else.
const artifactSuffixes = `(` +
	`\.m3u8|\.mpd` +
	`|_\d+_\d+\.m3u8` +
	`|_\d+_\d+_\d+\.(ts|m4s)` +
	`|_\d+_\d+_init\.mp4` +
	`|_\d+_master\.m3u8` +
	`|_init_\d+\.[0-9A-Za-z]+` +
	`|_chunk_\d+_\d+\.[0-9A-Za-z]+` +
	`)(\.tmp)?$`

// ArtifactMatcher reports whether a file name in an output directory was
// written by the export with the given base name.
func ArtifactMatcher(base string) func(name string) bool {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + artifactSuffixes)
	return re.MatchString
}
