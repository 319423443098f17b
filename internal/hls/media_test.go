// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaPlaylist(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		vod      bool
		segments int
		total    time.Duration
		hasMap   bool
	}{
		{name: "vod ts", input: vodMedia, vod: true, segments: 2, total: 10500 * time.Millisecond},
		{
			name:     "fmp4 endlist only",
			input:    "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:2,\na.m4s\n#EXT-X-ENDLIST\n",
			vod:      true,
			segments: 1,
			total:    2 * time.Second,
			hasMap:   true,
		},
		{name: "live", input: "#EXTM3U\n#EXTINF:2,\na.ts\n", segments: 1, total: 2 * time.Second},
		{name: "missing header", input: "#EXTINF:2,\na.ts\n", wantErr: true},
		{name: "bad extinf", input: "#EXTM3U\n#EXTINF:abc,\na.ts\n", wantErr: true},
		{name: "bad target", input: "#EXTM3U\n#EXT-X-TARGETDURATION:x\n", wantErr: true},
		{name: "orphan uri", input: "#EXTM3U\na.ts\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp, err := ParseMediaPlaylist(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.vod, mp.IsVOD)
			assert.Len(t, mp.Segments, tt.segments)
			assert.Equal(t, tt.total, mp.TotalDuration)
			assert.Equal(t, tt.hasMap, mp.HasMap)
		})
	}
}
