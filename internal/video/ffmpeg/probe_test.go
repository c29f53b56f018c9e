package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbe(t *testing.T) {
	raw := `{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360, "nb_frames": "240", "duration": "8.000000"}
		]
	}`

	info, err := parseProbe(raw)
	require.NoError(t, err)
	assert.Equal(t, StreamInfo{Width: 640, Height: 360, Codec: "h264", Frames: 240, Duration: "8.000000"}, info)
}

func TestParseProbeRotation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{
			name: "display matrix",
			raw:  `{"streams":[{"codec_type":"video","width":1920,"height":1080,"side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}`,
			want: 270,
		},
		{
			name: "rotate tag",
			raw:  `{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"90"}}]}`,
			want: 90,
		},
		{
			name: "upside down",
			raw:  `{"streams":[{"codec_type":"video","width":640,"height":480,"side_data_list":[{"side_data_type":"Display Matrix","rotation":180}]}]}`,
			want: 180,
		},
		{
			name: "none",
			raw:  `{"streams":[{"codec_type":"video","width":640,"height":480}]}`,
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseProbe(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Rotation)
		})
	}

	// Rotation never changes the coded geometry frames are decoded with.
	info, err := parseProbe(tests[0].raw)
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
}

func TestParseProbeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "moov atom not found"},
		{"audio only", `{"streams":[{"codec_type":"audio"}]}`},
		{"no streams", `{"streams":[]}`},
		{"zero size", `{"streams":[{"codec_type":"video","width":0,"height":0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProbe(tt.raw)
			assert.Error(t, err)
		})
	}

	_, err := parseProbe(`{"streams":[{"codec_type":"audio"}]}`)
	assert.ErrorIs(t, err, ErrNoVideoStream)
}
