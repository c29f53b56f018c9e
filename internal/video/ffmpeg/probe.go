package ffmpeg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// StreamInfo is the geometry of the first video stream in a container.
type StreamInfo struct {
	Width    int
	Height   int
	Codec    string
	Frames   int
	Duration string
	// Rotation is the display rotation in degrees (0, 90, 180 or 270)
	// requested by the container. Frames are decoded unrotated.
	Rotation int
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		NbFrames  string `json:"nb_frames"`
		Duration  string `json:"duration"`
		Tags      struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			SideDataType string  `json:"side_data_type"`
			Rotation     float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// ErrNoVideoStream is returned when the container holds no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// parseProbe picks the first video stream from ffprobe JSON output.
func parseProbe(raw string) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return StreamInfo{}, fmt.Errorf("failed to parse probe output: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return StreamInfo{}, fmt.Errorf("video stream has no size (%dx%d)", s.Width, s.Height)
		}
		info := StreamInfo{Width: s.Width, Height: s.Height, Codec: s.CodecName, Duration: s.Duration}
		fmt.Sscanf(s.NbFrames, "%d", &info.Frames)

		var degrees float64
		if s.Tags.Rotate != "" {
			fmt.Sscanf(s.Tags.Rotate, "%g", &degrees)
		}
		for _, sd := range s.SideDataList {
			if sd.SideDataType == "Display Matrix" {
				degrees = sd.Rotation
			}
		}
		info.Rotation = normalizeRotation(degrees)
		return info, nil
	}
	return StreamInfo{}, ErrNoVideoStream
}

// normalizeRotation maps any multiple of 90 degrees, positive or negative,
// onto 0..270.
func normalizeRotation(degrees float64) int {
	r := int(math.Round(degrees/90)) * 90 % 360
	if r < 0 {
		r += 360
	}
	return r
}
