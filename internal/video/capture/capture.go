// Package capture decodes video files with OpenCV.
package capture

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"headcount/internal/logger"
	"headcount/internal/pipeline"
)

// Opener opens videos through gocv.VideoCapture.
type Opener struct {
	logger *logger.Logger
}

func NewOpener(logger *logger.Logger) *Opener {
	return &Opener{logger: logger}
}

// Open opens the container at path and checks that it has a video stream.
func (o *Opener) Open(_ context.Context, path string) (pipeline.FrameSource, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video: %s", path)
	}

	width := int(vc.Get(gocv.VideoCaptureFrameWidth))
	height := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		vc.Close()
		return nil, fmt.Errorf("video has no decodable stream: %s", path)
	}

	reported := int(vc.Get(gocv.VideoCaptureFrameCount))
	o.logger.Debug("Opened %s: %dx%d, %d frames reported", path, width, height, reported)
	return &source{
		vc:       vc,
		bgr:      gocv.NewMat(),
		rgb:      gocv.NewMat(),
		reported: reported,
		logger:   o.logger,
	}, nil
}

// source reads BGR frames and hands out RGB copies.
type source struct {
	vc    *gocv.VideoCapture
	bgr   gocv.Mat
	rgb   gocv.Mat
	index int
	// reported is the container's frame count, 0 when unknown.
	reported int
	logger   *logger.Logger

	mu     sync.Mutex
	closed bool
}

func (s *source) Next() (pipeline.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pipeline.Frame{}, false
	}

	// A failed read is the end of the stream, including truncated files.
	if ok := s.vc.Read(&s.bgr); !ok || s.bgr.Empty() {
		if endedEarly(s.index, s.reported) {
			s.logger.Warning("Video decoding stopped after %d of %d reported frames", s.index, s.reported)
		}
		return pipeline.Frame{}, false
	}
	if err := gocv.CvtColor(s.bgr, &s.rgb, gocv.ColorBGRToRGB); err != nil {
		s.logger.Warning("Color conversion failed at frame %d: %v", s.index, err)
		return pipeline.Frame{}, false
	}

	frame := pipeline.Frame{
		Index:  s.index,
		Width:  s.rgb.Cols(),
		Height: s.rgb.Rows(),
		Pix:    s.rgb.ToBytes(),
	}
	s.index++
	return frame, true
}

// endedEarly reports whether a stream that produced read frames stopped short
// of the count its container reported.
func endedEarly(read, reported int) bool {
	return read > 0 && reported > 0 && read < reported
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.bgr.Close()
	s.rgb.Close()
	if err := s.vc.Close(); err != nil {
		return fmt.Errorf("failed to close video capture: %w", err)
	}
	return nil
}
