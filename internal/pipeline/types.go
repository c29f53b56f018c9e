// Package pipeline turns an uploaded video into a single headcount: it samples
// a bounded number of frames, runs a detector on each one and keeps the
// largest per-frame count of a target label.
package pipeline

import (
	"context"
	"image"
	"io"
)

const (
	// DefaultFrameLimit is the frame budget applied when a run does not set one.
	DefaultFrameLimit = 150
	// DefaultTargetLabel is the detection class counted by default.
	DefaultTargetLabel = "person"
)

// Frame is one decoded image in RGB channel order.
// Pix holds Width*Height*3 bytes, row-major. A Frame is never modified after
// its source hands it out.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// Detection is one labeled object found in a frame.
type Detection struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// FrameSource yields decoded frames in order.
type FrameSource interface {
	// Next returns the next frame. ok is false at end of stream.
	Next() (frame Frame, ok bool)
	// Close releases the decoder. Safe to call more than once.
	Close() error
}

// Opener opens a FrameSource for a video stored at path.
type Opener interface {
	Open(ctx context.Context, path string) (FrameSource, error)
}

// Detector finds labeled objects in a frame. Implementations must be safe
// for concurrent use by independent runs.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// Upload is a video persisted to temporary storage for the length of one run.
type Upload interface {
	Path() string
	Size() int64
	// Release deletes the stored bytes. Safe to call more than once.
	Release() error
}

// UploadStore persists request bodies as Uploads.
type UploadStore interface {
	Persist(ctx context.Context, r io.Reader) (Upload, error)
}

// Outcome summarizes a run.
type Outcome struct {
	// MaxCount is the largest number of target-label detections in one frame.
	MaxCount int `json:"max_count"`
	// FramesExamined is the number of frames that went through the detector.
	FramesExamined int `json:"frames_examined"`
	// PeakFrame is the decode index (Frame.Index) of the first frame that
	// reached MaxCount, or -1 when no frame was examined. Skipped frames keep
	// their index, so it always names a frame that went through the detector.
	PeakFrame int `json:"peak_frame"`
	// FramesSkipped counts frames dropped after a detector failure when the
	// skip policy is active.
	FramesSkipped int `json:"frames_skipped"`
}
