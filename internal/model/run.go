package model

import "time"

const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run represents one finished analysis.
type Run struct {
	ID             string    `json:"id"`
	Session        string    `json:"session,omitempty"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"size"`
	Label          string    `json:"label"`
	FrameLimit     int       `json:"frame_limit"`
	MaxCount       int       `json:"max_count"`
	FramesExamined int       `json:"frames_examined"`
	FramesSkipped  int       `json:"frames_skipped"`
	PeakFrame      int       `json:"peak_frame"`
	Status         string    `json:"status"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// FrameResult is the detector's count for one examined frame of a run.
type FrameResult struct {
	RunID      string  `json:"-"`
	Index      int     `json:"index"`
	Count      int     `json:"count"`
	DurationMS float64 `json:"duration_ms"`
}
