package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBadRequest: nothing to analyze (no body, empty upload, bad options).
	KindBadRequest
	// KindPersist: the upload could not be written to temporary storage.
	KindPersist
	// KindOpen: the video could not be opened or decoded.
	KindOpen
	// KindDetection: the detector failed on a frame.
	KindDetection
	// KindTimeout: the run exceeded its deadline.
	KindTimeout
	// KindCanceled: the caller went away.
	KindCanceled
	// KindBusy: no run slot became free in time.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindPersist:
		return "persist_error"
	case KindOpen:
		return "open_error"
	case KindDetection:
		return "detection_error"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// ErrEmptyUpload is returned by an UploadStore when the body had no bytes.
var ErrEmptyUpload = errors.New("upload is empty")

// Error is a failed run. Stage is the last stage reached before the failure.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the stage it happened in.
func NewError(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf reports the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}
