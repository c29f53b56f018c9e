package pipeline

import (
	"context"
	"iter"
)

// Sample returns the first limit frames of src as a lazy sequence.
//
// The budget is shared by every iteration of the returned sequence, so ranging
// over it a second time never pulls frames past limit. Iteration stops early
// at end of stream or once ctx is done. Only the frame being yielded is held.
func Sample(ctx context.Context, src FrameSource, limit int) iter.Seq[Frame] {
	pulled := 0
	return func(yield func(Frame) bool) {
		for pulled < limit {
			if ctx.Err() != nil {
				return
			}
			frame, ok := src.Next()
			if !ok {
				// Exhausted sources stay exhausted.
				pulled = limit
				return
			}
			pulled++
			if !yield(frame) {
				return
			}
		}
	}
}
