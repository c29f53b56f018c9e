package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type memUpload struct {
	path     string
	size     int64
	released atomic.Int32
}

func (u *memUpload) Path() string   { return u.path }
func (u *memUpload) Size() int64    { return u.size }
func (u *memUpload) Release() error { u.released.Add(1); return nil }

// memStore keeps uploads in memory and remembers every one it handed out.
type memStore struct {
	mu      sync.Mutex
	uploads []*memUpload
	err     error
}

func (s *memStore) Persist(_ context.Context, r io.Reader) (Upload, error) {
	if s.err != nil {
		return nil, s.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, ErrEmptyUpload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &memUpload{path: string(b), size: int64(len(b))}
	s.uploads = append(s.uploads, u)
	return u, nil
}

func (s *memStore) allReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.uploads {
		if u.released.Load() != 1 {
			return false
		}
	}
	return true
}

// countingSource yields total frames, each with Index set.
type countingSource struct {
	total  int
	pulled int
	closed atomic.Int32
}

func (s *countingSource) Next() (Frame, bool) {
	if s.pulled >= s.total {
		return Frame{}, false
	}
	f := Frame{Index: s.pulled, Width: 2, Height: 1, Pix: make([]byte, 6)}
	s.pulled++
	return f, true
}

func (s *countingSource) Close() error {
	s.closed.Add(1)
	return nil
}

// stubOpener opens a countingSource of frames frames for every path.
type stubOpener struct {
	mu     sync.Mutex
	frames int
	err    error
	opened []*countingSource
	calls  int
}

func (o *stubOpener) Open(_ context.Context, _ string) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	src := &countingSource{total: o.frames}
	o.opened = append(o.opened, src)
	return src, nil
}

func (o *stubOpener) allClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.opened {
		if s.closed.Load() != 1 {
			return false
		}
	}
	return true
}

// scriptedDetector returns counts[i] people for frame i, repeating the last
// entry past the end of the script.
type scriptedDetector struct {
	counts []int
	failAt map[int]bool
	delay  time.Duration
	calls  atomic.Int32
}

var errDetector = errors.New("inference failed")

func (d *scriptedDetector) Detect(ctx context.Context, f Frame) ([]Detection, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.failAt[f.Index] {
		return nil, errDetector
	}
	n := 0
	if len(d.counts) > 0 {
		i := f.Index
		if i >= len(d.counts) {
			i = len(d.counts) - 1
		}
		n = d.counts[i]
	}
	dets := make([]Detection, 0, n+1)
	for range n {
		dets = append(dets, Detection{Label: "person", Confidence: 0.9})
	}
	dets = append(dets, Detection{Label: "dog", Confidence: 0.8})
	return dets, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	stages map[string][]Stage
	frames map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{stages: map[string][]Stage{}, frames: map[string]int{}}
}

func (o *recordingObserver) StageChanged(runID string, stage Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[runID] = append(o.stages[runID], stage)
}

func (o *recordingObserver) FrameDetected(runID string, _, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames[runID]++
}
