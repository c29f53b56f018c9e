package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headcount/internal/config"
	"headcount/internal/dto"
	"headcount/internal/logger"
	"headcount/internal/model"
	"headcount/internal/pipeline"
)

type tmpUpload struct{ size int64 }

func (u *tmpUpload) Path() string   { return "mem" }
func (u *tmpUpload) Size() int64    { return u.size }
func (u *tmpUpload) Release() error { return nil }

type tmpStore struct{}

func (tmpStore) Persist(_ context.Context, r io.Reader) (pipeline.Upload, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, pipeline.ErrEmptyUpload
	}
	return &tmpUpload{size: n}, nil
}

type frameSource struct{ left, next int }

func (s *frameSource) Next() (pipeline.Frame, bool) {
	if s.left == 0 {
		return pipeline.Frame{}, false
	}
	s.left--
	f := pipeline.Frame{Index: s.next, Width: 1, Height: 1, Pix: []byte{0, 0, 0}}
	s.next++
	return f, true
}

func (s *frameSource) Close() error { return nil }

type frameOpener struct{ frames int }

func (o frameOpener) Open(context.Context, string) (pipeline.FrameSource, error) {
	return &frameSource{left: o.frames}, nil
}

// gateDetector reports frame index + 1 people and blocks on gate when set.
type gateDetector struct {
	gate chan struct{}
}

func (d *gateDetector) Detect(ctx context.Context, f pipeline.Frame) ([]pipeline.Detection, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	dets := make([]pipeline.Detection, f.Index+1)
	for i := range dets {
		dets[i].Label = "person"
	}
	return dets, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]model.Run
	err  error
}

func (r *memRuns) Insert(run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) GetByID(id string) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (r *memRuns) GetAll(*dto.RunFilter) ([]model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Run{}
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

func (r *memRuns) GetTotalCount(*dto.RunFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs), nil
}

func (r *memRuns) DeleteAll() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.runs))
	r.runs = map[string]model.Run{}
	return n, nil
}

type memFrames struct {
	mu     sync.Mutex
	frames map[string][]model.FrameResult
}

func (f *memFrames) InsertBatch(frames []model.FrameResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range frames {
		f.frames[fr.RunID] = append(f.frames[fr.RunID], fr)
	}
	return nil
}

func (f *memFrames) GetByRunID(id string) ([]model.FrameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[id], nil
}

type eventSink struct {
	mu     sync.Mutex
	events []dto.RunEvent
}

func (s *eventSink) Broadcast(msg []byte) {
	var ev dto.RunEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) ofType(typ string) []dto.RunEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dto.RunEvent
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (p *recordingPublisher) PublishRun(_ context.Context, run *model.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run.ID+":"+run.Status)
	return p.err
}

type harness struct {
	manager   *Manager
	runs      *memRuns
	frames    *memFrames
	events    *eventSink
	publisher *recordingPublisher
}

func newHarness(t *testing.T, frames int, det pipeline.Detector, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		runs:      &memRuns{runs: map[string]model.Run{}},
		frames:    &memFrames{frames: map[string][]model.FrameResult{}},
		events:    &eventSink{},
		publisher: &recordingPublisher{},
	}
	runner := pipeline.NewRunner(tmpStore{}, frameOpener{frames: frames}, det, pipeline.RunnerConfig{FrameLimit: 150}, logger.NewNop())
	h.manager = NewManager(runner, cfg, logger.NewNop(),
		WithHistory(h.runs, h.frames),
		WithBroadcaster(h.events),
		WithPublisher(h.publisher),
	)
	return h
}

func defaultConfig() *config.Config {
	return &config.Config{MaxConcurrentRuns: 2, QueueTimeout: time.Second}
}

func TestAnalyzeRecordsSuccessfulRun(t *testing.T) {
	h := newHarness(t, 4, &gateDetector{}, defaultConfig())

	run, err := h.manager.Analyze(context.Background(), AnalyzeRequest{
		Body: strings.NewReader("video"), Filename: "clip.mp4", Size: 5, Session: "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 4, run.MaxCount)
	assert.Equal(t, 4, run.FramesExamined)
	assert.Equal(t, 3, run.PeakFrame)
	assert.Equal(t, "person", run.Label)
	assert.Equal(t, 150, run.FrameLimit)

	detail, err := h.manager.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", detail.Filename)
	require.Len(t, detail.Frames, 4)
	assert.Equal(t, 2, detail.Frames[1].Count)

	assert.Len(t, h.events.ofType("frame"), 4)
	finished := h.events.ofType("finished")
	require.Len(t, finished, 1)
	assert.Equal(t, 4, finished[0].MaxCount)
	assert.Equal(t, []string{run.ID + ":succeeded"}, h.publisher.runs)
}

func TestAnalyzeRecordsFailedRun(t *testing.T) {
	h := newHarness(t, 4, &gateDetector{}, defaultConfig())

	run, err := h.manager.Analyze(context.Background(), AnalyzeRequest{Body: strings.NewReader("")})
	require.Error(t, err)
	require.NotNil(t, run)

	assert.Equal(t, pipeline.KindBadRequest, pipeline.KindOf(err))
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Equal(t, "bad_request", run.ErrorKind)

	stored, err := h.runs.GetByID(run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.RunFailed, stored.Status)
}

func TestAnalyzeHistoryFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, 2, &gateDetector{}, defaultConfig())
	h.runs.err = errors.New("database is locked")
	h.publisher.err = errors.New("connection closed")

	run, err := h.manager.Analyze(context.Background(), AnalyzeRequest{Body: strings.NewReader("video")})
	require.NoError(t, err)
	assert.Equal(t, 2, run.MaxCount)
}

func TestAnalyzeBusy(t *testing.T) {
	det := &gateDetector{gate: make(chan struct{})}
	h := newHarness(t, 1, det, &config.Config{MaxConcurrentRuns: 1, QueueTimeout: 20 * time.Millisecond})

	first := make(chan error, 1)
	go func() {
		_, err := h.manager.Analyze(context.Background(), AnalyzeRequest{Body: strings.NewReader("a")})
		first <- err
	}()
	require.Eventually(t, func() bool {
		return len(h.events.ofType("stage")) > 0
	}, time.Second, 5*time.Millisecond)

	run, err := h.manager.Analyze(context.Background(), AnalyzeRequest{Body: strings.NewReader("b")})
	assert.Nil(t, run)
	assert.Equal(t, pipeline.KindBusy, pipeline.KindOf(err))

	close(det.gate)
	require.NoError(t, <-first)
}

func TestListAndClearRuns(t *testing.T) {
	h := newHarness(t, 1, &gateDetector{}, defaultConfig())
	for range 3 {
		_, err := h.manager.Analyze(context.Background(), AnalyzeRequest{Body: strings.NewReader("v")})
		require.NoError(t, err)
	}

	list, err := h.manager.ListRuns(&dto.RunFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Runs, 3)

	n, err := h.manager.ClearRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = h.manager.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
