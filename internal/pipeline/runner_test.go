package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headcount/internal/logger"
)

func newTestRunner(store *memStore, opener *stubOpener, det Detector, cfg RunnerConfig) *Runner {
	return NewRunner(store, opener, det, cfg, logger.NewNop())
}

func video() *strings.Reader { return strings.NewReader("fake video bytes") }

func TestRunReportsMaximum(t *testing.T) {
	store := &memStore{}
	opener := &stubOpener{frames: 3}
	det := &scriptedDetector{counts: []int{2, 5, 3}}
	r := newTestRunner(store, opener, det, RunnerConfig{})

	out, err := r.Run(context.Background(), Request{ID: "run-1", Body: video()})
	require.NoError(t, err)

	assert.Equal(t, Outcome{MaxCount: 5, FramesExamined: 3, PeakFrame: 1}, out)
	assert.True(t, store.allReleased())
	assert.True(t, opener.allClosed())
}

func TestRunFrameBudget(t *testing.T) {
	tests := []struct {
		name      string
		frames    int
		limit     int
		wantCalls int
	}{
		{"long video stops at default", 400, 0, 150},
		{"short video examines all", 10, 0, 10},
		{"request limit", 400, 20, 20},
		{"empty video", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			opener := &stubOpener{frames: tt.frames}
			det := &scriptedDetector{counts: []int{1}}
			r := newTestRunner(store, opener, det, RunnerConfig{})

			out, err := r.Run(context.Background(), Request{Body: video(), FrameLimit: tt.limit})
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, int(det.calls.Load()))
			assert.Equal(t, tt.wantCalls, out.FramesExamined)
			if tt.wantCalls == 0 {
				assert.Equal(t, 0, out.MaxCount)
				assert.Equal(t, -1, out.PeakFrame)
			} else {
				assert.Equal(t, 1, out.MaxCount)
			}
			assert.True(t, store.allReleased())
			assert.True(t, opener.allClosed())
		})
	}
}

func TestRunCustomLabel(t *testing.T) {
	r := newTestRunner(&memStore{}, &stubOpener{frames: 4}, &scriptedDetector{counts: []int{3}}, RunnerConfig{})

	out, err := r.Run(context.Background(), Request{Body: video(), Label: "dog"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.MaxCount)
}

func TestRunEmptyUploadNeverOpens(t *testing.T) {
	store := &memStore{}
	opener := &stubOpener{frames: 10}
	det := &scriptedDetector{}
	r := newTestRunner(store, opener, det, RunnerConfig{})

	_, err := r.Run(context.Background(), Request{Body: strings.NewReader("")})
	require.Error(t, err)

	assert.Equal(t, KindBadRequest, KindOf(err))
	assert.ErrorIs(t, err, ErrEmptyUpload)
	assert.Zero(t, opener.calls)
	assert.Zero(t, det.calls.Load())
}

func TestRunRejectsMissingBodyAndNegativeLimit(t *testing.T) {
	r := newTestRunner(&memStore{}, &stubOpener{}, &scriptedDetector{}, RunnerConfig{})

	_, err := r.Run(context.Background(), Request{})
	assert.Equal(t, KindBadRequest, KindOf(err))

	_, err = r.Run(context.Background(), Request{Body: video(), FrameLimit: -3})
	assert.Equal(t, KindBadRequest, KindOf(err))
}

func TestRunPersistFailure(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	opener := &stubOpener{}
	r := newTestRunner(store, opener, &scriptedDetector{}, RunnerConfig{})

	_, err := r.Run(context.Background(), Request{Body: video()})
	assert.Equal(t, KindPersist, KindOf(err))
	assert.Zero(t, opener.calls)
}

func TestRunOpenFailureReleasesUpload(t *testing.T) {
	store := &memStore{}
	opener := &stubOpener{err: errors.New("not a video")}
	det := &scriptedDetector{}
	r := newTestRunner(store, opener, det, RunnerConfig{})

	_, err := r.Run(context.Background(), Request{Body: video()})
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindOpen, perr.Kind)
	assert.Equal(t, StagePersisted, perr.Stage)
	assert.Zero(t, det.calls.Load())
	assert.True(t, store.allReleased())
}

func TestRunDetectorFailureAborts(t *testing.T) {
	store := &memStore{}
	opener := &stubOpener{frames: 20}
	det := &scriptedDetector{counts: []int{1}, failAt: map[int]bool{4: true}}
	r := newTestRunner(store, opener, det, RunnerConfig{})

	_, err := r.Run(context.Background(), Request{Body: video()})
	require.Error(t, err)

	assert.Equal(t, KindDetection, KindOf(err))
	assert.ErrorIs(t, err, errDetector)
	assert.Equal(t, int32(5), det.calls.Load())
	assert.True(t, store.allReleased())
	assert.True(t, opener.allClosed())
}

func TestRunDetectorFailureSkipPolicy(t *testing.T) {
	opener := &stubOpener{frames: 6}
	det := &scriptedDetector{counts: []int{1, 1, 9, 2, 2, 2}, failAt: map[int]bool{2: true}}
	r := newTestRunner(&memStore{}, opener, det, RunnerConfig{Policy: PolicySkip})

	out, err := r.Run(context.Background(), Request{Body: video()})
	require.NoError(t, err)

	assert.Equal(t, 2, out.MaxCount)
	assert.Equal(t, 5, out.FramesExamined)
	assert.Equal(t, 1, out.FramesSkipped)
	// Decode index, not the position among examined frames.
	assert.Equal(t, 3, out.PeakFrame)
	assert.True(t, opener.allClosed())
}

func TestRunTimeout(t *testing.T) {
	store := &memStore{}
	opener := &stubOpener{frames: 150}
	det := &scriptedDetector{counts: []int{1}, delay: 20 * time.Millisecond}
	r := newTestRunner(store, opener, det, RunnerConfig{Timeout: 50 * time.Millisecond})

	_, err := r.Run(context.Background(), Request{Body: video()})
	require.Error(t, err)

	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, det.calls.Load(), int32(150))
	assert.True(t, store.allReleased())
	assert.True(t, opener.allClosed())
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(&memStore{}, &stubOpener{frames: 10}, &scriptedDetector{}, RunnerConfig{})
	_, err := r.Run(ctx, Request{Body: video()})
	assert.Equal(t, KindCanceled, KindOf(err))
}

func TestRunObserverSeesStages(t *testing.T) {
	obs := newRecordingObserver()
	r := newTestRunner(&memStore{}, &stubOpener{frames: 3}, &scriptedDetector{counts: []int{1}}, RunnerConfig{})
	r.SetObserver(obs)

	_, err := r.Run(context.Background(), Request{ID: "ok", Body: video()})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), Request{ID: "empty", Body: strings.NewReader("")})
	require.Error(t, err)

	assert.Equal(t, []Stage{
		StageReceived, StagePersisted, StageOpened, StageSampling, StageAggregated, StageCleanedUp,
	}, obs.stages["ok"])
	assert.Equal(t, 3, obs.frames["ok"])
	assert.Equal(t, []Stage{StageReceived, StageFailed, StageCleanedUp}, obs.stages["empty"])
}

func TestRunConcurrentRunsAreIndependent(t *testing.T) {
	store := &memStore{}
	opener := &stubOpener{frames: 30}
	det := &scriptedDetector{counts: []int{0, 1, 2, 3, 4, 5, 6, 7}}
	r := newTestRunner(store, opener, det, RunnerConfig{})

	const runs = 8
	var wg sync.WaitGroup
	results := make([]Outcome, runs)
	errs := make([]error, runs)
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Run(context.Background(), Request{
				ID:         fmt.Sprintf("run-%d", i),
				Body:       video(),
				FrameLimit: i + 1,
			})
		}()
	}
	wg.Wait()

	for i := range runs {
		require.NoError(t, errs[i])
		assert.Equal(t, i+1, results[i].FramesExamined)
		assert.Equal(t, i, results[i].MaxCount)
	}
	assert.True(t, store.allReleased())
	assert.True(t, opener.allClosed())
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, p)

	p, err = ParseFailurePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
