package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"headcount/internal/logger"
)

// FailurePolicy decides what a detector error on one frame does to the run.
type FailurePolicy string

const (
	// PolicyAbort fails the whole run on the first detector error.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip drops the failing frame and keeps sampling.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy validates a policy name.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicyAbort, PolicySkip:
		return FailurePolicy(s), nil
	case "":
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown detection failure policy %q", s)
	}
}

// RunnerConfig holds the defaults applied to every run.
type RunnerConfig struct {
	FrameLimit  int
	TargetLabel string
	Policy      FailurePolicy
	// Timeout bounds a whole run. Zero means no deadline.
	Timeout time.Duration
}

// Request is one video to analyze. Zero Label and FrameLimit take the
// runner's defaults.
type Request struct {
	ID         string
	Body       io.Reader
	Label      string
	FrameLimit int
}

// Runner wires UploadStore, Opener, Detector and Aggregator into runs.
// A Runner is safe for concurrent use as long as its Detector is.
type Runner struct {
	store    UploadStore
	opener   Opener
	detector Detector
	observer Observer
	cfg      RunnerConfig
	logger   *logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(store UploadStore, opener Opener, detector Detector, cfg RunnerConfig, logger *logger.Logger) *Runner {
	if cfg.FrameLimit <= 0 {
		cfg.FrameLimit = DefaultFrameLimit
	}
	if cfg.TargetLabel == "" {
		cfg.TargetLabel = DefaultTargetLabel
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAbort
	}
	return &Runner{
		store:    store,
		opener:   opener,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetObserver registers o to receive stage and frame events.
func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// Config returns the runner defaults.
func (r *Runner) Config() RunnerConfig {
	return r.cfg
}

// Run analyzes one upload. The upload and the decoder are released before Run
// returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, req Request) (out Outcome, err error) {
	label := req.Label
	if label == "" {
		label = r.cfg.TargetLabel
	}
	limit := req.FrameLimit
	if limit == 0 {
		limit = r.cfg.FrameLimit
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	tracer := otel.Tracer("headcount/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run.id", req.ID),
		attribute.String("run.label", label),
		attribute.Int("run.frame_limit", limit),
	))
	defer span.End()

	run := &runState{id: req.ID, log: r.logger.With("run_id", req.ID), observer: r.observer}
	run.enter(StageReceived)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err).String())
			run.log.Error("run failed: %v", err)
			run.enter(StageFailed)
		}
		if run.cleanupErr != nil {
			run.log.Warning("cleanup finished with errors: %v", run.cleanupErr)
		}
		run.enter(StageCleanedUp)
	}()

	if req.Body == nil {
		return Outcome{}, NewError(KindBadRequest, StageReceived, errors.New("no video in request"))
	}
	if limit < 0 {
		return Outcome{}, NewError(KindBadRequest, StageReceived, fmt.Errorf("frame limit must be positive, got %d", limit))
	}

	_, persistSpan := tracer.Start(ctx, "persist_upload")
	upload, err := r.store.Persist(ctx, req.Body)
	persistSpan.End()
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyUpload):
			return Outcome{}, NewError(KindBadRequest, StageReceived, err)
		case ctx.Err() != nil:
			return Outcome{}, contextError(ctx.Err(), StageReceived)
		default:
			return Outcome{}, NewError(KindPersist, StageReceived, err)
		}
	}
	defer run.release("upload", upload.Release)
	run.enter(StagePersisted)
	run.log.Info("upload persisted: %d bytes", upload.Size())

	_, openSpan := tracer.Start(ctx, "open_video")
	src, err := r.opener.Open(ctx, upload.Path())
	openSpan.End()
	if err != nil {
		return Outcome{}, NewError(KindOpen, StagePersisted, err)
	}
	defer run.release("frame source", src.Close)
	run.enter(StageOpened)

	run.enter(StageSampling)
	sampleCtx, sampleSpan := tracer.Start(ctx, "sample_and_count")
	out, err = r.sampleAndCount(sampleCtx, run, src, label, limit)
	sampleSpan.SetAttributes(attribute.Int("run.frames_examined", out.FramesExamined))
	sampleSpan.End()
	if err != nil {
		return Outcome{}, err
	}
	run.enter(StageAggregated)

	span.SetAttributes(
		attribute.Int("run.max_count", out.MaxCount),
		attribute.Int("run.frames_examined", out.FramesExamined),
	)
	run.log.Info("run finished: max %s count %d over %d frames (peak at %d, %d skipped)",
		label, out.MaxCount, out.FramesExamined, out.PeakFrame, out.FramesSkipped)
	return out, nil
}

// sampleAndCount feeds sampled frames through the detector into an Aggregator.
func (r *Runner) sampleAndCount(ctx context.Context, run *runState, src FrameSource, label string, limit int) (Outcome, error) {
	var detectErr error
	skipped := 0
	agg := NewAggregator(label)

	for frame := range Sample(ctx, src, limit) {
		start := time.Now()
		dets, err := r.detector.Detect(ctx, frame)
		if err != nil {
			if r.cfg.Policy == PolicySkip && ctx.Err() == nil {
				skipped++
				run.log.Warning("skipping frame %d: %v", frame.Index, err)
				continue
			}
			detectErr = fmt.Errorf("detect frame %d: %w", frame.Index, err)
			break
		}
		count := agg.ObserveFrame(frame.Index, dets)
		if r.observer != nil {
			r.observer.FrameDetected(run.id, frame.Index, count, time.Since(start))
		}
	}

	out := agg.Outcome()
	out.FramesSkipped = skipped

	if err := ctx.Err(); err != nil {
		return Outcome{}, contextError(err, StageSampling)
	}
	if detectErr != nil {
		return Outcome{}, NewError(KindDetection, StageSampling, detectErr)
	}
	return out, nil
}

func contextError(err error, stage Stage) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, stage, err)
	}
	return NewError(KindCanceled, stage, err)
}
