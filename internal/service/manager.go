package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"headcount/internal/config"
	"headcount/internal/dto"
	"headcount/internal/logger"
	"headcount/internal/metrics"
	"headcount/internal/model"
	"headcount/internal/pipeline"
	"headcount/internal/repository"
)

// publishTimeout bounds the broker call made after a run finishes.
const publishTimeout = 5 * time.Second

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Broadcaster pushes events to live viewers.
type Broadcaster interface {
	Broadcast(message []byte)
}

// RunPublisher announces finished runs to other systems.
type RunPublisher interface {
	PublishRun(ctx context.Context, run *model.Run) error
}

// AnalyzeRequest is one upload handed to the Manager.
type AnalyzeRequest struct {
	Body       io.Reader
	Filename   string
	Size       int64
	Session    string
	Label      string
	FrameLimit int
}

// Manager admits runs, executes them through the pipeline and records the
// result in history, the event hub and the broker.
type Manager struct {
	runner       *pipeline.Runner
	slots        *semaphore.Weighted
	queueTimeout time.Duration
	runs         repository.RunRepository
	frames       repository.FrameRepository
	hub          Broadcaster
	publisher    RunPublisher
	logger       *logger.Logger

	mu        sync.Mutex
	frameLogs map[string][]model.FrameResult
}

// ManagerOption configures optional Manager collaborators.
type ManagerOption func(*Manager)

func WithHistory(runs repository.RunRepository, frames repository.FrameRepository) ManagerOption {
	return func(m *Manager) {
		m.runs = runs
		m.frames = frames
	}
}

func WithBroadcaster(b Broadcaster) ManagerOption {
	return func(m *Manager) { m.hub = b }
}

func WithPublisher(p RunPublisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

func NewManager(runner *pipeline.Runner, cfg *config.Config, logger *logger.Logger, opts ...ManagerOption) *Manager {
	slots := cfg.MaxConcurrentRuns
	if slots <= 0 {
		slots = 1
	}
	m := &Manager{
		runner:       runner,
		slots:        semaphore.NewWeighted(int64(slots)),
		queueTimeout: cfg.QueueTimeout,
		logger:       logger,
		frameLogs:    make(map[string][]model.FrameResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	runner.SetObserver(m)

	m.logger.Info("Manager started - %d concurrent runs, %d frames per run", slots, runner.Config().FrameLimit)
	return m
}

// Defaults exposes the runner defaults for request validation.
func (m *Manager) Defaults() pipeline.RunnerConfig {
	return m.runner.Config()
}

// Analyze waits for a run slot, runs the pipeline and records the result.
// The returned Run is non-nil whenever the run started, even on failure.
func (m *Manager) Analyze(ctx context.Context, req AnalyzeRequest) (*model.Run, error) {
	id := uuid.NewString()

	if err := m.acquire(ctx); err != nil {
		m.logger.Warning("Run %s not admitted: %v", id, err)
		metrics.RunsTotal.WithLabelValues(pipeline.KindOf(err).String()).Inc()
		return nil, err
	}
	defer m.slots.Release(1)
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	defaults := m.runner.Config()
	run := &model.Run{
		ID:         id,
		Session:    req.Session,
		Filename:   req.Filename,
		Size:       req.Size,
		Label:      firstNonEmpty(req.Label, defaults.TargetLabel),
		FrameLimit: req.FrameLimit,
		PeakFrame:  -1,
		CreatedAt:  time.Now().UTC(),
	}
	if run.FrameLimit == 0 {
		run.FrameLimit = defaults.FrameLimit
	}
	if req.Size > 0 {
		metrics.UploadBytes.Observe(float64(req.Size))
	}

	out, err := m.runner.Run(ctx, pipeline.Request{
		ID:         id,
		Body:       req.Body,
		Label:      req.Label,
		FrameLimit: req.FrameLimit,
	})
	run.DurationMS = time.Since(run.CreatedAt).Milliseconds()

	if err != nil {
		run.Status = model.RunFailed
		run.ErrorKind = pipeline.KindOf(err).String()
		run.Error = err.Error()
	} else {
		run.Status = model.RunSucceeded
		run.MaxCount = out.MaxCount
		run.FramesExamined = out.FramesExamined
		run.FramesSkipped = out.FramesSkipped
		run.PeakFrame = out.PeakFrame
		metrics.MaxCount.Observe(float64(out.MaxCount))
	}

	status := run.Status
	if err != nil {
		status = run.ErrorKind
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.WithLabelValues(run.Status).Observe(time.Since(run.CreatedAt).Seconds())

	m.record(ctx, run)
	return run, err
}

func (m *Manager) acquire(ctx context.Context) error {
	waitCtx := ctx
	if m.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.queueTimeout)
		defer cancel()
	}
	if err := m.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return pipeline.NewError(pipeline.KindCanceled, pipeline.StageReceived, ctx.Err())
		}
		return pipeline.NewError(pipeline.KindBusy, pipeline.StageReceived, errors.New("all run slots are busy"))
	}
	return nil
}

// record stores, announces and publishes a finished run. Failures here are
// logged and never change the outcome returned to the caller.
func (m *Manager) record(ctx context.Context, run *model.Run) {
	m.mu.Lock()
	frames := m.frameLogs[run.ID]
	delete(m.frameLogs, run.ID)
	m.mu.Unlock()

	if m.runs != nil {
		if err := m.runs.Insert(run); err != nil {
			m.logger.Error("Error saving run %s to database: %v", run.ID, err)
		} else if m.frames != nil && run.Status == model.RunSucceeded {
			if err := m.frames.InsertBatch(frames); err != nil {
				m.logger.Error("Error saving frames of run %s: %v", run.ID, err)
			}
		}
	}

	m.broadcast(dto.RunEvent{Type: "finished", RunID: run.ID, Status: run.Status, MaxCount: run.MaxCount})

	if m.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := m.publisher.PublishRun(pubCtx, run); err != nil {
			m.logger.Warning("Error publishing run %s: %v", run.ID, err)
		}
	}
}

// StageChanged implements pipeline.Observer.
func (m *Manager) StageChanged(runID string, stage pipeline.Stage) {
	m.broadcast(dto.RunEvent{Type: "stage", RunID: runID, Stage: stage.String()})
}

// FrameDetected implements pipeline.Observer.
func (m *Manager) FrameDetected(runID string, index, count int, took time.Duration) {
	metrics.FramesExaminedTotal.Inc()
	metrics.DetectionDuration.Observe(took.Seconds())

	m.mu.Lock()
	m.frameLogs[runID] = append(m.frameLogs[runID], model.FrameResult{
		RunID:      runID,
		Index:      index,
		Count:      count,
		DurationMS: float64(took.Microseconds()) / 1000,
	})
	m.mu.Unlock()

	m.broadcast(dto.RunEvent{Type: "frame", RunID: runID, Frame: index, Count: count})
}

func (m *Manager) broadcast(ev dto.RunEvent) {
	if m.hub == nil {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("Error encoding event: %v", err)
		return
	}
	m.hub.Broadcast(msg)
}

// ListRuns returns a page of run history.
func (m *Manager) ListRuns(filter *dto.RunFilter) (*dto.RunList, error) {
	if m.runs == nil {
		return &dto.RunList{Runs: []model.Run{}, Limit: filter.Limit, Offset: filter.Offset}, nil
	}
	runs, err := m.runs.GetAll(filter)
	if err != nil {
		return nil, err
	}
	total, err := m.runs.GetTotalCount(filter)
	if err != nil {
		m.logger.Error("Error counting runs: %v", err)
		total = len(runs)
	}
	return &dto.RunList{Runs: runs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// GetRun returns one run with its per-frame counts.
func (m *Manager) GetRun(id string) (*dto.RunDetail, error) {
	if m.runs == nil {
		return nil, ErrRunNotFound
	}
	run, err := m.runs.GetByID(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}

	detail := &dto.RunDetail{Run: *run, Frames: []model.FrameResult{}}
	if m.frames != nil {
		frames, err := m.frames.GetByRunID(id)
		if err != nil {
			m.logger.Error("Error loading frames of run %s: %v", id, err)
		} else {
			detail.Frames = frames
		}
	}
	return detail, nil
}

// ClearRuns deletes the whole run history.
func (m *Manager) ClearRuns() (int64, error) {
	if m.runs == nil {
		return 0, nil
	}
	n, err := m.runs.DeleteAll()
	if err != nil {
		return 0, err
	}
	m.logger.Info("Cleared %d runs from history", n)
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
