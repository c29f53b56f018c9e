package pipeline

import (
	"time"

	"go.uber.org/multierr"

	"headcount/internal/logger"
)

// Stage is a step of a run.
type Stage int

const (
	StageReceived Stage = iota
	StagePersisted
	StageOpened
	StageSampling
	StageAggregated
	StageFailed
	StageCleanedUp
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StagePersisted:
		return "persisted"
	case StageOpened:
		return "opened"
	case StageSampling:
		return "sampling"
	case StageAggregated:
		return "aggregated"
	case StageFailed:
		return "failed"
	case StageCleanedUp:
		return "cleaned_up"
	default:
		return "unknown"
	}
}

// Observer is told about the progress of every run. Calls happen on the
// run's goroutine, so implementations must not block.
type Observer interface {
	StageChanged(runID string, stage Stage)
	FrameDetected(runID string, index, count int, took time.Duration)
}

// runState tracks one run through its stages and collects cleanup errors.
type runState struct {
	id         string
	stage      Stage
	log        *logger.Logger
	observer   Observer
	cleanupErr error
}

func (s *runState) enter(stage Stage) {
	s.stage = stage
	s.log.Debug("stage %s", stage)
	if s.observer != nil {
		s.observer.StageChanged(s.id, stage)
	}
}

// release runs a cleanup step and remembers its error.
func (s *runState) release(what string, fn func() error) {
	if err := fn(); err != nil {
		s.cleanupErr = multierr.Append(s.cleanupErr, err)
		s.log.Warning("release %s: %v", what, err)
	}
}
