package repository

import (
	"headcount/internal/dto"
	"headcount/internal/model"
)

// RunRepository defines the interface for run history operations.
type RunRepository interface {
	// Create operations
	Insert(run *model.Run) error

	// Read operations
	GetByID(id string) (*model.Run, error)
	GetAll(filter *dto.RunFilter) ([]model.Run, error)
	GetTotalCount(filter *dto.RunFilter) (int, error)

	// Delete operations
	DeleteAll() (int64, error)
}

// FrameRepository defines the interface for per-frame results of a run.
type FrameRepository interface {
	InsertBatch(frames []model.FrameResult) error
	GetByRunID(runID string) ([]model.FrameResult, error)
}
