package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"headcount/internal/dto"
	"headcount/internal/model"
)

const runColumns = `id, session, filename, size, label, frame_limit, max_count, frames_examined,
	frames_skipped, peak_frame, status, error_kind, error, duration_ms, created_at`

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Insert adds a finished run.
func (r *RunRepository) Insert(run *model.Run) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Session, run.Filename, run.Size, run.Label, run.FrameLimit, run.MaxCount, run.FramesExamined,
		run.FramesSkipped, run.PeakFrame, run.Status, run.ErrorKind, run.Error, run.DurationMS, run.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var run model.Run
	err := s.Scan(&run.ID, &run.Session, &run.Filename, &run.Size, &run.Label, &run.FrameLimit, &run.MaxCount,
		&run.FramesExamined, &run.FramesSkipped, &run.PeakFrame, &run.Status, &run.ErrorKind, &run.Error,
		&run.DurationMS, &run.CreatedAt)
	return run, err
}

// GetByID retrieves a run by its ID. A missing run is (nil, nil).
func (r *RunRepository) GetByID(id string) (*model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	run, err := scanRun(r.db.Conn().QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func whereClause(filter *dto.RunFilter) (string, []any) {
	query := " WHERE 1=1"
	args := []any{}
	if filter == nil {
		return query, args
	}

	if filter.Session != "" {
		query += " AND session = ?"
		args = append(args, filter.Session)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	return query, args
}

// GetAll retrieves runs newest first based on filter criteria.
func (r *RunRepository) GetAll(filter *dto.RunFilter) ([]model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY created_at DESC, id`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetTotalCount returns the number of runs matching the filter.
func (r *RunRepository) GetTotalCount(filter *dto.RunFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// DeleteAll removes every run and its frames.
func (r *RunRepository) DeleteAll() (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}
