package sqlite

import (
	"fmt"

	"headcount/internal/model"
)

// FrameRepository implements repository.FrameRepository for SQLite.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new SQLite frame repository.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// InsertBatch adds multiple frame results in a single transaction.
func (r *FrameRepository) InsertBatch(frames []model.FrameResult) error {
	if len(frames) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO run_frames (run_id, frame_index, count, duration_ms)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.Exec(f.RunID, f.Index, f.Count, f.DurationMS); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", f.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByRunID retrieves the frames of a run in order.
func (r *FrameRepository) GetByRunID(runID string) ([]model.FrameResult, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT run_id, frame_index, count, duration_ms
		FROM run_frames WHERE run_id = ? ORDER BY frame_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	frames := []model.FrameResult{}
	for rows.Next() {
		var f model.FrameResult
		if err := rows.Scan(&f.RunID, &f.Index, &f.Count, &f.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}
