package handler

import (
	"errors"
	"net/http"

	"headcount/internal/dto"
	"headcount/internal/logger"
	"headcount/internal/model"
	"headcount/internal/service"
)

// RunHistory reads and clears stored runs.
type RunHistory interface {
	ListRuns(filter *dto.RunFilter) (*dto.RunList, error)
	GetRun(id string) (*dto.RunDetail, error)
	ClearRuns() (int64, error)
}

const (
	defaultRunPageSize = 50
	maxRunPageSize     = 500
)

// ListRunsHandler returns the filtered run history, newest first.
func ListRunsHandler(history RunHistory, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := &dto.RunFilter{
			Session: q.Get("session"),
			Status:  q.Get("status"),
			Limit:   min(atoiDefault(q.Get("limit"), defaultRunPageSize), maxRunPageSize),
			Offset:  atoiDefault(q.Get("offset"), 0),
		}
		if filter.Status != "" && filter.Status != model.RunSucceeded && filter.Status != model.RunFailed {
			respondError(w, logger, http.StatusBadRequest, "status must be succeeded or failed")
			return
		}

		list, err := history.ListRuns(filter)
		if err != nil {
			logger.Error("Error querying runs from database: %v", err)
			respondError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		respondJSON(w, logger, http.StatusOK, list)
	}
}

// GetRunHandler returns one run with its per-frame counts.
func GetRunHandler(history RunHistory, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		run, err := history.GetRun(id)
		if errors.Is(err, service.ErrRunNotFound) {
			respondError(w, logger, http.StatusNotFound, "Run not found")
			return
		}
		if err != nil {
			logger.Error("Error loading run %s: %v", id, err)
			respondError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		respondJSON(w, logger, http.StatusOK, run)
	}
}

// ClearRunsHandler deletes the whole run history.
func ClearRunsHandler(history RunHistory, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := history.ClearRuns()
		if err != nil {
			logger.Error("Error clearing runs: %v", err)
			respondError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		respondJSON(w, logger, http.StatusOK, map[string]int64{"deleted": n})
	}
}
