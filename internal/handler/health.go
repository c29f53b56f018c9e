package handler

import (
	"net/http"

	"headcount/internal/logger"
)

// HealthHandler reports liveness and the number of runs in flight.
func HealthHandler(active func() int, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, logger, http.StatusOK, map[string]any{
			"status":         "ok",
			"active_uploads": active(),
		})
	}
}
