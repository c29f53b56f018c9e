package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"headcount/internal/dto"
	"headcount/internal/logger"
)

// respondJSON writes v as JSON with the given status code.
func respondJSON(w http.ResponseWriter, logger *logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

// respondError writes {"error": msg}.
func respondError(w http.ResponseWriter, logger *logger.Logger, status int, msg string) {
	respondJSON(w, logger, status, dto.ErrorResponse{Error: msg})
}

// atoiDefault parses a positive integer or returns def.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
