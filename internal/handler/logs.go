package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"headcount/internal/logger"
)

// ShowLogsHandler serves the log file of the {level} path segment as text/plain.
func ShowLogsHandler(logDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, ok := logger.Files[r.PathValue("level")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		serveLogFile(w, r, logDir, file)
	}
}

// serveLogFile is a helper that sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}

// ClearLogsHandler truncates the log file of the {level} path segment.
func ClearLogsHandler(log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := r.PathValue("level")
		if _, ok := logger.Files[level]; !ok {
			http.NotFound(w, r)
			return
		}
		if err := log.CleanLogs(level); err != nil {
			log.Error("Error clearing %s log: %v", level, err)
			respondError(w, log, http.StatusInternalServerError, "Could not clear log")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
