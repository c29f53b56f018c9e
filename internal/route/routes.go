package route

import (
	"net/http"

	"headcount/internal/config"
	"headcount/internal/handler"
	"headcount/internal/logger"
	"headcount/internal/middleware"
)

// Services are the collaborators the routes are wired to.
type Services struct {
	Analyzer      handler.Analyzer
	History       handler.RunHistory
	Hub           handler.Hub
	ActiveUploads func() int
}

// SetupRoutes registers the upload endpoint, run history, live events, log
// endpoints and health, and wraps the mux with logging and panic recovery.
func SetupRoutes(svc Services, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Upload endpoint; method is checked by the handler so the error stays JSON.
	mux.HandleFunc("/process_video", handler.AnalyzeVideoHandler(svc.Analyzer, cfg, logger))

	// API endpoints
	mux.HandleFunc("GET /api/runs", handler.ListRunsHandler(svc.History, logger))
	mux.HandleFunc("DELETE /api/runs", handler.ClearRunsHandler(svc.History, logger))
	mux.HandleFunc("GET /api/runs/{id}", handler.GetRunHandler(svc.History, logger))
	if svc.Hub != nil {
		mux.HandleFunc("GET /api/events", handler.EventsWebsocketHandler(svc.Hub, logger))
	}

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(cfg.LogDirectory))
	mux.HandleFunc("/logs/{level}/clear", handler.ClearLogsHandler(logger))

	active := svc.ActiveUploads
	if active == nil {
		active = func() int { return 0 }
	}
	mux.HandleFunc("GET /healthz", handler.HealthHandler(active, logger))

	return middleware.Recover(logger, middleware.RequestLogger(logger, mux))
}
