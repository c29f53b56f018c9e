package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"headcount/internal/config"
	"headcount/internal/dto"
	"headcount/internal/logger"
	"headcount/internal/model"
	"headcount/internal/pipeline"
	"headcount/internal/service"
)

const videoField = "video"

// Analyzer runs one upload through the pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, req service.AnalyzeRequest) (*model.Run, error)
}

// AnalyzeVideoHandler accepts a multipart upload in the "video" field and
// responds with the largest per-frame count of the requested label.
func AnalyzeVideoHandler(analyzer Analyzer, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	maxUpload := cfg.MaxUploadBytes()
	memory := cfg.MultipartMemoryBytes()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			respondError(w, logger, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if maxUpload > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		}
		if err := r.ParseMultipartForm(memory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
				respondError(w, logger, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("Upload exceeds the maximum size of %s", units.HumanSize(float64(maxUpload))))
				return
			}
			logger.Warning("Error parsing upload: %v", err)
			respondError(w, logger, http.StatusBadRequest, "No video file part in the request")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile(videoField)
		if err != nil {
			// A part without a filename is parsed as a plain value.
			if _, ok := r.MultipartForm.Value[videoField]; ok {
				respondError(w, logger, http.StatusBadRequest, "No file selected")
				return
			}
			respondError(w, logger, http.StatusBadRequest, "No video file part in the request")
			return
		}
		defer file.Close()

		req := service.AnalyzeRequest{
			Body:     file,
			Filename: filepath.Base(header.Filename),
			Size:     header.Size,
			Session:  strings.TrimSpace(r.FormValue("session")),
			Label:    strings.TrimSpace(r.FormValue("label")),
		}
		if raw := strings.TrimSpace(r.FormValue("frame_limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > cfg.MaxFrameLimit {
				respondError(w, logger, http.StatusBadRequest,
					fmt.Sprintf("frame_limit must be an integer between 1 and %d", cfg.MaxFrameLimit))
				return
			}
			req.FrameLimit = n
		}

		run, err := analyzer.Analyze(r.Context(), req)
		if err != nil {
			status, msg := describeFailure(err)
			if status >= http.StatusInternalServerError {
				logger.Error("Error processing %s: %v", req.Filename, err)
			}
			respondError(w, logger, status, msg)
			return
		}

		respondJSON(w, logger, http.StatusOK, dto.AnalyzeResponse{
			FaceCount:      run.MaxCount,
			FramesExamined: run.FramesExamined,
			RunID:          run.ID,
		})
	}
}

// describeFailure maps a run error to a status code and a client message.
func describeFailure(err error) (int, string) {
	switch pipeline.KindOf(err) {
	case pipeline.KindBadRequest:
		if errors.Is(err, pipeline.ErrEmptyUpload) {
			return http.StatusBadRequest, "Uploaded video is empty"
		}
		return http.StatusBadRequest, "Invalid request"
	case pipeline.KindOpen:
		return http.StatusInternalServerError, "Could not open video file"
	case pipeline.KindBusy:
		return http.StatusServiceUnavailable, "Server is busy, try again later"
	case pipeline.KindCanceled:
		return http.StatusServiceUnavailable, "Request was canceled"
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout, "Processing timed out"
	default:
		return http.StatusInternalServerError, "An internal server error occurred during processing"
	}
}
