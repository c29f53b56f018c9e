// Package video selects the decoder backend that feeds frames to a run.
package video

import (
	"fmt"

	"headcount/internal/config"
	"headcount/internal/logger"
	"headcount/internal/pipeline"
	"headcount/internal/video/capture"
	"headcount/internal/video/ffmpeg"
)

// NewOpener returns the Opener configured by DECODER_BACKEND.
func NewOpener(cfg *config.Config, logger *logger.Logger) (pipeline.Opener, error) {
	switch cfg.DecoderBackend {
	case "", "gocv":
		return capture.NewOpener(logger), nil
	case "ffmpeg":
		return ffmpeg.NewOpener(logger)
	default:
		return nil, fmt.Errorf("unknown decoder backend %q", cfg.DecoderBackend)
	}
}
