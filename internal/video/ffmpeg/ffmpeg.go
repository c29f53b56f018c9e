// Package ffmpeg decodes video files by piping raw RGB frames out of an
// ffmpeg process.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"headcount/internal/logger"
	"headcount/internal/pipeline"
)

// probeTimeout bounds ffprobe when the caller set no deadline.
const probeTimeout = 30 * time.Second

// Opener starts one ffmpeg process per opened video.
type Opener struct {
	logger *logger.Logger
}

// NewOpener fails when ffmpeg or ffprobe is not on the PATH.
func NewOpener(logger *logger.Logger) (*Opener, error) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return &Opener{logger: logger}, nil
}

// Open probes path for its video geometry and starts decoding.
// Frames keep the coded geometry: ffmpeg's autorotation is disabled so the
// byte layout always matches the probed width and height.
func (o *Opener) Open(ctx context.Context, path string) (pipeline.FrameSource, error) {
	timeout, err := probeBudget(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	raw, err := ffmpeg.ProbeWithTimeout(path, timeout, ffmpeg.KwArgs{})
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}
	info, err := parseProbe(raw)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Probed %s: %dx%d %s rotation %d", path, info.Width, info.Height, info.Codec, info.Rotation)

	procCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	src := newSource(info.Width, info.Height, pr, cancel, o.logger)

	go func() {
		defer close(src.done)
		stream := ffmpeg.Input(path, ffmpeg.KwArgs{"noautorotate": ""}).
			Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24", "loglevel": "error"}).
			WithOutput(pw).
			WithErrorOutput(&src.stderr)
		stream.Context = procCtx
		src.runErr = stream.Run()
		pw.CloseWithError(io.EOF)
	}()

	return src, nil
}

// probeBudget is the time ffprobe may take: what is left of ctx's deadline,
// or probeTimeout without one.
func probeBudget(ctx context.Context, now time.Time) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return probeTimeout, nil
	}
	left := deadline.Sub(now)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return left, nil
}

func newSource(width, height int, reader *io.PipeReader, cancel context.CancelFunc, logger *logger.Logger) *source {
	return &source{
		width:  width,
		height: height,
		reader: reader,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
}

type source struct {
	width, height int
	index         int

	reader *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	stderr bytes.Buffer
	runErr error
	logger *logger.Logger

	mu     sync.Mutex
	closed bool
}

func (s *source) Next() (pipeline.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pipeline.Frame{}, false
	}

	pix := make([]byte, s.width*s.height*3)
	if _, err := io.ReadFull(s.reader, pix); err != nil {
		// A short read is a truncated last frame; drop it.
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.logger.Warning("ffmpeg read failed after %d frames: %v", s.index, err)
		}
		return pipeline.Frame{}, false
	}

	frame := pipeline.Frame{Index: s.index, Width: s.width, Height: s.height, Pix: pix}
	s.index++
	return frame, true
}

// Close stops the ffmpeg process and waits for it to exit.
func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()
	_ = s.reader.Close()
	<-s.done

	if s.runErr != nil && s.stderr.Len() > 0 {
		s.logger.Debug("ffmpeg exited: %v: %s", s.runErr, bytes.TrimSpace(s.stderr.Bytes()))
	}
	return nil
}
