package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"headcount/internal/config"
	"headcount/internal/logger"
	"headcount/internal/pipeline"
	"headcount/internal/service/ai/decode"
)

const (
	// ssdInputSize is the square input of the SSD MobileNet COCO network.
	ssdInputSize = 300
	// yoloInputSize is the square input of the exported YOLOv5 network.
	yoloInputSize = 640
)

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("detector is closed")

// DetectorService runs a DNN over RGB frames. It owns a pool of independently
// loaded networks; each Detect call borrows one, so concurrent runs never
// share a gocv.Net.
type DetectorService struct {
	pool      chan *gocv.Net
	nets      []*gocv.Net
	format    string
	labels    decode.Labels
	threshold float64
	nms       float64
	logger    *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDetectorService loads cfg.DetectorPoolSize copies of the network.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	labels, err := loadLabels(cfg)
	if err != nil {
		return nil, err
	}

	size := cfg.DetectorPoolSize
	if size <= 0 {
		size = 1
	}
	s := &DetectorService{
		pool:      make(chan *gocv.Net, size),
		format:    cfg.ModelFormat,
		labels:    labels,
		threshold: cfg.ConfidenceThreshold,
		nms:       cfg.NMSThreshold,
		logger:    logger,
		closed:    make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		net, err := initializeNet(cfg.ModelPath, cfg.ConfigPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("network %d: %w", i, err)
		}
		s.nets = append(s.nets, net)
		s.pool <- net
	}

	s.logger.Info("Detection network initialized successfully (%s, %d instances, %d labels)", s.format, size, labels.Len())
	return s, nil
}

func loadLabels(cfg *config.Config) (decode.Labels, error) {
	if cfg.LabelsPath != "" {
		return decode.LoadLabels(cfg.LabelsPath)
	}
	if cfg.ModelFormat == "yolov5" {
		return decode.COCO80(), nil
	}
	return decode.COCO91(), nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func initializeNet(modelPath, configPath string) (*gocv.Net, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network")
	}
	if err := multierr.Combine(
		net.SetPreferableBackend(gocv.NetBackendDefault),
		net.SetPreferableTarget(gocv.NetTargetCPU),
	); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target: %w", err)
	}
	return &net, nil
}

// Detect runs the network on one frame. It blocks until a network is free or
// ctx is done.
func (s *DetectorService) Detect(ctx context.Context, frame pipeline.Frame) ([]pipeline.Detection, error) {
	if len(frame.Pix) != frame.Width*frame.Height*3 || frame.Width == 0 {
		return nil, fmt.Errorf("frame %d has %d bytes for %dx%d", frame.Index, len(frame.Pix), frame.Width, frame.Height)
	}

	var net *gocv.Net
	select {
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case net = <-s.pool:
	}
	defer func() { s.pool <- net }()

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	switch s.format {
	case "yolov5":
		return s.detectYOLO(net, mat)
	default:
		return s.detectSSD(net, mat)
	}
}

func (s *DetectorService) detectSSD(net *gocv.Net, mat gocv.Mat) ([]pipeline.Detection, error) {
	// Frames are already RGB, so no channel swap.
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(ssdInputSize, ssdInputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	net.SetInput(blob, "")
	output := net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}
	return decode.SSD(data, mat.Cols(), mat.Rows(), s.threshold, s.labels), nil
}

func (s *DetectorService) detectYOLO(net *gocv.Net, mat gocv.Mat) ([]pipeline.Detection, error) {
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	net.SetInput(blob, "")
	output := net.Forward("")
	defer output.Close()

	// Output is [1, boxes, 5+classes].
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected YOLO output shape %v", sizes)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	cands := decode.YOLO(data, sizes[2], yoloInputSize, mat.Cols(), mat.Rows(), float32(s.threshold))
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.Box
		scores[i] = c.Score
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(s.threshold), float32(s.nms))
	dets := make([]pipeline.Detection, 0, len(keep))
	for _, i := range keep {
		c := cands[i]
		dets = append(dets, pipeline.Detection{
			Label:      s.labels.Name(c.ClassID),
			Confidence: float64(c.Score),
			Box:        c.Box,
		})
	}
	return dets, nil
}

// Close releases every network, waiting for runs still holding one to finish
// their frame.
func (s *DetectorService) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		for range s.nets {
			net := <-s.pool
			err = multierr.Append(err, net.Close())
		}
		s.logger.Info("Detection networks released")
	})
	return err
}
