package decode

import (
	"image"

	"headcount/internal/pipeline"
)

// SSDRowSize is the width of one SSD detection row:
// [batch_id, class_id, confidence, x1, y1, x2, y2].
const SSDRowSize = 7

// SSD decodes SSD output with box corners normalized to [0,1]. Rows below
// threshold are dropped and boxes are scaled to width x height.
func SSD(out []float32, width, height int, threshold float64, labels Labels) []pipeline.Detection {
	var dets []pipeline.Detection
	for i := 0; i+SSDRowSize <= len(out); i += SSDRowSize {
		row := out[i : i+SSDRowSize]
		confidence := float64(row[2])
		if confidence <= threshold {
			continue
		}
		box := image.Rect(
			int(row[3]*float32(width)),
			int(row[4]*float32(height)),
			int(row[5]*float32(width)),
			int(row[6]*float32(height)),
		).Intersect(image.Rect(0, 0, width, height))

		dets = append(dets, pipeline.Detection{
			Label:      labels.Name(int(row[1])),
			Confidence: confidence,
			Box:        box,
		})
	}
	return dets
}
