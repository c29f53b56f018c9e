package decode

import (
	"image"
)

// Candidate is a YOLO box before non-maximum suppression.
type Candidate struct {
	Box     image.Rectangle
	Score   float32
	ClassID int
}

// YOLO decodes YOLOv5 output rows of [cx, cy, w, h, objectness, class scores...]
// in input-pixel units. inputSize is the square network input; boxes are
// scaled back to width x height. Candidates scoring at or below threshold are
// dropped.
func YOLO(out []float32, rowSize, inputSize, width, height int, threshold float32) []Candidate {
	if rowSize <= 5 {
		return nil
	}
	sx := float32(width) / float32(inputSize)
	sy := float32(height) / float32(inputSize)

	var cands []Candidate
	for i := 0; i+rowSize <= len(out); i += rowSize {
		row := out[i : i+rowSize]
		objectness := row[4]
		if objectness <= threshold {
			continue
		}

		classID, best := 0, row[5]
		for c, s := range row[6:] {
			if s > best {
				classID, best = c+1, s
			}
		}
		score := objectness * best
		if score <= threshold {
			continue
		}

		cx, cy, w, h := row[0]*sx, row[1]*sy, row[2]*sx, row[3]*sy
		left, top := int(cx-w/2), int(cy-h/2)
		cands = append(cands, Candidate{
			Box:     image.Rect(left, top, left+int(w), top+int(h)),
			Score:   score,
			ClassID: classID,
		})
	}
	return cands
}
