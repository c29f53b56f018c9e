package decode

import (
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCOCOLabels(t *testing.T) {
	yolo := COCO80()
	assert.Equal(t, 80, yolo.Len())
	assert.Equal(t, "person", yolo.Name(0))
	assert.Equal(t, "dog", yolo.Name(16))
	assert.Equal(t, "toothbrush", yolo.Name(79))

	ssd := COCO91()
	assert.Equal(t, "person", ssd.Name(1))
	assert.Equal(t, "stop sign", ssd.Name(13))
	assert.Equal(t, "dog", ssd.Name(18))
	assert.Equal(t, "toothbrush", ssd.Name(90))
	assert.Equal(t, "unknown12", ssd.Name(12))
	assert.Equal(t, "unknown200", ssd.Name(200))
}

func TestParseLabels(t *testing.T) {
	l, err := ParseLabels(strings.NewReader("background\nosoba\n\nrower\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, "osoba", l.Name(1))
	assert.Equal(t, "unknown2", l.Name(2))

	_, err = ParseLabels(strings.NewReader("\n\n"))
	assert.Error(t, err)
}

func TestSSD(t *testing.T) {
	out := []float32{
		0, 1, 0.9, 0.1, 0.2, 0.5, 0.6, // person
		0, 18, 0.7, 0.0, 0.0, 1.2, 1.0, // dog, box overflows the frame
		0, 1, 0.3, 0.1, 0.1, 0.2, 0.2, // below threshold
		0, 1, // truncated row is ignored
	}

	dets := SSD(out, 200, 100, 0.5, COCO91())
	require.Len(t, dets, 2)

	assert.Equal(t, "person", dets[0].Label)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, image.Rect(20, 20, 100, 60), dets[0].Box)

	assert.Equal(t, "dog", dets[1].Label)
	assert.Equal(t, image.Rect(0, 0, 200, 100), dets[1].Box)
}

func TestYOLO(t *testing.T) {
	// rowSize 7: box(4) + objectness + 2 classes
	out := []float32{
		320, 320, 64, 128, 0.9, 0.8, 0.1, // class 0, score 0.72
		100, 100, 20, 20, 0.9, 0.1, 0.9, // class 1, score 0.81
		100, 100, 20, 20, 0.2, 0.9, 0.9, // low objectness
		100, 100, 20, 20, 0.6, 0.5, 0.5, // score 0.3
	}

	cands := YOLO(out, 7, 640, 1280, 640, 0.5)
	require.Len(t, cands, 2)

	assert.Equal(t, 0, cands[0].ClassID)
	assert.InDelta(t, 0.72, cands[0].Score, 1e-6)
	assert.Equal(t, image.Rect(576, 256, 704, 384), cands[0].Box)

	assert.Equal(t, 1, cands[1].ClassID)
	assert.InDelta(t, 0.81, cands[1].Score, 1e-6)

	assert.Nil(t, YOLO(out, 5, 640, 1, 1, 0.5))
}
