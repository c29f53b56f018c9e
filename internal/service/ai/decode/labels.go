// Package decode turns raw network output into labeled detections.
package decode

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed coco.names
var cocoNames string

// Labels maps a network class id to a label.
type Labels struct {
	names []string
}

// skippedCOCOIDs are the ids the 91-id COCO scheme leaves unused.
var skippedCOCOIDs = map[int]bool{12: true, 26: true, 29: true, 30: true, 45: true, 66: true, 68: true, 69: true, 71: true, 83: true}

// COCO80 indexes the 80 COCO classes from 0, as YOLO models emit them.
func COCO80() Labels {
	l, _ := ParseLabels(strings.NewReader(cocoNames))
	return l
}

// COCO91 indexes COCO classes by their original ids (1 = person), as the
// TensorFlow SSD models emit them. Id 0 is the background class.
func COCO91() Labels {
	base := COCO80().names
	names := make([]string, 0, 91)
	names = append(names, "background")
	for id, next := 1, 0; next < len(base); id++ {
		if skippedCOCOIDs[id] {
			names = append(names, "")
			continue
		}
		names = append(names, base[next])
		next++
	}
	return Labels{names: names}
}

// ParseLabels reads one label per line. Blank lines keep their id unused.
func ParseLabels(r io.Reader) (Labels, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		names = append(names, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return Labels{}, fmt.Errorf("failed to read labels: %w", err)
	}
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return Labels{}, fmt.Errorf("label list is empty")
	}
	return Labels{names: names}, nil
}

// LoadLabels reads a label file.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return Labels{}, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()
	return ParseLabels(f)
}

// Name returns the label for id, or "unknown<id>".
func (l Labels) Name(id int) string {
	if id >= 0 && id < len(l.names) && l.names[id] != "" {
		return l.names[id]
	}
	return fmt.Sprintf("unknown%d", id)
}

// Len is the number of ids covered.
func (l Labels) Len() int {
	return len(l.names)
}
