package pipeline

import "iter"

// CountLabel returns how many detections carry exactly label.
func CountLabel(dets []Detection, label string) int {
	n := 0
	for _, d := range dets {
		if d.Label == label {
			n++
		}
	}
	return n
}

// Aggregator keeps the running maximum of per-frame label counts.
type Aggregator struct {
	label   string
	outcome Outcome
}

// NewAggregator returns an Aggregator counting label.
func NewAggregator(label string) *Aggregator {
	return &Aggregator{label: label, outcome: Outcome{PeakFrame: -1}}
}

// Observe folds the next frame's detections into the aggregate and returns
// the frame's count. The frame's index is its position in the sequence.
func (a *Aggregator) Observe(dets []Detection) int {
	return a.ObserveFrame(a.outcome.FramesExamined, dets)
}

// ObserveFrame is Observe for a frame whose decode index is known.
func (a *Aggregator) ObserveFrame(index int, dets []Detection) int {
	count := CountLabel(dets, a.label)
	first := a.outcome.FramesExamined == 0
	a.outcome.FramesExamined++
	if first || count > a.outcome.MaxCount {
		a.outcome.MaxCount = count
		a.outcome.PeakFrame = index
	}
	return count
}

// Outcome returns the aggregate so far.
func (a *Aggregator) Outcome() Outcome {
	return a.outcome
}

// Reduce drains seq and returns the maximum per-frame count of label.
// An empty sequence yields a zero Outcome with PeakFrame -1.
func Reduce(seq iter.Seq[[]Detection], label string) Outcome {
	agg := NewAggregator(label)
	for dets := range seq {
		agg.Observe(dets)
	}
	return agg.Outcome()
}
