package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(seqFrames func(func(Frame) bool)) []int {
	var idx []int
	for f := range seqFrames {
		idx = append(idx, f.Index)
	}
	return idx
}

func TestSampleStopsAtLimit(t *testing.T) {
	src := &countingSource{total: 200}
	got := collect(Sample(context.Background(), src, 150))

	assert.Len(t, got, 150)
	assert.Equal(t, 0, got[0])
	assert.Equal(t, 149, got[149])
	assert.Equal(t, 150, src.pulled, "no frame past the limit is decoded")
}

func TestSampleShortVideo(t *testing.T) {
	src := &countingSource{total: 10}
	got := collect(Sample(context.Background(), src, 150))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestSampleEmptyVideo(t *testing.T) {
	got := collect(Sample(context.Background(), &countingSource{}, 150))
	assert.Empty(t, got)
}

func TestSampleIsNotRestartable(t *testing.T) {
	src := &countingSource{total: 100}
	seq := Sample(context.Background(), src, 5)

	first := 0
	for range seq {
		first++
		if first == 3 {
			break
		}
	}
	second := collect(seq)

	assert.Equal(t, []int{3, 4}, second)
	assert.Equal(t, 5, src.pulled)
	assert.Empty(t, collect(seq))
}

func TestSampleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &countingSource{total: 100}

	n := 0
	for range Sample(ctx, src, 50) {
		n++
		if n == 4 {
			cancel()
		}
	}
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, src.pulled)
}
