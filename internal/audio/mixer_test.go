package audio

import (
	"math"
	"math/rand"
	"testing"
)

func TestMixSilence(t *testing.T) {
	a, b := NewBacklog(0), NewBacklog(0)
	a.Append(make([]int16, ChunkFrames))
	b.Append(make([]int16, ChunkFrames))

	out := Mix(a, b, ChunkFrames)
	if len(out) != ChunkFrames {
		t.Fatalf("Expected %d samples, got %d", ChunkFrames, len(out))
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("Sample %d: expected 0, got %d", i, s)
		}
	}
}

func TestMixBothEmpty(t *testing.T) {
	if out := Mix(NewBacklog(0), NewBacklog(0), ChunkFrames); out != nil {
		t.Errorf("Expected nil, got %d samples", len(out))
	}
}

func TestMixSubstitutesSilenceForExhaustedSide(t *testing.T) {
	a, b := NewBacklog(0), NewBacklog(0)
	a.Append([]int16{100, 200, 300})
	b.Append([]int16{100})

	out := Mix(a, b, ChunkFrames)
	want := []int16{100, 100, 150}
	if len(out) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
	if a.Len() != 0 || b.Len() != 0 {
		t.Errorf("Expected both backlogs drained, got %d and %d", a.Len(), b.Len())
	}
}

func TestMixCapsAtChunkSize(t *testing.T) {
	a, b := NewBacklog(0), NewBacklog(0)
	a.Append(make([]int16, 1000))

	out := Mix(a, b, ChunkFrames)
	if len(out) != ChunkFrames {
		t.Errorf("Expected %d samples, got %d", ChunkFrames, len(out))
	}
	if a.Len() != 1000-ChunkFrames {
		t.Errorf("Expected %d frames left, got %d", 1000-ChunkFrames, a.Len())
	}
}

func TestMixStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a, b := NewBacklog(0), NewBacklog(0)
	extremes := []int16{math.MaxInt16, math.MinInt16}
	for i := 0; i < 4000; i++ {
		var x, y int16
		if i%3 == 0 {
			x, y = extremes[i%2], extremes[i%2]
		} else {
			x, y = int16(rng.Intn(1<<16)-1<<15), int16(rng.Intn(1<<16)-1<<15)
		}
		a.Append([]int16{x})
		b.Append([]int16{y})
	}

	for {
		out := Mix(a, b, ChunkFrames)
		if out == nil {
			break
		}
		for _, s := range out {
			if int32(s) > math.MaxInt16 || int32(s) < math.MinInt16 {
				t.Fatalf("Sample %d out of range", s)
			}
		}
	}
}

func TestMixSampleExtremes(t *testing.T) {
	if got := mixSample(math.MaxInt16, math.MaxInt16); got != math.MaxInt16 {
		t.Errorf("Expected %d, got %d", math.MaxInt16, got)
	}
	if got := mixSample(math.MinInt16, math.MinInt16); got != math.MinInt16 {
		t.Errorf("Expected %d, got %d", math.MinInt16, got)
	}
	if got := mixSample(math.MaxInt16, math.MinInt16); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}
