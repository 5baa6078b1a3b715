package audio

import "math"

// Mix pops one chunk from a and b and returns the per-sample average.
// The chunk holds min(max(a.Len(), b.Len()), chunkFrames) frames and an
// exhausted side contributes silence. It returns nil when both are empty.
func Mix(a, b *Backlog, chunkFrames int) []int16 {
	available := a.Len()
	if b.Len() > available {
		available = b.Len()
	}
	if available == 0 {
		return nil
	}

	frames := available
	if chunkFrames > 0 && frames > chunkFrames {
		frames = chunkFrames
	}
	if frames < 1 {
		frames = 1
	}

	out := make([]int16, frames)
	for i := range out {
		x, _ := a.PopFront()
		y, _ := b.PopFront()
		out[i] = mixSample(x, y)
	}
	return out
}

func mixSample(a, b int16) int16 {
	v := (int32(a) + int32(b)) / 2
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
