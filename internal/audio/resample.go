// Package audio holds the sample-domain building blocks of the capture
// pipeline: resampling, bounded backlogs, mixing, PCM decoding and levels.
package audio

import "math"

const (
	// SampleRate is the rate every source is converted to before mixing
	SampleRate = 16000
	// ChunkFrames is the mixer chunk size (20 ms at SampleRate)
	ChunkFrames = 320
	// MaxDrainChunks bounds how many queued chunks one poll may discard
	MaxDrainChunks = 32
	// MaxBacklogMs is the tolerated per-source backlog before oldest frames are dropped
	MaxBacklogMs = 1200
	// MaxBacklogFrames is MaxBacklogMs expressed in frames at SampleRate
	MaxBacklogFrames = SampleRate * MaxBacklogMs / 1000
)

// Resample converts mono samples from one rate to another using linear
// interpolation. Each call is independent; no phase is carried between chunks.
func Resample(input []int16, fromRate, toRate int) []int16 {
	if len(input) == 0 {
		return []int16{}
	}
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		out := make([]int16, len(input))
		copy(out, input)
		return out
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(math.Max(math.Round(float64(len(input))*ratio), 1))
	out := make([]int16, outLen)
	last := len(input) - 1

	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx > last {
			idx = last
		}
		next := idx + 1
		if next > last {
			next = last
		}
		frac := pos - float64(idx)
		a := float64(input[idx])
		b := float64(input[next])
		out[i] = clamp16(math.Round(a + (b-a)*frac))
	}
	return out
}

// FramesToMs converts a frame count at SampleRate to milliseconds
func FramesToMs(frames int) int {
	return frames * 1000 / SampleRate
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
