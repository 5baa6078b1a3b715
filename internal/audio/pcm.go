package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat is the encoding of interleaved device frames
type SampleFormat int

const (
	FormatU8 SampleFormat = iota + 1
	FormatS16
	FormatS24
	FormatS32
	FormatF32
)

// BytesPerSample returns the width of one sample in the format
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32, FormatF32:
		return 4
	}
	return 0
}

func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	}
	return "unknown"
}

// EncodeLE serializes samples as little-endian 16-bit PCM
func EncodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeLE parses little-endian 16-bit PCM. A trailing odd byte is ignored.
func DecodeLE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// PCMAssembler turns arbitrarily split byte reads into whole 16-bit samples,
// carrying an odd trailing byte into the next write.
type PCMAssembler struct {
	pending    byte
	hasPending bool
}

// Write returns the complete samples available after appending data
func (a *PCMAssembler) Write(data []byte) []int16 {
	if len(data) == 0 {
		return nil
	}
	if a.hasPending {
		buf := make([]byte, 0, len(data)+1)
		buf = append(buf, a.pending)
		buf = append(buf, data...)
		data = buf
		a.hasPending = false
	}
	if len(data)%2 == 1 {
		a.pending = data[len(data)-1]
		a.hasPending = true
		data = data[:len(data)-1]
	}
	return DecodeLE(data)
}

// Pending reports whether half a sample is being held
func (a *PCMAssembler) Pending() bool {
	return a.hasPending
}

// DecodeInterleaved converts interleaved device frames to mono int16 by
// averaging the channels of each frame. Incomplete trailing frames are dropped.
func DecodeInterleaved(data []byte, format SampleFormat, channels int) ([]int16, error) {
	width := format.BytesPerSample()
	if width == 0 {
		return nil, fmt.Errorf("unsupported sample format %d", format)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	frameBytes := width * channels
	frames := len(data) / frameBytes
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		base := i * frameBytes
		for c := 0; c < channels; c++ {
			sum += sampleAt(data[base+c*width:], format)
		}
		out[i] = clamp16(math.Round(sum / float64(channels)))
	}
	return out, nil
}

// sampleAt returns one sample scaled to the int16 range
func sampleAt(b []byte, format SampleFormat) float64 {
	switch format {
	case FormatU8:
		return float64(int(b[0])-128) * 256
	case FormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case FormatS24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float64(v) / 256
	case FormatS32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 65536
	case FormatF32:
		f := float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		return f * math.MaxInt16
	}
	return 0
}
