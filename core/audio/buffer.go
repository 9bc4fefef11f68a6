package audio

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Buffer holds planar floating point audio in [-1, 1]: Data[channel][frame].
type Buffer struct {
	SampleRate int
	Data       [][]float64
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	data := make([][]float64, channels)
	for i := range data {
		data[i] = make([]float64, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// FromMono wraps a single channel of samples.
func FromMono(sampleRate int, samples []float64) *Buffer {
	return &Buffer{SampleRate: sampleRate, Data: [][]float64{samples}}
}

// Channels is the number of channels.
func (b *Buffer) Channels() int {
	return len(b.Data)
}

// Frames is the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, ch := range b.Data {
		if len(ch) == 0 {
			continue
		}
		peak = math.Max(peak, math.Max(floats.Max(ch), -floats.Min(ch)))
	}
	return peak
}

// Clipped returns the number of samples outside [-1, 1].
func (b *Buffer) Clipped() int {
	n := 0
	for _, ch := range b.Data {
		for _, v := range ch {
			if v > 1 || v < -1 {
				n++
			}
		}
	}
	return n
}

// IsSilent reports whether every sample is zero.
func (b *Buffer) IsSilent() bool {
	return b.Peak() == 0
}

// Scale multiplies every sample by gain in place.
func (b *Buffer) Scale(gain float64) {
	for _, ch := range b.Data {
		floats.Scale(gain, ch)
	}
}

// Finite reports whether every sample is a finite number.
func (b *Buffer) Finite() bool {
	for _, ch := range b.Data {
		for _, v := range ch {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{SampleRate: b.SampleRate, Data: make([][]float64, len(b.Data))}
	for i, ch := range b.Data {
		out.Data[i] = append([]float64(nil), ch...)
	}
	return out
}

// Conform returns a copy with the given channel count and at least frames
// frames. Missing frames are zero. A mono buffer is copied to every channel;
// otherwise extra channels are silent.
func (b *Buffer) Conform(channels, frames int) *Buffer {
	frames = max(frames, b.Frames())
	out := NewBuffer(b.SampleRate, channels, frames)
	for c := 0; c < channels; c++ {
		switch {
		case c < len(b.Data):
			copy(out.Data[c], b.Data[c])
		case len(b.Data) == 1:
			copy(out.Data[c], b.Data[0])
		}
	}
	return out
}
