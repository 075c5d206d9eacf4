package audio

import "time"

// Block is one callback's worth of captured audio travelling from a capture
// backend to the buffer and any live listeners.
type Block struct {
	// Samples holds interleaved float32 PCM. Owned by the block; producers
	// copy out of device memory before publishing.
	Samples []float32

	// Channels is the interleave factor of Samples (1 for mono).
	Channels int

	// SampleRate in Hz.
	SampleRate uint32

	// Captured is when the callback delivered the block.
	Captured time.Time
}

// Frames returns the number of sample frames in the block.
func (b Block) Frames() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// String describes the block's format, e.g. "48000Hz stereo".
func (b Block) String() string {
	return formatString(b.SampleRate, b.Channels)
}

// MonoAt returns the block downmixed to mono and resampled to rate. A block
// that is already mono at rate is returned without copying.
func (b Block) MonoAt(rate uint32) []float32 {
	mono := Downmix(b.Samples, b.Channels)
	if b.SampleRate == rate || b.SampleRate == 0 {
		return mono
	}
	return Resample(mono, b.SampleRate, rate)
}
