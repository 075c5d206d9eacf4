// Package audio holds the in-memory audio model of lifelogger: the rolling
// [SampleBuffer] of mono float32 samples, the [Shared] handle through which
// every goroutine reaches it, and the PCM helpers (resampling, format
// conversion, downmixing, level analysis) used around it.
//
// Samples are normalised floats in [-1.0, 1.0]; 0.0 is silence. Values outside
// the range are kept as-is and clamped only when encoded.
//
// This package lives under pkg/ because codecs and capture backends outside
// this module are expected to produce and consume these types.
package audio

import (
	"math"
	"time"
)

// SampleBuffer is a fixed-capacity ring of mono float32 samples. It always
// holds the most recent Capacity() samples written (silence before that many
// have arrived) and reads return them oldest first.
//
// SampleBuffer is not safe for concurrent use; share it through [Shared].
type SampleBuffer struct {
	storage    []float32
	cursor     int
	sampleRate uint32
}

// NewSampleBuffer returns a silent buffer holding capacity samples recorded at
// sampleRate. Both values are raised to 1 if smaller.
func NewSampleBuffer(capacity int, sampleRate uint32) *SampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if sampleRate < 1 {
		sampleRate = 1
	}
	return &SampleBuffer{
		storage:    make([]float32, capacity),
		sampleRate: sampleRate,
	}
}

// NewSampleBufferForDuration sizes a buffer to hold d of audio at sampleRate.
func NewSampleBufferForDuration(d time.Duration, sampleRate uint32) *SampleBuffer {
	return NewSampleBuffer(samplesFor(d, sampleRate, math.MaxInt), sampleRate)
}

// Capacity returns the number of samples the buffer retains.
func (b *SampleBuffer) Capacity() int { return len(b.storage) }

// SampleRate returns the rate of the samples currently held, in Hz.
func (b *SampleBuffer) SampleRate() uint32 { return b.sampleRate }

// Duration returns how much audio the buffer retains at its current rate.
func (b *SampleBuffer) Duration() time.Duration {
	return time.Duration(float64(len(b.storage)) / float64(b.sampleRate) * float64(time.Second))
}

// Write appends samples at the write cursor, overwriting the oldest data. A
// block longer than the capacity leaves only its last Capacity() samples.
func (b *SampleBuffer) Write(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}
	c := len(b.storage)
	pos := b.cursor
	if n > c {
		pos = (pos + n - c) % c
		samples = samples[n-c:]
	}
	k := copy(b.storage[pos:], samples)
	copy(b.storage, samples[k:])
	b.cursor = (pos + len(samples)) % c
}

// Read returns the most recent floor(d × rate) samples, capped at the
// capacity, oldest first. A non-positive d returns an empty slice.
func (b *SampleBuffer) Read(d time.Duration) []float32 {
	return b.tail(samplesFor(d, b.sampleRate, len(b.storage)))
}

// ReadAll returns the whole buffer, oldest sample first.
func (b *SampleBuffer) ReadAll() []float32 {
	return b.tail(len(b.storage))
}

// UpdateSampleRate re-expresses the buffer at newRate. The retained duration
// is preserved: the capacity becomes ceil(capacity × newRate / oldRate) and
// the contents are resampled with [ResampleLinear]. The write cursor ends up
// just past the rewritten region. Equal or zero rates are ignored.
func (b *SampleBuffer) UpdateSampleRate(newRate uint32) {
	if newRate == 0 || newRate == b.sampleRate {
		return
	}
	oldCap := uint64(len(b.storage))
	oldRate := uint64(b.sampleRate)
	newCap := int((oldCap*uint64(newRate) + oldRate - 1) / oldRate)
	if newCap < 1 {
		newCap = 1
	}

	b.storage = ResampleLinear(b.ReadAll(), b.sampleRate, newRate, newCap)
	b.cursor = 0
	b.sampleRate = newRate
}

// tail copies out the newest n samples in chronological order.
func (b *SampleBuffer) tail(n int) []float32 {
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	c := len(b.storage)
	start := (b.cursor + c - n) % c
	k := copy(out, b.storage[start:])
	if k < n {
		copy(out[k:], b.storage[:n-k])
	}
	return out
}

// samplesFor converts a duration into a sample count at rate, rounding down
// and capping at limit.
func samplesFor(d time.Duration, rate uint32, limit int) int {
	if d <= 0 {
		return 0
	}
	exact := d.Seconds() * float64(rate)
	if exact >= float64(limit) {
		return limit
	}
	if exact >= 1e12 {
		return int(exact)
	}
	// Whole seconds and the nanosecond remainder are scaled separately so the
	// floor stays exact without overflowing int64.
	secs, rem := int64(d/time.Second), int64(d%time.Second)
	return int(secs*int64(rate) + rem*int64(rate)/int64(time.Second))
}
