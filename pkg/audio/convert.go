package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ResampleLinear resamples src from srcRate to dstRate into exactly n output
// samples using linear interpolation. Output sample i reads source position
// p = i × srcRate / dstRate and blends floor(p) and ceil(p) by the fractional
// part; both indices are clamped to the last source sample. There is no
// anti-aliasing filter.
func ResampleLinear(src []float32, srcRate, dstRate uint32, n int) []float32 {
	out := make([]float32, n)
	if len(src) == 0 || n == 0 || srcRate == 0 || dstRate == 0 {
		return out
	}
	last := len(src) - 1
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		p := float64(i) * ratio
		lo := math.Floor(p)
		frac := float32(p - lo)
		i0 := min(int(lo), last)
		i1 := min(int(math.Ceil(p)), last)
		out[i] = src[i0]*(1-frac) + src[i1]*frac
	}
	return out
}

// Resample converts src from srcRate to dstRate, producing
// ceil(len(src) × dstRate / srcRate) samples. When the rates match, src is
// returned unchanged.
func Resample(src []float32, srcRate, dstRate uint32) []float32 {
	if srcRate == dstRate || srcRate == 0 || dstRate == 0 || len(src) == 0 {
		return src
	}
	n := int((uint64(len(src))*uint64(dstRate) + uint64(srcRate) - 1) / uint64(srcRate))
	return ResampleLinear(src, srcRate, dstRate, n)
}

// Downmix averages interleaved frames of the given channel count into mono.
// Mono input (or a non-positive channel count) is returned unchanged; a
// trailing partial frame is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	scale := 1 / float32(channels)
	for f := range frames {
		var sum float32
		for _, s := range interleaved[f*channels : (f+1)*channels] {
			sum += s
		}
		out[f] = sum * scale
	}
	return out
}

// Clamp limits s to [-1.0, 1.0].
func Clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// Float32ToInt16 clamps each sample and scales it by 32767, truncating toward
// zero.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(Clamp(s) * math.MaxInt16)
	}
	return out
}

// Int16ToFloat32 is the inverse of [Float32ToInt16].
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples. A trailing
// odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Float32sToBytes serialises samples as little-endian IEEE-754 floats.
func Float32sToBytes(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

// BytesToFloat32s is the inverse of [Float32sToBytes]. It fails when len(b)
// is not a multiple of four.
func BytesToFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("audio: %d bytes is not a whole number of float32 samples", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate uint32, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
