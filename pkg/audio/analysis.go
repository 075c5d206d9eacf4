package audio

import "math"

// Span is a half-open sample range [Start, End).
type Span struct {
	Start, End int
}

// Len returns the number of samples in the span.
func (s Span) Len() int { return s.End - s.Start }

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return peak
}

// RMS returns the root-mean-square level of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Normalize scales samples in place so their peak equals targetPeak. All-zero
// input is left untouched.
func Normalize(samples []float32, targetPeak float32) {
	peak := Peak(samples)
	if peak == 0 {
		return
	}
	scale := targetPeak / peak
	for i := range samples {
		samples[i] *= scale
	}
}

// DetectSilence returns every maximal run of samples whose magnitude is below
// threshold. A run reaching the end of the input is closed at len(samples).
func DetectSilence(samples []float32, threshold float32) []Span {
	var spans []Span
	start := -1
	for i, s := range samples {
		quiet := s < threshold && s > -threshold
		switch {
		case quiet && start < 0:
			start = i
		case !quiet && start >= 0:
			spans = append(spans, Span{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, Span{start, len(samples)})
	}
	return spans
}

// IsSilent reports whether every sample is below threshold in magnitude.
func IsSilent(samples []float32, threshold float32) bool {
	spans := DetectSilence(samples, threshold)
	return len(spans) == 1 && spans[0].Len() == len(samples)
}
