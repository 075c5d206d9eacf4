// Package codec defines the Codec interface that turns buffered float32
// samples into a deliverable byte stream and back.
//
// A codec is identified by a stable name, a MIME type and a file extension,
// and is either lossy or lossless. Concrete codecs live in subpackages (wav,
// pcm, opus, flac) and are collected into a [Registry] at startup.
//
// Implementations must be safe for concurrent use: HTTP handlers, MCP tools and
// the archiver may encode with the same instance at the same time.
package codec

import (
	"fmt"
	"math"
	"time"
)

// Kind tells whether a codec discards information.
type Kind int

const (
	// Lossless codecs decode back to the input within quantisation error.
	Lossless Kind = iota
	// Lossy codecs trade fidelity for size.
	Lossy
)

// String returns "lossless" or "lossy".
func (k Kind) String() string {
	if k == Lossy {
		return "lossy"
	}
	return "lossless"
}

// Codec encodes mono float32 samples into a container format and back.
type Codec interface {
	// Name is the stable identifier used in URLs and config, e.g. "wav".
	Name() string

	// MimeType is sent as Content-Type, e.g. "audio/wav".
	MimeType() string

	// Extension is the file extension without the dot.
	Extension() string

	// Kind reports whether the codec is lossy or lossless.
	Kind() Kind

	// Encode serialises samples recorded at sampleRate. Samples outside
	// [-1, 1] are clamped.
	Encode(samples []float32, sampleRate uint32) ([]byte, error)

	// Decode parses data back into samples at sampleRate. Codecs that store
	// the rate in the stream may resample to honour sampleRate.
	Decode(data []byte, sampleRate uint32) ([]float32, error)
}

// TargetBitrate is implemented by lossy codecs with a fixed bitrate goal.
type TargetBitrate interface {
	// Bitrate returns the encoder target in bits per second.
	Bitrate() int
}

// IsLossy reports whether c discards information.
func IsLossy(c Codec) bool { return c.Kind() == Lossy }

// IsLossless reports whether c preserves samples within quantisation error.
func IsLossless(c Codec) bool { return c.Kind() == Lossless }

// ContentDisposition returns the attachment header value for a download
// encoded with c.
func ContentDisposition(c Codec) string {
	return fmt.Sprintf("attachment; filename=\"audio.%s\"", c.Extension())
}

// CompressionRatio encodes samples and returns the raw float32 size divided
// by the encoded size.
func CompressionRatio(c Codec, samples []float32, sampleRate uint32) (float64, error) {
	enc, err := c.Encode(samples, sampleRate)
	if err != nil {
		return 0, err
	}
	return ratio(len(samples), len(enc)), nil
}

func ratio(n, encoded int) float64 {
	if encoded == 0 {
		return 0
	}
	return float64(n*4) / float64(encoded)
}

// Performance holds real-time factors for one encode/decode cycle. A speed of
// 10 means ten seconds of audio were processed per wall-clock second.
type Performance struct {
	EncodeSpeed      float64
	DecodeSpeed      float64
	CompressionRatio float64
}

// MeasurePerformance times one Encode and one Decode of samples.
func MeasurePerformance(c Codec, samples []float32, sampleRate uint32) (Performance, error) {
	if sampleRate == 0 {
		return Performance{}, &Error{Codec: c.Name(), Op: "measure", Err: ErrUnsupportedSampleRate}
	}
	audioSecs := float64(len(samples)) / float64(sampleRate)

	start := time.Now()
	enc, err := c.Encode(samples, sampleRate)
	if err != nil {
		return Performance{}, err
	}
	encodeTime := time.Since(start)

	start = time.Now()
	if _, err := c.Decode(enc, sampleRate); err != nil {
		return Performance{}, err
	}
	decodeTime := time.Since(start)

	return Performance{
		EncodeSpeed:      speed(audioSecs, encodeTime),
		DecodeSpeed:      speed(audioSecs, decodeTime),
		CompressionRatio: ratio(len(samples), len(enc)),
	}, nil
}

func speed(audioSecs float64, wall time.Duration) float64 {
	if wall <= 0 {
		return math.Inf(1)
	}
	return audioSecs / wall.Seconds()
}

// Quality compares a decoded signal to its original.
type Quality struct {
	// SNR is the signal-to-noise ratio in dB.
	SNR float64
	// MSE is the mean squared error.
	MSE float64
	// PSNR is the peak signal-to-noise ratio in dB.
	PSNR float64
}

// MeasureQuality round-trips samples through c and compares the result with
// the input. The decoded length must match the input length.
func MeasureQuality(c Codec, samples []float32, sampleRate uint32) (Quality, error) {
	enc, err := c.Encode(samples, sampleRate)
	if err != nil {
		return Quality{}, err
	}
	dec, err := c.Decode(enc, sampleRate)
	if err != nil {
		return Quality{}, err
	}
	q, err := CompareSignals(samples, dec)
	if err != nil {
		return Quality{}, &Error{Codec: c.Name(), Op: "measure", Err: err}
	}
	return q, nil
}

// CompareSignals computes [Quality] for two equally long signals. A perfect
// match yields infinite SNR and PSNR.
func CompareSignals(original, decoded []float32) (Quality, error) {
	if len(original) != len(decoded) {
		return Quality{}, fmt.Errorf("%w: length mismatch %d != %d", ErrInvalidData, len(original), len(decoded))
	}
	if len(original) == 0 {
		return Quality{}, fmt.Errorf("%w: empty signal", ErrInvalidData)
	}

	var errSum, powSum, peak float64
	for i, o := range original {
		d := float64(o) - float64(decoded[i])
		errSum += d * d
		powSum += float64(o) * float64(o)
		peak = math.Max(peak, math.Abs(float64(o)))
	}
	n := float64(len(original))
	mse := errSum / n
	return Quality{
		MSE:  mse,
		SNR:  10 * math.Log10((powSum/n)/mse),
		PSNR: 20*math.Log10(peak) - 10*math.Log10(mse),
	}, nil
}
