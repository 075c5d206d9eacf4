// Package mock provides a test double for the codec.Codec interface.
//
// Example:
//
//	c := &mock.Codec{NameValue: "fake", EncodeResult: []byte("xyz")}
//	data, _ := c.Encode(samples, 48000)
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/lifelogger/pkg/codec"
)

// EncodeCall records a single invocation of Encode.
type EncodeCall struct {
	// Samples is a copy of the samples passed to Encode.
	Samples []float32
	// SampleRate is the rate passed to Encode.
	SampleRate uint32
}

// Codec is a mock implementation of codec.Codec. Zero-valued metadata fields
// fall back to "mock", "application/octet-stream" and "bin".
type Codec struct {
	mu sync.Mutex

	// --- Configurable responses ---

	NameValue      string
	MimeTypeValue  string
	ExtensionValue string
	KindValue      codec.Kind

	// EncodeResult is returned by Encode. When nil, Encode returns two bytes
	// per input sample.
	EncodeResult []byte

	// EncodeErr, if non-nil, is returned by Encode.
	EncodeErr error

	// DecodeResult is returned by Decode. When nil, Decode returns half as
	// many zero samples as it was given bytes.
	DecodeResult []float32

	// DecodeErr, if non-nil, is returned by Decode.
	DecodeErr error

	// --- Call records ---

	EncodeCalls []EncodeCall
	DecodeCalls int
}

var _ codec.Codec = (*Codec)(nil)

func (c *Codec) Name() string { return or(c.NameValue, "mock") }

func (c *Codec) MimeType() string { return or(c.MimeTypeValue, "application/octet-stream") }

func (c *Codec) Extension() string { return or(c.ExtensionValue, "bin") }

func (c *Codec) Kind() codec.Kind { return c.KindValue }

// Encode records the call and returns EncodeResult or EncodeErr.
func (c *Codec) Encode(samples []float32, sampleRate uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EncodeCalls = append(c.EncodeCalls, EncodeCall{Samples: slices.Clone(samples), SampleRate: sampleRate})
	if c.EncodeErr != nil {
		return nil, c.EncodeErr
	}
	if c.EncodeResult != nil {
		return slices.Clone(c.EncodeResult), nil
	}
	return make([]byte, len(samples)*2), nil
}

// Decode records the call and returns DecodeResult or DecodeErr.
func (c *Codec) Decode(data []byte, _ uint32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DecodeCalls++
	if c.DecodeErr != nil {
		return nil, c.DecodeErr
	}
	if c.DecodeResult != nil {
		return slices.Clone(c.DecodeResult), nil
	}
	return make([]float32, len(data)/2), nil
}

// EncodeCallCount returns the number of Encode calls so far.
func (c *Codec) EncodeCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.EncodeCalls)
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
