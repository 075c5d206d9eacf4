// Package pcm implements the raw codec: float32 samples serialised
// little-endian with no header.
package pcm

import (
	"fmt"

	"github.com/MrWong99/lifelogger/pkg/audio"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

// Codec is the raw float32 codec. The zero value is ready to use.
type Codec struct{}

var _ codec.Codec = Codec{}

func (Codec) Name() string      { return "pcm" }
func (Codec) MimeType() string  { return "audio/pcm" }
func (Codec) Extension() string { return "pcm" }
func (Codec) Kind() codec.Kind  { return codec.Lossless }

// Encode returns the samples as little-endian IEEE-754 floats, unclamped.
func (Codec) Encode(samples []float32, _ uint32) ([]byte, error) {
	return audio.Float32sToBytes(samples), nil
}

// Decode reverses Encode. The length must be a multiple of four.
func (c Codec) Decode(data []byte, _ uint32) ([]float32, error) {
	out, err := audio.BytesToFloat32s(data)
	if err != nil {
		return nil, &codec.Error{Codec: c.Name(), Op: "decode", Err: fmt.Errorf("%w: %v", codec.ErrInvalidData, err)}
	}
	return out, nil
}
