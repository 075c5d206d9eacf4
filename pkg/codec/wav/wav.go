// Package wav implements the canonical 44-byte-header RIFF/WAVE codec for mono
// 16- or 32-bit integer PCM.
//
// The encoder output is bit-exact and stable; other codecs (FLAC) use it as
// their intermediate representation.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/lifelogger/pkg/audio"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

// HeaderSize is the size of the canonical header written by Encode.
const HeaderSize = 44

// Decode failures. Each wraps [codec.ErrInvalidData].
var (
	ErrShortHeader   = fmt.Errorf("%w: wav header too short", codec.ErrInvalidData)
	ErrBadMagic      = fmt.Errorf("%w: missing RIFF/WAVE magic", codec.ErrInvalidData)
	ErrNoDataChunk   = fmt.Errorf("%w: no data chunk", codec.ErrInvalidData)
	ErrNoFormatChunk = fmt.Errorf("%w: no fmt chunk", codec.ErrInvalidData)
)

// Codec is the WAV codec. The zero value is not usable; call [New].
type Codec struct {
	bits int
}

var _ codec.Codec = (*Codec)(nil)

// New returns a WAV codec writing bitsPerSample-wide samples. Only 16 and 32
// are supported.
func New(bitsPerSample int) (*Codec, error) {
	if bitsPerSample != 16 && bitsPerSample != 32 {
		return nil, &codec.Error{
			Codec: "wav",
			Op:    "new",
			Err:   fmt.Errorf("%w: bits_per_sample must be 16 or 32, got %d", codec.ErrInvalidConfiguration, bitsPerSample),
		}
	}
	return &Codec{bits: bitsPerSample}, nil
}

// Default returns the 16-bit codec.
func Default() *Codec { return &Codec{bits: 16} }

func (c *Codec) Name() string      { return "wav" }
func (c *Codec) MimeType() string  { return "audio/wav" }
func (c *Codec) Extension() string { return "wav" }
func (c *Codec) Kind() codec.Kind  { return codec.Lossless }

// BitsPerSample returns the configured sample width.
func (c *Codec) BitsPerSample() int { return c.bits }

// Encode writes the header followed by each sample clamped to [-1, 1] and
// scaled to the integer range, truncating toward zero.
func (c *Codec) Encode(samples []float32, sampleRate uint32) ([]byte, error) {
	bps := c.bits / 8
	dataLen := len(samples) * bps
	if uint64(dataLen)+36 > math.MaxUint32 {
		return nil, &codec.Error{Codec: c.Name(), Op: "encode", Err: fmt.Errorf("%w: %d samples exceed the RIFF size limit", codec.ErrEncoding, len(samples))}
	}

	out := make([]byte, HeaderSize+dataLen)
	le := binary.LittleEndian
	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+dataLen))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1) // PCM
	le.PutUint16(out[22:], 1) // mono
	le.PutUint32(out[24:], sampleRate)
	le.PutUint32(out[28:], sampleRate*uint32(bps))
	le.PutUint16(out[32:], uint16(bps))
	le.PutUint16(out[34:], uint16(c.bits))
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(dataLen))

	p := out[HeaderSize:]
	switch c.bits {
	case 16:
		for i, s := range samples {
			le.PutUint16(p[i*2:], uint16(int16(audio.Clamp(s)*math.MaxInt16)))
		}
	case 32:
		for i, s := range samples {
			v := int32(float64(audio.Clamp(s)) * math.MaxInt32)
			le.PutUint32(p[i*4:], uint32(v))
		}
	}
	return out, nil
}

// Decode parses a RIFF/WAVE stream with go-audio's chunk reader. The "fmt "
// chunk is required and decides the sample width and channel count;
// multi-channel data is downmixed. Other chunks are skipped. A data chunk
// cut short decodes the whole samples that are present. sampleRate is
// ignored.
func (c *Codec) Decode(data []byte, _ uint32) ([]float32, error) {
	if len(data) < HeaderSize {
		return nil, c.decodeErr(ErrShortHeader)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, c.decodeErr(ErrBadMagic)
	}

	d := gowav.NewDecoder(bytes.NewReader(data))
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, c.decodeErr(fmt.Errorf("%w: %v", codec.ErrInvalidData, err))
	}
	if d.NumChans == 0 {
		return nil, c.decodeErr(ErrNoFormatChunk)
	}
	bits := int(d.BitDepth)
	if bits != 16 && bits != 32 {
		return nil, c.decodeErr(fmt.Errorf("%w: unsupported bits per sample %d", codec.ErrInvalidData, bits))
	}
	if err := d.FwdToPCM(); err != nil || d.PCMChunk == nil {
		return nil, c.decodeErr(ErrNoDataChunk)
	}
	// Read the raw chunk so a trailing partial sample is dropped.
	pcm, err := io.ReadAll(d.PCMChunk.R)
	if err != nil {
		return nil, c.decodeErr(fmt.Errorf("%w: %v", codec.ErrInvalidData, err))
	}
	return audio.Downmix(decodePCM(pcm, bits), int(d.NumChans)), nil
}

func (c *Codec) decodeErr(err error) error {
	return &codec.Error{Codec: c.Name(), Op: "decode", Err: err}
}

func decodePCM(p []byte, bits int) []float32 {
	le := binary.LittleEndian
	if bits == 32 {
		out := make([]float32, len(p)/4)
		for i := range out {
			out[i] = float32(float64(int32(le.Uint32(p[i*4:]))) / math.MaxInt32)
		}
		return out
	}
	out := make([]float32, len(p)/2)
	for i := range out {
		out[i] = float32(int16(le.Uint16(p[i*2:]))) / math.MaxInt16
	}
	return out
}
