// Package opus implements an in-process Ogg Opus codec on top of gopus.
//
// Input is resampled to 48 kHz, split into 20 ms frames and wrapped in an Ogg
// container with OpusHead and OpusTags headers, so the output plays in any
// standard player.
package opus

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"layeh.com/gopus"

	"github.com/MrWong99/lifelogger/pkg/audio"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

const (
	// SampleRate is the rate Opus operates at internally.
	SampleRate = 48000

	frameSize  = SampleRate * 20 / 1000 // 960 samples per 20 ms frame
	preSkip    = 312
	maxPacket  = 4000
	maxDecoded = 5760 // 120 ms at 48 kHz

	// DefaultBitrate is used when no bitrate is configured.
	DefaultBitrate = 64000

	vendor = "lifelogger"
)

// Codec encodes mono audio to Ogg Opus. Encoders are created per call, so a
// single Codec may be used concurrently.
type Codec struct {
	bitrate int
}

var (
	_ codec.Codec         = (*Codec)(nil)
	_ codec.TargetBitrate = (*Codec)(nil)
)

// New returns an Opus codec targeting bitrate bits per second. Zero selects
// [DefaultBitrate]; values outside 6-510 kbit/s are rejected.
func New(bitrate int) (*Codec, error) {
	if bitrate == 0 {
		bitrate = DefaultBitrate
	}
	if bitrate < 6000 || bitrate > 510000 {
		return nil, &codec.Error{
			Codec: "opus",
			Op:    "new",
			Err:   fmt.Errorf("%w: bitrate %d outside 6000-510000", codec.ErrInvalidConfiguration, bitrate),
		}
	}
	return &Codec{bitrate: bitrate}, nil
}

func (c *Codec) Name() string      { return "opus" }
func (c *Codec) MimeType() string  { return "audio/ogg" }
func (c *Codec) Extension() string { return "opus" }
func (c *Codec) Kind() codec.Kind  { return codec.Lossy }

// Bitrate returns the encoder target in bits per second.
func (c *Codec) Bitrate() int { return c.bitrate }

// Encode resamples samples to 48 kHz and returns a complete Ogg Opus stream.
func (c *Codec) Encode(samples []float32, sampleRate uint32) ([]byte, error) {
	if sampleRate == 0 {
		return nil, c.err("encode", codec.ErrUnsupportedSampleRate)
	}
	enc, err := gopus.NewEncoder(SampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, c.err("encode", fmt.Errorf("%w: %v", codec.ErrEncoding, err))
	}
	enc.SetBitrate(c.bitrate)

	pcm := audio.Float32ToInt16(audio.Resample(samples, sampleRate, SampleRate))
	total := int64(len(pcm))

	// Frames must also cover the pre-skip the decoder discards.
	frames := (len(pcm) + preSkip + frameSize - 1) / frameSize
	padded := make([]int16, frames*frameSize)
	copy(padded, pcm)

	w := &oggWriter{serial: rand.Uint32()}
	w.writePage(opusHead(sampleRate), 0, flagBOS)
	w.writePage(opusTags(), 0, 0)

	final := preSkip + total
	for k := range frames {
		pkt, err := enc.Encode(padded[k*frameSize:(k+1)*frameSize], frameSize, maxPacket)
		if err != nil {
			return nil, c.err("encode", fmt.Errorf("%w: frame %d: %v", codec.ErrEncoding, k, err))
		}
		var flags byte
		if k == frames-1 {
			flags = flagEOS
		}
		w.writePage(pkt, min(int64(k+1)*frameSize, final), flags)
	}
	return w.buf.Bytes(), nil
}

// Decode parses an Ogg Opus stream, drops the pre-skip, trims to the final
// granule position and resamples to sampleRate. An empty stream decodes to no
// samples.
func (c *Codec) Decode(data []byte, sampleRate uint32) ([]float32, error) {
	if sampleRate == 0 {
		return nil, c.err("decode", codec.ErrUnsupportedSampleRate)
	}
	packets, err := readOggPackets(data)
	if err != nil {
		return nil, c.err("decode", fmt.Errorf("%w: %v", codec.ErrInvalidData, err))
	}
	if len(packets) < 2 {
		return nil, c.err("decode", fmt.Errorf("%w: missing opus headers", codec.ErrInvalidData))
	}
	hdr, err := parseOpusHead(packets[0].data)
	if err != nil {
		return nil, c.err("decode", err)
	}

	dec, err := gopus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, c.err("decode", fmt.Errorf("%w: %v", codec.ErrDecoding, err))
	}

	var pcm []int16
	var lastGranule int64
	for i, p := range packets[2:] {
		out, err := dec.Decode(p.data, maxDecoded, false)
		if err != nil {
			return nil, c.err("decode", fmt.Errorf("%w: packet %d: %v", codec.ErrDecoding, i, err))
		}
		pcm = append(pcm, out...)
		lastGranule = p.granule
	}

	skip := min(int(hdr.preSkip), len(pcm))
	pcm = pcm[skip:]
	if keep := lastGranule - int64(hdr.preSkip); keep >= 0 && keep < int64(len(pcm)) {
		pcm = pcm[:keep]
	}

	out := audio.Int16ToFloat32(pcm)
	if sampleRate == SampleRate || len(out) == 0 {
		return out, nil
	}
	n := int(uint64(len(out)) * uint64(sampleRate) / SampleRate)
	return audio.ResampleLinear(out, SampleRate, sampleRate, n), nil
}

func (c *Codec) err(op string, err error) error {
	return &codec.Error{Codec: c.Name(), Op: op, Err: err}
}

type head struct {
	channels int
	preSkip  uint16
}

// opusHead builds the 19-byte identification header (RFC 7845 §5.1).
func opusHead(inputRate uint32) []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = 1 // version
	b[9] = 1 // channels
	binary.LittleEndian.PutUint16(b[10:], preSkip)
	binary.LittleEndian.PutUint32(b[12:], inputRate)
	// output gain 0, mapping family 0
	return b
}

func parseOpusHead(b []byte) (head, error) {
	if len(b) < 19 || string(b[:8]) != "OpusHead" {
		return head{}, fmt.Errorf("%w: missing OpusHead", codec.ErrInvalidData)
	}
	h := head{
		channels: int(b[9]),
		preSkip:  binary.LittleEndian.Uint16(b[10:]),
	}
	if h.channels != 1 {
		return head{}, fmt.Errorf("%w: %d channels, only mono is supported", codec.ErrInvalidData, h.channels)
	}
	return h, nil
}

// opusTags builds the comment header with no user comments.
func opusTags() []byte {
	b := make([]byte, 0, 8+4+len(vendor)+4)
	b = append(b, "OpusTags"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(vendor)))
	b = append(b, vendor...)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return b
}
