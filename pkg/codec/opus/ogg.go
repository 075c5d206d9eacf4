package opus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	oggHeaderSize = 27

	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// oggCRC is the Ogg page checksum: CRC-32, polynomial 0x04c11db7, zero
// initial value, no reflection, no final xor.
func oggCRC(p []byte) uint32 {
	var crc uint32
	for _, b := range p {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggWriter emits one packet per page for a single logical stream.
type oggWriter struct {
	buf    bytes.Buffer
	serial uint32
	seq    uint32
}

func (w *oggWriter) writePage(packet []byte, granule int64, flags byte) {
	segs := len(packet)/255 + 1
	hdr := make([]byte, oggHeaderSize+segs)
	copy(hdr, "OggS")
	hdr[4] = 0
	hdr[5] = flags
	binary.LittleEndian.PutUint64(hdr[6:], uint64(granule))
	binary.LittleEndian.PutUint32(hdr[14:], w.serial)
	binary.LittleEndian.PutUint32(hdr[18:], w.seq)
	hdr[26] = byte(segs)
	for i := range segs - 1 {
		hdr[oggHeaderSize+i] = 255
	}
	hdr[oggHeaderSize+segs-1] = byte(len(packet) % 255)

	crc := oggCRC(append(hdr[:len(hdr):len(hdr)], packet...))
	binary.LittleEndian.PutUint32(hdr[22:], crc)

	w.buf.Write(hdr)
	w.buf.Write(packet)
	w.seq++
}

// oggPacket is a reassembled packet and the granule of the page that
// completed it.
type oggPacket struct {
	data    []byte
	granule int64
}

var errOggCorrupt = errors.New("corrupt ogg stream")

// readOggPackets walks the pages of data and reassembles packets, verifying
// each page's checksum. Packets split across pages are joined.
func readOggPackets(data []byte) ([]oggPacket, error) {
	var (
		out     []oggPacket
		partial []byte
	)
	for off := 0; off < len(data); {
		if len(data)-off < oggHeaderSize || string(data[off:off+4]) != "OggS" {
			return nil, fmt.Errorf("%w: no page at offset %d", errOggCorrupt, off)
		}
		nsegs := int(data[off+26])
		bodyStart := off + oggHeaderSize + nsegs
		if bodyStart > len(data) {
			return nil, fmt.Errorf("%w: truncated segment table", errOggCorrupt)
		}
		lacing := data[off+oggHeaderSize : bodyStart]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		end := bodyStart + bodyLen
		if end > len(data) {
			return nil, fmt.Errorf("%w: truncated page body", errOggCorrupt)
		}

		page := bytes.Clone(data[off:end])
		want := binary.LittleEndian.Uint32(page[22:])
		clear(page[22:26])
		if oggCRC(page) != want {
			return nil, fmt.Errorf("%w: checksum mismatch at offset %d", errOggCorrupt, off)
		}

		granule := int64(binary.LittleEndian.Uint64(data[off+6:]))
		if data[off+5]&flagContinued == 0 {
			partial = partial[:0]
		}
		p := bodyStart
		for _, l := range lacing {
			partial = append(partial, data[p:p+int(l)]...)
			p += int(l)
			if l < 255 {
				out = append(out, oggPacket{data: bytes.Clone(partial), granule: granule})
				partial = partial[:0]
			}
		}
		off = end
	}
	return out, nil
}
