// Package wire implements the binary framing format used on the media
// relay socket.
//
// Every media frame crossing the relay is encoded as a MediaPacket in a
// compact tagged format: each field is prefixed with a single header byte
// combining a field tag and a wire kind, followed by a kind-specific
// encoding (unsigned LEB128 varints, length-delimited byte strings, or
// fixed 64-bit values). Decoders skip fields they do not recognize, so
// both ends can evolve independently.
//
// Design principles:
// - Deterministic, language-agnostic encoding
// - Unknown tags are skipped, never fatal
// - Decoding is defensive: truncated buffers fail with ErrMalformedPacket
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// MediaType identifies the kind of payload carried by a MediaPacket.
type MediaType uint8

const (
	// MediaTypeUnknown is the default for packets that omit the field.
	MediaTypeUnknown MediaType = iota
	// MediaTypeVideo carries an encoded video chunk.
	MediaTypeVideo
	// MediaTypeAudio carries an encoded audio chunk.
	MediaTypeAudio
	// MediaTypeScreen carries an encoded screen-share chunk.
	MediaTypeScreen
	// MediaTypeHeartbeat is a keepalive marker with no media payload.
	MediaTypeHeartbeat
	// MediaTypeRtt is a round-trip-time probe.
	MediaTypeRtt
)

// String returns a human-readable name for logging.
func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeScreen:
		return "screen"
	case MediaTypeHeartbeat:
		return "heartbeat"
	case MediaTypeRtt:
		return "rtt"
	default:
		return "unknown"
	}
}

// Frame kinds carried in the FrameKind field of video packets.
const (
	FrameKindKey   = "key"
	FrameKindDelta = "delta"
)

// Field tags on the wire.
const (
	tagMediaType = 1
	tagSenderID  = 2
	tagPayload   = 3
	tagFrameKind = 4
	tagTimestamp = 5
)

// Wire kinds. The low three bits of every header byte.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
)

// MediaPacket is one media frame as carried over the relay socket.
//
// Packets are immutable once constructed and are encoded and decoded
// independently of any call state. FrameKind is optional and omitted
// from the wire form when empty.
type MediaPacket struct {
	MediaType MediaType
	SenderID  string
	Payload   []byte
	FrameKind string
	Timestamp float64
}

// Encode serializes the packet into its wire form.
//
// Encoding is total: it never fails for any packet value. Fields with
// zero values other than MediaType and Timestamp are still emitted so
// that round-tripping preserves them; FrameKind is omitted when empty.
func Encode(p MediaPacket) []byte {
	// Header bytes plus worst-case varint lengths; payload dominates.
	buf := make([]byte, 0, len(p.SenderID)+len(p.Payload)+len(p.FrameKind)+32)

	buf = append(buf, header(tagMediaType, wireVarint))
	buf = appendUvarint(buf, uint64(p.MediaType))

	buf = append(buf, header(tagSenderID, wireBytes))
	buf = appendUvarint(buf, uint64(len(p.SenderID)))
	buf = append(buf, p.SenderID...)

	buf = append(buf, header(tagPayload, wireBytes))
	buf = appendUvarint(buf, uint64(len(p.Payload)))
	buf = append(buf, p.Payload...)

	if p.FrameKind != "" {
		buf = append(buf, header(tagFrameKind, wireBytes))
		buf = appendUvarint(buf, uint64(len(p.FrameKind)))
		buf = append(buf, p.FrameKind...)
	}

	buf = append(buf, header(tagTimestamp, wireFixed64))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], math.Float64bits(p.Timestamp))
	buf = append(buf, ts[:]...)

	return buf
}

// Decode parses a wire buffer into a MediaPacket.
//
// Unknown tags are skipped according to their declared wire kind.
// Omitted optional fields take their defaults (MediaTypeUnknown, empty
// FrameKind, zero Timestamp). A length prefix pointing past the end of
// the buffer or a wire kind outside the known set fails with
// ErrMalformedPacket.
func Decode(data []byte) (MediaPacket, error) {
	var p MediaPacket
	pos := 0

	for pos < len(data) {
		hdr := data[pos]
		pos++
		tag := int(hdr >> 3)
		kind := int(hdr & 0x07)

		switch kind {
		case wireVarint:
			v, n, err := readUvarint(data[pos:])
			if err != nil {
				return MediaPacket{}, fmt.Errorf("%w: field %d: %v", ErrMalformedPacket, tag, err)
			}
			pos += n
			if tag == tagMediaType {
				p.MediaType = MediaType(v)
			}

		case wireBytes:
			length, n, err := readUvarint(data[pos:])
			if err != nil {
				return MediaPacket{}, fmt.Errorf("%w: field %d length: %v", ErrMalformedPacket, tag, err)
			}
			pos += n
			if length > uint64(len(data)-pos) {
				return MediaPacket{}, fmt.Errorf("%w: field %d length %d exceeds remaining %d",
					ErrMalformedPacket, tag, length, len(data)-pos)
			}
			body := data[pos : pos+int(length)]
			pos += int(length)

			switch tag {
			case tagSenderID:
				p.SenderID = string(body)
			case tagPayload:
				p.Payload = append([]byte(nil), body...)
			case tagFrameKind:
				p.FrameKind = string(body)
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Decode",
					"tag":      tag,
					"length":   length,
				}).Trace("Skipping unknown length-delimited field")
			}

		case wireFixed64:
			if len(data)-pos < 8 {
				return MediaPacket{}, fmt.Errorf("%w: field %d: truncated fixed64", ErrMalformedPacket, tag)
			}
			bits := binary.LittleEndian.Uint64(data[pos : pos+8])
			pos += 8
			if tag == tagTimestamp {
				p.Timestamp = math.Float64frombits(bits)
			}

		default:
			return MediaPacket{}, fmt.Errorf("%w: unknown wire kind %d for field %d",
				ErrMalformedPacket, kind, tag)
		}
	}

	return p, nil
}

func header(tag, kind int) byte {
	return byte(tag<<3 | kind)
}

// appendUvarint appends v as an unsigned LEB128 varint.
func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readUvarint reads an unsigned LEB128 varint, returning the value and
// the number of bytes consumed.
func readUvarint(data []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range data {
		if shift >= 64 {
			return 0, 0, fmt.Errorf("varint overflows 64 bits")
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated varint")
}
