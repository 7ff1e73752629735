package wire

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip verifies that a fully populated packet
// survives an encode/decode cycle in every field.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := MediaPacket{
		MediaType: MediaTypeVideo,
		SenderID:  "user-42",
		Payload:   []byte{0x00, 0x01, 0x02, 0xff, 0x80},
		FrameKind: FrameKindKey,
		Timestamp: 1234567.875,
	}

	decoded, err := Decode(Encode(p))
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

// TestRoundTripOptionalFrameKindOmitted verifies that a packet without
// FrameKind decodes with an empty FrameKind and all other fields intact.
func TestRoundTripOptionalFrameKindOmitted(t *testing.T) {
	p := MediaPacket{
		MediaType: MediaTypeAudio,
		SenderID:  "caller",
		Payload:   []byte("opus-chunk"),
		Timestamp: 48000.0,
	}

	data := Encode(p)
	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Empty(t, decoded.FrameKind)
	assert.Equal(t, p, decoded)
}

// TestRoundTripAllMediaTypes checks encoding stability across the enum.
func TestRoundTripAllMediaTypes(t *testing.T) {
	types := []MediaType{
		MediaTypeUnknown, MediaTypeVideo, MediaTypeAudio,
		MediaTypeScreen, MediaTypeHeartbeat, MediaTypeRtt,
	}
	for _, mt := range types {
		p := MediaPacket{MediaType: mt, SenderID: "s", Payload: []byte{1}}
		decoded, err := Decode(Encode(p))
		require.NoError(t, err, "media type %v", mt)
		assert.Equal(t, mt, decoded.MediaType)
	}
}

// TestDecodeUnknownTagTolerance verifies that fields with unrecognized
// tags of every wire kind are skipped without disturbing known fields.
func TestDecodeUnknownTagTolerance(t *testing.T) {
	known := MediaPacket{
		MediaType: MediaTypeAudio,
		SenderID:  "peer",
		Payload:   []byte{9, 9},
		Timestamp: 7.5,
	}
	data := Encode(known)

	// Unknown tag 9 as a varint field.
	data = append(data, header(9, wireVarint))
	data = appendUvarint(data, 300)

	// Unknown tag 10 as a length-delimited field.
	data = append(data, header(10, wireBytes))
	data = appendUvarint(data, 3)
	data = append(data, 'a', 'b', 'c')

	// Unknown tag 11 as a fixed64 field.
	data = append(data, header(11, wireFixed64))
	data = append(data, 1, 2, 3, 4, 5, 6, 7, 8)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, known, decoded)
}

// TestDecodeEmptyBufferYieldsDefaults verifies optional-field defaults.
func TestDecodeEmptyBufferYieldsDefaults(t *testing.T) {
	decoded, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, MediaTypeUnknown, decoded.MediaType)
	assert.Zero(t, decoded.Timestamp)
	assert.Empty(t, decoded.SenderID)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "length prefix past buffer end",
			data: append(append([]byte{header(tagPayload, wireBytes)}, appendUvarint(nil, 100)...), 1, 2, 3),
		},
		{
			name: "truncated fixed64",
			data: []byte{header(tagTimestamp, wireFixed64), 1, 2, 3},
		},
		{
			name: "unknown wire kind",
			data: []byte{header(tagPayload, 5), 0},
		},
		{
			name: "truncated varint",
			data: []byte{header(tagMediaType, wireVarint), 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedPacket),
				"expected ErrMalformedPacket, got %v", err)
		})
	}
}

// TestTimestampPrecision verifies IEEE-754 doubles survive the fixed64
// little-endian encoding bit-for-bit.
func TestTimestampPrecision(t *testing.T) {
	values := []float64{0, 1, -1, 0.1, math.MaxFloat64, math.SmallestNonzeroFloat64}
	for _, ts := range values {
		p := MediaPacket{SenderID: "x", Timestamp: ts}
		decoded, err := Decode(Encode(p))
		require.NoError(t, err)
		assert.Equal(t, ts, decoded.Timestamp)
	}
}

func TestVarintBoundaries(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, math.MaxUint64} {
		buf := appendUvarint(nil, v)
		got, n, err := readUvarint(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}
