// Package codec defines the encoder/decoder surface used by the media
// engine and provides the built-in codec implementations.
//
// Codec identity is a string (for example "opus" or the H.264 profile
// string "avc1.42E01E") and configuration symmetry is mandatory: the
// decoder on the receiving side must be constructed with parameters
// matching the sender's encoder, or decode silently produces no frames.
// Hosts with hardware codecs install their own constructors through the
// Registry; the built-ins keep a call usable without them.
package codec

import "errors"

// Codec identifier strings understood by the default registry.
const (
	// CodecOpus identifies the Opus audio codec.
	CodecOpus = "opus"
	// CodecH264 identifies H.264 constrained baseline, the profile used
	// for realtime video on the relay.
	CodecH264 = "avc1.42E01E"
)

// Defaults applied when a parameter is left zero.
const (
	DefaultVideoWidth       = 1280
	DefaultVideoHeight      = 720
	DefaultVideoBitRate     = 1_000_000
	DefaultKeyFrameInterval = 60
	DefaultSampleRate       = 48000
	DefaultChannels         = 2
	DefaultAudioBitRate     = 64_000
)

// VideoParams configures a video encoder or decoder pair.
type VideoParams struct {
	Codec            string
	Width            int
	Height           int
	BitRate          uint32
	KeyFrameInterval int
}

// WithDefaults returns a copy with zero fields replaced by defaults.
func (p VideoParams) WithDefaults() VideoParams {
	if p.Codec == "" {
		p.Codec = CodecH264
	}
	if p.Width == 0 {
		p.Width = DefaultVideoWidth
	}
	if p.Height == 0 {
		p.Height = DefaultVideoHeight
	}
	if p.BitRate == 0 {
		p.BitRate = DefaultVideoBitRate
	}
	if p.KeyFrameInterval == 0 {
		p.KeyFrameInterval = DefaultKeyFrameInterval
	}
	return p
}

// AudioParams configures an audio encoder or decoder pair.
type AudioParams struct {
	Codec      string
	SampleRate uint32
	Channels   int
	BitRate    uint32
}

// WithDefaults returns a copy with zero fields replaced by defaults.
func (p AudioParams) WithDefaults() AudioParams {
	if p.Codec == "" {
		p.Codec = CodecOpus
	}
	if p.SampleRate == 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.Channels == 0 {
		p.Channels = DefaultChannels
	}
	if p.BitRate == 0 {
		p.BitRate = DefaultAudioBitRate
	}
	return p
}

// EncodedChunk is one encoder output unit: a compressed frame plus the
// metadata the wire format carries alongside it.
type EncodedChunk struct {
	Data      []byte
	Key       bool
	Timestamp float64
}

// PCMFrame is uncompressed audio in int16 samples, interleaved when
// Channels > 1.
type PCMFrame struct {
	Samples    []int16
	SampleRate uint32
	Channels   int
	Timestamp  float64
}

// VideoFrame is one raw or decoded video frame. Data layout is owned by
// the host's capture/render surface; the codecs treat it as opaque.
type VideoFrame struct {
	Width     int
	Height    int
	Data      []byte
	Timestamp float64
}

// AudioEncoder compresses PCM frames into transmittable chunks.
type AudioEncoder interface {
	Encode(frame PCMFrame) (EncodedChunk, error)
	Close() error
}

// AudioDecoder decompresses chunks back into PCM frames. Audio chunks
// are self-contained, so every chunk is decodable independently.
type AudioDecoder interface {
	Decode(chunk EncodedChunk) (PCMFrame, error)
	Close() error
}

// VideoEncoder compresses raw frames. The caller decides keyframe
// cadence by setting forceKey.
type VideoEncoder interface {
	Encode(frame VideoFrame, forceKey bool) (EncodedChunk, error)
	Close() error
}

// VideoDecoder decompresses chunks into frames. Delta chunks arriving
// before any key chunk may legitimately produce no frame.
type VideoDecoder interface {
	Decode(chunk EncodedChunk) (VideoFrame, error)
	Close() error
}

// Sentinel errors for codec construction and use.
var (
	// ErrUnknownCodec indicates no constructor is registered for the
	// requested codec identifier.
	ErrUnknownCodec = errors.New("unknown codec identifier")

	// ErrCodecClosed indicates use after Close.
	ErrCodecClosed = errors.New("codec is closed")

	// ErrAwaitingKeyFrame indicates a delta chunk arrived before the
	// decoder has seen a keyframe. Not fatal; the chunk is dropped.
	ErrAwaitingKeyFrame = errors.New("awaiting keyframe")
)
