package codec

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// H264PassthroughEncoder frames video data for transmission without
// re-compressing it.
//
// Capture surfaces that deliver already-encoded H.264 (the common case
// with hardware capture pipelines) flow through unchanged; the encoder
// only stamps the key/delta marker the receiving side needs. Hosts with
// a raw-frame capture pipeline install a real encoder in the Registry.
type H264PassthroughEncoder struct {
	mu     sync.Mutex
	params VideoParams
	closed bool
}

// NewH264PassthroughEncoder creates a video encoder with the given
// parameters.
func NewH264PassthroughEncoder(params VideoParams) (*H264PassthroughEncoder, error) {
	params = params.WithDefaults()

	logrus.WithFields(logrus.Fields{
		"function":           "NewH264PassthroughEncoder",
		"codec":              params.Codec,
		"width":              params.Width,
		"height":             params.Height,
		"bit_rate":           params.BitRate,
		"key_frame_interval": params.KeyFrameInterval,
	}).Info("Creating video encoder")

	return &H264PassthroughEncoder{params: params}, nil
}

// Encode produces one transmittable chunk from a frame. forceKey marks
// the chunk as a self-contained keyframe; the caller owns the cadence.
func (e *H264PassthroughEncoder) Encode(frame VideoFrame, forceKey bool) (EncodedChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return EncodedChunk{}, ErrCodecClosed
	}
	if len(frame.Data) == 0 {
		return EncodedChunk{}, fmt.Errorf("empty video frame")
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)

	return EncodedChunk{Data: data, Key: forceKey, Timestamp: frame.Timestamp}, nil
}

// Close releases encoder resources. Safe to call multiple times.
func (e *H264PassthroughEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// H264PassthroughDecoder reverses the passthrough encoder, handing
// chunks back as frames for the render surface.
//
// Delta chunks arriving before the first keyframe are rejected with
// ErrAwaitingKeyFrame; the engine drops them without tearing anything
// down, and rendering starts at the next keyframe.
type H264PassthroughDecoder struct {
	mu      sync.Mutex
	params  VideoParams
	sawKey  bool
	closed  bool
	decoded uint64
}

// NewH264PassthroughDecoder creates a video decoder with parameters
// matching the remote encoder.
func NewH264PassthroughDecoder(params VideoParams) (*H264PassthroughDecoder, error) {
	params = params.WithDefaults()

	logrus.WithFields(logrus.Fields{
		"function": "NewH264PassthroughDecoder",
		"codec":    params.Codec,
		"width":    params.Width,
		"height":   params.Height,
	}).Info("Creating video decoder")

	return &H264PassthroughDecoder{params: params}, nil
}

// Decode converts one chunk into a renderable frame.
func (d *H264PassthroughDecoder) Decode(chunk EncodedChunk) (VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return VideoFrame{}, ErrCodecClosed
	}
	if chunk.Key {
		d.sawKey = true
	}
	if !d.sawKey {
		return VideoFrame{}, ErrAwaitingKeyFrame
	}

	data := make([]byte, len(chunk.Data))
	copy(data, chunk.Data)
	d.decoded++

	return VideoFrame{
		Width:     d.params.Width,
		Height:    d.params.Height,
		Data:      data,
		Timestamp: chunk.Timestamp,
	}, nil
}

// Close releases decoder resources. Safe to call multiple times.
func (d *H264PassthroughDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
