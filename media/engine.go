// Package media implements the per-call media engine: the bridge
// between local capture tracks and the relay wire protocol.
//
// One Engine lives exactly as long as one active call's media socket.
// Outgoing: an encoder pull-loop per local track reads frames, encodes
// them, and writes wire packets to the socket. Incoming: packets are
// decoded and routed to a per-sender decoder registry, and decoded
// frames are delivered through registered callbacks.
//
// The engine borrows track references; it never stops tracks. Track
// ownership stays with the call state machine.
package media

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taskforge/callcore/device"
	"github.com/taskforge/callcore/media/codec"
	"github.com/taskforge/callcore/wire"
)

// Socket is the binary media relay connection the engine writes wire
// packets to. The read side is driven externally: whoever owns the
// socket feeds inbound buffers to HandleIncomingData.
type Socket interface {
	Send(data []byte) error
	Close() error
}

// VideoFrameCallback receives decoded remote video frames.
type VideoFrameCallback func(senderID string, frame codec.VideoFrame)

// AudioFrameCallback receives decoded remote audio frames.
type AudioFrameCallback func(senderID string, frame codec.PCMFrame)

// ErrEngineDestroyed indicates use of an engine after Destroy.
var ErrEngineDestroyed = errors.New("media engine destroyed")

type decoderKey struct {
	senderID string
	kind     wire.MediaType
}

// decoderEntry caches a per-sender decoder. A nil decoder with failed
// set records a construction failure so subsequent packets from that
// sender are dropped without retry storms.
type decoderEntry struct {
	video  codec.VideoDecoder
	audio  codec.AudioDecoder
	failed bool
}

// Engine is the per-call media pipeline.
type Engine struct {
	mu sync.Mutex

	localUserID string
	socket      Socket
	registry    *codec.Registry
	videoParams codec.VideoParams
	audioParams codec.AudioParams

	// At most one active encoder per kind. The generation guards the
	// pull-loops: a loop whose generation is stale exits instead of
	// writing through a replaced encoder.
	videoEncoder codec.VideoEncoder
	audioEncoder codec.AudioEncoder
	videoGen     uint64
	audioGen     uint64

	decoders  map[decoderKey]*decoderEntry
	destroyed bool

	videoCallback VideoFrameCallback
	audioCallback AudioFrameCallback

	stats engineCounters
}

// NewEngine creates a media engine bound to one call's media socket.
//
// Parameters:
//   - localUserID: sender identity stamped on outgoing packets
//   - socket: the open media relay connection
//   - registry: codec constructors; nil uses the built-in registry
func NewEngine(localUserID string, socket Socket, registry *codec.Registry) (*Engine, error) {
	if localUserID == "" {
		return nil, errors.New("local user id cannot be empty")
	}
	if socket == nil {
		return nil, errors.New("socket cannot be nil")
	}
	if registry == nil {
		registry = codec.DefaultRegistry()
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewEngine",
		"user_id":  localUserID,
	}).Info("Creating media engine")

	return &Engine{
		localUserID: localUserID,
		socket:      socket,
		registry:    registry,
		videoParams: codec.VideoParams{}.WithDefaults(),
		audioParams: codec.AudioParams{}.WithDefaults(),
		decoders:    make(map[decoderKey]*decoderEntry),
	}, nil
}

// SetVideoParams overrides the video encode/decode configuration. Must
// be called before StartEncoding; both call ends must agree.
func (e *Engine) SetVideoParams(p codec.VideoParams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoParams = p.WithDefaults()
}

// SetAudioParams overrides the audio encode/decode configuration.
func (e *Engine) SetAudioParams(p codec.AudioParams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioParams = p.WithDefaults()
}

// SetVideoCallback registers the decoded remote video frame callback.
func (e *Engine) SetVideoCallback(cb VideoFrameCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoCallback = cb
}

// SetAudioCallback registers the decoded remote audio frame callback.
func (e *Engine) SetAudioCallback(cb AudioFrameCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioCallback = cb
}

// StartEncoding begins the encode pipelines for every track kind
// present in the stream.
//
// Codec construction failures are logged and that kind is simply not
// transmitted; a call degrades to audio-only rather than failing when
// video hardware is unavailable.
func (e *Engine) StartEncoding(stream *device.Stream) error {
	if stream == nil {
		return errors.New("stream cannot be nil")
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineDestroyed
	}
	e.mu.Unlock()

	if track := stream.TrackOfKind(device.TrackKindVideo); track != nil {
		if err := e.setupVideoEncoder(track); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "StartEncoding",
				"error":    err.Error(),
			}).Warn("Video encoder unavailable, continuing without video")
		}
	}
	if track := stream.TrackOfKind(device.TrackKindAudio); track != nil {
		if err := e.setupAudioEncoder(track); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "StartEncoding",
				"error":    err.Error(),
			}).Warn("Audio encoder unavailable, continuing without audio")
		}
	}

	return nil
}

// setupVideoEncoder configures a video encoder against the track's
// current settings and starts its pull-loop.
func (e *Engine) setupVideoEncoder(track device.Track) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineDestroyed
	}

	params := e.videoParams
	settings := track.Settings()
	if settings.Width > 0 {
		params.Width = settings.Width
	}
	if settings.Height > 0 {
		params.Height = settings.Height
	}
	e.videoParams = params
	e.mu.Unlock()

	enc, err := e.registry.NewVideoEncoder(params)
	if err != nil {
		return fmt.Errorf("video encoder setup failed: %w", err)
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		_ = enc.Close()
		return ErrEngineDestroyed
	}
	if e.videoEncoder != nil {
		_ = e.videoEncoder.Close()
	}
	e.videoEncoder = enc
	e.videoGen++
	gen := e.videoGen
	keyInterval := params.KeyFrameInterval
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "setupVideoEncoder",
		"device_id": track.DeviceID(),
		"width":     params.Width,
		"height":    params.Height,
	}).Info("Video encode loop starting")

	go e.videoEncodeLoop(track, enc, gen, keyInterval)
	return nil
}

// setupAudioEncoder configures an audio encoder and starts its
// pull-loop.
func (e *Engine) setupAudioEncoder(track device.Track) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineDestroyed
	}
	params := e.audioParams
	e.mu.Unlock()

	enc, err := e.registry.NewAudioEncoder(params)
	if err != nil {
		return fmt.Errorf("audio encoder setup failed: %w", err)
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		_ = enc.Close()
		return ErrEngineDestroyed
	}
	if e.audioEncoder != nil {
		_ = e.audioEncoder.Close()
	}
	e.audioEncoder = enc
	e.audioGen++
	gen := e.audioGen
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "setupAudioEncoder",
		"device_id": track.DeviceID(),
	}).Info("Audio encode loop starting")

	go e.audioEncodeLoop(track, enc, gen)
	return nil
}

// videoEncodeLoop pulls raw frames from the track until end-of-stream,
// encoding and sending each one. Every consumed frame is released
// immediately after encoding; platform frame buffers must not
// accumulate.
func (e *Engine) videoEncodeLoop(track device.Track, enc codec.VideoEncoder, gen uint64, keyInterval int) {
	src := track.Frames()
	var localCount uint64

	for {
		frame, err := src.Next()
		if err != nil {
			if err != io.EOF {
				logrus.WithFields(logrus.Fields{
					"function": "videoEncodeLoop",
					"error":    err.Error(),
				}).Warn("Video frame source failed")
			}
			return
		}

		if e.encoderStale(&e.videoGen, gen) {
			frame.Release()
			return
		}

		forceKey := localCount%uint64(keyInterval) == 0
		localCount++

		chunk, err := enc.Encode(codec.VideoFrame{
			Width:     frame.Width,
			Height:    frame.Height,
			Data:      frame.Data,
			Timestamp: frame.Timestamp,
		}, forceKey)
		frame.Release()
		if err != nil {
			if errors.Is(err, codec.ErrCodecClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "videoEncodeLoop",
				"error":    err.Error(),
			}).Warn("Video encode failed, dropping frame")
			continue
		}

		e.sendChunk(wire.MediaTypeVideo, chunk)
	}
}

// audioEncodeLoop pulls PCM frames from the track until end-of-stream.
func (e *Engine) audioEncodeLoop(track device.Track, enc codec.AudioEncoder, gen uint64) {
	src := track.Frames()

	for {
		frame, err := src.Next()
		if err != nil {
			if err != io.EOF {
				logrus.WithFields(logrus.Fields{
					"function": "audioEncodeLoop",
					"error":    err.Error(),
				}).Warn("Audio frame source failed")
			}
			return
		}

		if e.encoderStale(&e.audioGen, gen) {
			frame.Release()
			return
		}

		chunk, err := enc.Encode(codec.PCMFrame{
			Samples:   frame.Samples,
			Timestamp: frame.Timestamp,
		})
		frame.Release()
		if err != nil {
			if errors.Is(err, codec.ErrCodecClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "audioEncodeLoop",
				"error":    err.Error(),
			}).Warn("Audio encode failed, dropping frame")
			continue
		}

		e.sendChunk(wire.MediaTypeAudio, chunk)
	}
}

// encoderStale reports whether the loop's generation has been replaced
// or the engine destroyed.
func (e *Engine) encoderStale(current *uint64, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed || *current != gen
}

// sendChunk wraps an encoded chunk in a MediaPacket and writes it to
// the socket. Send failures drop the packet; the loops keep running
// until their track ends.
func (e *Engine) sendChunk(mediaType wire.MediaType, chunk codec.EncodedChunk) {
	frameKind := ""
	if mediaType == wire.MediaTypeVideo || mediaType == wire.MediaTypeScreen {
		frameKind = wire.FrameKindDelta
		if chunk.Key {
			frameKind = wire.FrameKindKey
		}
	}

	packet := wire.MediaPacket{
		MediaType: mediaType,
		SenderID:  e.localUserID,
		Payload:   chunk.Data,
		FrameKind: frameKind,
		Timestamp: chunk.Timestamp,
	}
	data := wire.Encode(packet)

	if err := e.socket.Send(data); err != nil {
		e.stats.sendDrops.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":   "sendChunk",
			"media_type": mediaType.String(),
			"error":      err.Error(),
		}).Debug("Media socket send failed, packet dropped")
		return
	}

	e.stats.packetsSent.Add(1)
	e.stats.bytesSent.Add(uint64(len(data)))
	if chunk.Key && frameKind == wire.FrameKindKey {
		e.stats.keyFramesSent.Add(1)
	}
}

// ReplaceVideoTrack tears down the current video encoder (best-effort)
// and rebuilds the pipeline against the new track. Used when the user
// switches camera mid-call.
func (e *Engine) ReplaceVideoTrack(track device.Track) error {
	if track == nil {
		return errors.New("track cannot be nil")
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineDestroyed
	}
	if e.videoEncoder != nil {
		// Teardown errors are swallowed; the replacement encoder is
		// what matters.
		_ = e.videoEncoder.Close()
		e.videoEncoder = nil
	}
	e.mu.Unlock()

	return e.setupVideoEncoder(track)
}

// ReplaceAudioTrack tears down the current audio encoder (best-effort)
// and rebuilds the pipeline against the new track.
func (e *Engine) ReplaceAudioTrack(track device.Track) error {
	if track == nil {
		return errors.New("track cannot be nil")
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineDestroyed
	}
	if e.audioEncoder != nil {
		_ = e.audioEncoder.Close()
		e.audioEncoder = nil
	}
	e.mu.Unlock()

	return e.setupAudioEncoder(track)
}

// HandleIncomingData decodes one relay buffer and routes it by media
// type. Heartbeat, RTT, and unknown types are dropped. A destroyed
// engine is inert: no decoding, no callbacks.
func (e *Engine) HandleIncomingData(data []byte) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	packet, err := wire.Decode(data)
	if err != nil {
		e.stats.malformed.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":  "HandleIncomingData",
			"data_size": len(data),
			"error":     err.Error(),
		}).Warn("Dropping malformed media packet")
		return
	}

	e.stats.packetsReceived.Add(1)
	e.stats.bytesReceived.Add(uint64(len(data)))

	switch packet.MediaType {
	case wire.MediaTypeVideo, wire.MediaTypeScreen:
		e.decodeVideo(packet)
	case wire.MediaTypeAudio:
		e.decodeAudio(packet)
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "HandleIncomingData",
			"media_type": packet.MediaType.String(),
			"sender_id":  packet.SenderID,
		}).Trace("Ignoring non-media packet type")
	}
}

// decodeVideo routes one video packet to the sender's decoder, creating
// it lazily on first contact. Decoder readiness is the only admission
// gate: packets arriving before a decoder is configured are dropped.
func (e *Engine) decodeVideo(packet wire.MediaPacket) {
	key := decoderKey{senderID: packet.SenderID, kind: wire.MediaTypeVideo}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	entry, ok := e.decoders[key]
	if !ok {
		entry = &decoderEntry{}
		dec, err := e.registry.NewVideoDecoder(e.videoParams)
		if err != nil {
			entry.failed = true
			logrus.WithFields(logrus.Fields{
				"function":  "decodeVideo",
				"sender_id": packet.SenderID,
				"error":     err.Error(),
			}).Warn("Video decoder unavailable for sender, dropping their video")
		} else {
			entry.video = dec
		}
		e.decoders[key] = entry
	}
	callback := e.videoCallback
	e.mu.Unlock()

	if entry.failed || entry.video == nil {
		return
	}

	frame, err := entry.video.Decode(codec.EncodedChunk{
		Data:      packet.Payload,
		Key:       packet.FrameKind == wire.FrameKindKey,
		Timestamp: packet.Timestamp,
	})
	if err != nil {
		if !errors.Is(err, codec.ErrAwaitingKeyFrame) {
			logrus.WithFields(logrus.Fields{
				"function":  "decodeVideo",
				"sender_id": packet.SenderID,
				"error":     err.Error(),
			}).Debug("Video decode failed, dropping packet")
		}
		return
	}

	e.stats.framesDecoded.Add(1)
	if callback != nil {
		callback(packet.SenderID, frame)
	}
}

// decodeAudio routes one audio packet to the sender's decoder. Audio
// chunks are self-contained, so every decodable packet yields a frame.
func (e *Engine) decodeAudio(packet wire.MediaPacket) {
	key := decoderKey{senderID: packet.SenderID, kind: wire.MediaTypeAudio}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	entry, ok := e.decoders[key]
	if !ok {
		entry = &decoderEntry{}
		dec, err := e.registry.NewAudioDecoder(e.audioParams)
		if err != nil {
			entry.failed = true
			logrus.WithFields(logrus.Fields{
				"function":  "decodeAudio",
				"sender_id": packet.SenderID,
				"error":     err.Error(),
			}).Warn("Audio decoder unavailable for sender, dropping their audio")
		} else {
			entry.audio = dec
		}
		e.decoders[key] = entry
	}
	callback := e.audioCallback
	e.mu.Unlock()

	if entry.failed || entry.audio == nil {
		return
	}

	frame, err := entry.audio.Decode(codec.EncodedChunk{
		Data:      packet.Payload,
		Timestamp: packet.Timestamp,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "decodeAudio",
			"sender_id": packet.SenderID,
			"error":     err.Error(),
		}).Debug("Audio decode failed, dropping packet")
		return
	}

	e.stats.framesDecoded.Add(1)
	if callback != nil {
		callback(packet.SenderID, frame)
	}
}

// DecoderCount returns the number of live decoder registry entries.
func (e *Engine) DecoderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.decoders)
}

// Destroy closes every encoder and decoder and renders the engine
// inert. Idempotent; safe to call from any state.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true

	if e.videoEncoder != nil {
		_ = e.videoEncoder.Close()
		e.videoEncoder = nil
	}
	if e.audioEncoder != nil {
		_ = e.audioEncoder.Close()
		e.audioEncoder = nil
	}

	decoderCount := len(e.decoders)
	for key, entry := range e.decoders {
		if entry.video != nil {
			_ = entry.video.Close()
		}
		if entry.audio != nil {
			_ = entry.audio.Close()
		}
		delete(e.decoders, key)
	}
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "Destroy",
		"decoders_closed": decoderCount,
	}).Info("Media engine destroyed")
}
