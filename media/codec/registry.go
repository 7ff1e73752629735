package codec

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry maps codec identifiers to encoder/decoder constructors.
//
// The media engine resolves codecs through a Registry so that hosts can
// install hardware-backed implementations under the same identifiers.
// Lookup failures are not fatal to a call: the engine logs them and the
// affected media kind is simply not carried.
type Registry struct {
	mu            sync.RWMutex
	audioEncoders map[string]func(AudioParams) (AudioEncoder, error)
	audioDecoders map[string]func(AudioParams) (AudioDecoder, error)
	videoEncoders map[string]func(VideoParams) (VideoEncoder, error)
	videoDecoders map[string]func(VideoParams) (VideoDecoder, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		audioEncoders: make(map[string]func(AudioParams) (AudioEncoder, error)),
		audioDecoders: make(map[string]func(AudioParams) (AudioDecoder, error)),
		videoEncoders: make(map[string]func(VideoParams) (VideoEncoder, error)),
		videoDecoders: make(map[string]func(VideoParams) (VideoDecoder, error)),
	}
}

// DefaultRegistry returns a registry with the built-in codecs installed:
// Opus audio (pion/opus decode path) and H.264 passthrough video.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterAudio(CodecOpus,
		func(p AudioParams) (AudioEncoder, error) { return NewOpusEncoder(p) },
		func(p AudioParams) (AudioDecoder, error) { return NewOpusDecoder(p) },
	)
	r.RegisterVideo(CodecH264,
		func(p VideoParams) (VideoEncoder, error) { return NewH264PassthroughEncoder(p) },
		func(p VideoParams) (VideoDecoder, error) { return NewH264PassthroughDecoder(p) },
	)

	logrus.WithFields(logrus.Fields{
		"function": "DefaultRegistry",
		"audio":    CodecOpus,
		"video":    CodecH264,
	}).Debug("Built default codec registry")

	return r
}

// RegisterAudio installs constructors for an audio codec identifier,
// replacing any previous registration.
func (r *Registry) RegisterAudio(id string,
	enc func(AudioParams) (AudioEncoder, error),
	dec func(AudioParams) (AudioDecoder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioEncoders[id] = enc
	r.audioDecoders[id] = dec
}

// RegisterVideo installs constructors for a video codec identifier,
// replacing any previous registration.
func (r *Registry) RegisterVideo(id string,
	enc func(VideoParams) (VideoEncoder, error),
	dec func(VideoParams) (VideoDecoder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoEncoders[id] = enc
	r.videoDecoders[id] = dec
}

// NewAudioEncoder constructs an audio encoder for the given parameters.
func (r *Registry) NewAudioEncoder(params AudioParams) (AudioEncoder, error) {
	params = params.WithDefaults()
	r.mu.RLock()
	ctor, ok := r.audioEncoders[params.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio encoder %q", ErrUnknownCodec, params.Codec)
	}
	return ctor(params)
}

// NewAudioDecoder constructs an audio decoder for the given parameters.
func (r *Registry) NewAudioDecoder(params AudioParams) (AudioDecoder, error) {
	params = params.WithDefaults()
	r.mu.RLock()
	ctor, ok := r.audioDecoders[params.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio decoder %q", ErrUnknownCodec, params.Codec)
	}
	return ctor(params)
}

// NewVideoEncoder constructs a video encoder for the given parameters.
func (r *Registry) NewVideoEncoder(params VideoParams) (VideoEncoder, error) {
	params = params.WithDefaults()
	r.mu.RLock()
	ctor, ok := r.videoEncoders[params.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: video encoder %q", ErrUnknownCodec, params.Codec)
	}
	return ctor(params)
}

// NewVideoDecoder constructs a video decoder for the given parameters.
func (r *Registry) NewVideoDecoder(params VideoParams) (VideoDecoder, error) {
	params = params.WithDefaults()
	r.mu.RLock()
	ctor, ok := r.videoDecoders[params.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: video decoder %q", ErrUnknownCodec, params.Codec)
	}
	return ctor(params)
}
