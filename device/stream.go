package device

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TrackKind distinguishes the two media kinds a track can carry.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackSettings reports the current capture configuration of a track.
type TrackSettings struct {
	Width      int
	Height     int
	SampleRate uint32
	Channels   int
}

// Frame is one captured media frame backed by a platform buffer.
//
// Frames must be released explicitly and promptly after use; platform
// frame buffers are a finite hardware resource and are not reclaimed by
// garbage collection.
type Frame struct {
	Kind      TrackKind
	Data      []byte
	Samples   []int16
	Width     int
	Height    int
	Timestamp float64

	releaseOnce sync.Once
	release     func()
}

// NewFrame constructs a frame with an optional release hook. Providers
// use the hook to return the underlying buffer to the platform.
func NewFrame(kind TrackKind, release func()) *Frame {
	return &Frame{Kind: kind, release: release}
}

// Release returns the frame's buffer to the platform. Idempotent.
func (f *Frame) Release() {
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// FrameSource is a pull-based reader of captured frames.
//
// Next blocks until a frame is available and returns io.EOF when the
// track's capture pipeline has ended (the track was stopped or the
// device disappeared).
type FrameSource interface {
	Next() (*Frame, error)
}

// Track is one live capture pipeline of a single kind.
//
// Tracks are owned by whoever acquired the containing stream; borrowers
// (the media engine) read frames but never stop tracks themselves.
type Track interface {
	ID() string
	Kind() TrackKind
	DeviceID() string
	Settings() TrackSettings
	Frames() FrameSource
	Stop()
	Stopped() bool
}

// Stream bundles the tracks acquired by one GetUserMedia call.
//
// The stream ID changes whenever track composition changes, so
// consumers holding a stream reference can detect replacement.
type Stream struct {
	mu     sync.RWMutex
	id     string
	tracks []Track
}

// NewStream creates a stream over the given tracks.
func NewStream(tracks ...Track) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		tracks: append([]Track(nil), tracks...),
	}
}

// ID returns the stream's identity, refreshed on composition changes.
func (s *Stream) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Tracks returns a snapshot of all tracks.
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// TrackOfKind returns the first track of the given kind, or nil.
func (s *Stream) TrackOfKind(kind TrackKind) Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// ReplaceTrack swaps the first track of old's kind for the new track
// and refreshes the stream identity. The old track is returned so the
// owner can stop it; the stream never stops tracks itself.
func (s *Stream) ReplaceTrack(newTrack Track) Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	var old Track
	for i, t := range s.tracks {
		if t.Kind() == newTrack.Kind() {
			old = t
			s.tracks[i] = newTrack
			break
		}
	}
	if old == nil {
		s.tracks = append(s.tracks, newTrack)
	}
	s.id = uuid.NewString()

	logrus.WithFields(logrus.Fields{
		"function":  "Stream.ReplaceTrack",
		"kind":      newTrack.Kind(),
		"stream_id": s.id,
		"replaced":  old != nil,
	}).Debug("Track replaced in stream")

	return old
}

// StopAll stops every track. Only the stream's owner calls this.
func (s *Stream) StopAll() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
