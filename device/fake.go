package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// FakeProvider is an in-memory Provider for tests and development.
//
// It enumerates a configurable device list, produces FakeTracks with
// synthetic frame sources, and can simulate permission denial or an
// unsupported environment.
type FakeProvider struct {
	mu        sync.Mutex
	devices   []Info
	listeners map[string]func()

	// DenyPermission makes GetUserMedia fail with ErrPermissionDenied.
	DenyPermission bool
	// Unsupported makes every call fail with ErrUnsupportedEnvironment.
	Unsupported bool
	// FramesPerTrack bounds each track's synthetic frame source.
	// Zero means DefaultFakeFrames.
	FramesPerTrack int
}

// DefaultFakeFrames is the synthetic frame budget per fake track.
const DefaultFakeFrames = 8

// NewFakeProvider creates a provider with a typical laptop device set:
// one camera, one microphone, one speaker.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		devices: []Info{
			{ID: "mic-0", Label: "Built-in Microphone", Kind: KindAudioInput},
			{ID: "spk-0", Label: "Built-in Speakers", Kind: KindAudioOutput},
			{ID: "cam-0", Label: "Integrated Camera", Kind: KindVideoInput},
		},
		listeners: make(map[string]func()),
	}
}

// SetDevices replaces the device list and notifies change listeners.
func (p *FakeProvider) SetDevices(devices []Info) {
	p.mu.Lock()
	p.devices = append([]Info(nil), devices...)
	fns := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Enumerate lists the configured devices.
func (p *FakeProvider) Enumerate(_ context.Context) ([]Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Unsupported {
		return nil, ErrUnsupportedEnvironment
	}
	return append([]Info(nil), p.devices...), nil
}

// GetUserMedia acquires a stream of fake tracks per the constraints.
func (p *FakeProvider) GetUserMedia(_ context.Context, constraints Constraints) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Unsupported {
		return nil, ErrUnsupportedEnvironment
	}
	if p.DenyPermission {
		return nil, ErrPermissionDenied
	}

	budget := p.FramesPerTrack
	if budget == 0 {
		budget = DefaultFakeFrames
	}

	var tracks []Track
	if constraints.Audio {
		id := constraints.AudioDeviceID
		if id == "" {
			id = p.firstOfKindLocked(KindAudioInput)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: audio input", ErrNoDevice)
		}
		tracks = append(tracks, NewFakeTrack(TrackKindAudio, id, budget))
	}
	if constraints.Video {
		id := constraints.VideoDeviceID
		if id == "" {
			id = p.firstOfKindLocked(KindVideoInput)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: video input", ErrNoDevice)
		}
		track := NewFakeTrack(TrackKindVideo, id, budget)
		if constraints.Width > 0 {
			track.settings.Width = constraints.Width
		}
		if constraints.Height > 0 {
			track.settings.Height = constraints.Height
		}
		tracks = append(tracks, track)
	}

	return NewStream(tracks...), nil
}

// OnDeviceChange registers a device-change listener.
func (p *FakeProvider) OnDeviceChange(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := uuid.NewString()
	p.listeners[key] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, key)
	}
}

func (p *FakeProvider) firstOfKindLocked(kind Kind) string {
	for _, d := range p.devices {
		if d.Kind == kind {
			return d.ID
		}
	}
	return ""
}

// FakeTrack is a Track backed by a synthetic frame generator.
type FakeTrack struct {
	id       string
	kind     TrackKind
	deviceID string
	settings TrackSettings

	stopped  atomic.Bool
	produced atomic.Int64
	released atomic.Int64
	budget   int
}

// NewFakeTrack creates a fake track producing at most budget frames.
func NewFakeTrack(kind TrackKind, deviceID string, budget int) *FakeTrack {
	settings := TrackSettings{SampleRate: 48000, Channels: 2}
	if kind == TrackKindVideo {
		settings = TrackSettings{Width: 1280, Height: 720}
	}
	return &FakeTrack{
		id:       uuid.NewString(),
		kind:     kind,
		deviceID: deviceID,
		settings: settings,
		budget:   budget,
	}
}

func (t *FakeTrack) ID() string             { return t.id }
func (t *FakeTrack) Kind() TrackKind        { return t.kind }
func (t *FakeTrack) DeviceID() string       { return t.deviceID }
func (t *FakeTrack) Settings() TrackSettings { return t.settings }

// Stop ends the capture pipeline; in-flight Next calls observe io.EOF.
func (t *FakeTrack) Stop()         { t.stopped.Store(true) }
func (t *FakeTrack) Stopped() bool { return t.stopped.Load() }

// ReleasedFrames reports how many produced frames have been released,
// letting tests assert the engine's release-after-encode contract.
func (t *FakeTrack) ReleasedFrames() int64 { return t.released.Load() }

// ProducedFrames reports how many frames the source has handed out.
func (t *FakeTrack) ProducedFrames() int64 { return t.produced.Load() }

// Frames returns the synthetic frame source.
func (t *FakeTrack) Frames() FrameSource { return &fakeFrameSource{track: t} }

type fakeFrameSource struct {
	track *FakeTrack
	seq   int
}

// Next produces deterministic synthetic frames until the track stops or
// the frame budget is exhausted.
func (s *fakeFrameSource) Next() (*Frame, error) {
	t := s.track
	if t.stopped.Load() || s.seq >= t.budget {
		return nil, io.EOF
	}

	frame := NewFrame(t.kind, func() { t.released.Add(1) })
	frame.Timestamp = float64(s.seq) * 1000.0 / 30.0

	switch t.kind {
	case TrackKindVideo:
		frame.Width = t.settings.Width
		frame.Height = t.settings.Height
		frame.Data = []byte{0x42, byte(s.seq), byte(s.seq >> 8)}
	case TrackKindAudio:
		frame.Samples = []int16{int16(s.seq), int16(-s.seq), int16(s.seq * 3)}
	}

	s.seq++
	t.produced.Add(1)
	return frame, nil
}
