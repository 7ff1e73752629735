// Package device defines the capability surface the host platform
// supplies to the call core: device enumeration, media stream
// acquisition, and frame sources with explicit buffer release.
//
// The call core only ever sees these interfaces. Real hosts bind them to
// hardware capture pipelines; tests use the FakeProvider shipped here.
package device

import "context"

// Kind classifies an enumerable device.
type Kind string

const (
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
	KindVideoInput  Kind = "videoinput"
)

// Info describes one enumerable device.
type Info struct {
	ID    string
	Label string
	Kind  Kind
}

// Constraints describes the media a caller wants to acquire. Zero
// device IDs mean "the default device of that kind".
type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
	Width         int
	Height        int
}

// Provider is the host platform's device surface.
//
// Implementations must return ErrPermissionDenied when the user refuses
// device access and ErrUnsupportedEnvironment when the platform lacks
// media APIs entirely (for example an insecure context).
type Provider interface {
	// Enumerate lists devices of every kind.
	Enumerate(ctx context.Context) ([]Info, error)

	// GetUserMedia acquires a stream satisfying the constraints. The
	// returned stream is exclusively owned by the caller, who must stop
	// every track before releasing it.
	GetUserMedia(ctx context.Context, constraints Constraints) (*Stream, error)

	// OnDeviceChange registers a notification callback for device
	// plug/unplug events. The returned function unregisters it.
	OnDeviceChange(fn func()) func()
}

// Selection is the active device choice per kind. Unset fields fall
// back to the first enumerated device of the matching kind.
type Selection struct {
	AudioInput  string
	AudioOutput string
	VideoInput  string
}

// Refresh fills unset or vanished selections from the device list,
// choosing the first device of the matching kind. Selections that still
// exist are preserved.
func (s Selection) Refresh(devices []Info) Selection {
	s.AudioInput = pick(devices, KindAudioInput, s.AudioInput)
	s.AudioOutput = pick(devices, KindAudioOutput, s.AudioOutput)
	s.VideoInput = pick(devices, KindVideoInput, s.VideoInput)
	return s
}

func pick(devices []Info, kind Kind, current string) string {
	first := ""
	for _, d := range devices {
		if d.Kind != kind {
			continue
		}
		if d.ID == current {
			return current
		}
		if first == "" {
			first = d.ID
		}
	}
	return first
}

// NextVideoInput returns the video input following the current one in
// enumeration order, wrapping around. Used to flip between cameras.
func NextVideoInput(devices []Info, current string) string {
	var inputs []string
	for _, d := range devices {
		if d.Kind == KindVideoInput {
			inputs = append(inputs, d.ID)
		}
	}
	if len(inputs) == 0 {
		return ""
	}
	for i, id := range inputs {
		if id == current {
			return inputs[(i+1)%len(inputs)]
		}
	}
	return inputs[0]
}
