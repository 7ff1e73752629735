// Package call implements the call lifecycle state machine. A Manager
// coordinates the REST backend, the signaling channel, the media
// engine, and the device surface, and exposes a single Session
// snapshot as the source of truth for presentation.
package call

import (
	"time"

	"github.com/taskforge/callcore/call/api"
)

// Status is the call lifecycle state.
type Status int

const (
	// StatusIdle means no call exists.
	StatusIdle Status = iota
	// StatusOutgoing means we initiated a call and are waiting for an
	// answer.
	StatusOutgoing
	// StatusIncoming means a remote invitation is ringing.
	StatusIncoming
	// StatusActive means media is flowing.
	StatusActive
	// StatusEnded is the transient state between an ending call and
	// the return to idle.
	StatusEnded
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusOutgoing:
		return "outgoing"
	case StatusIncoming:
		return "incoming"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Call types.
const (
	TypeVideo = "video"
	TypeVoice = "voice"
)

// Peer identifies the remote party of a direct call.
type Peer struct {
	ID        string
	Name      string
	AvatarURL string
}

// Session is an immutable snapshot of the call state. Presentation
// reads it synchronously via Manager.Session or receives it through
// the OnSessionChange callback.
type Session struct {
	Status       Status
	CallID       string
	CallType     string
	IsGroup      bool
	GroupID      string
	RemotePeer   Peer
	Participants []api.Participant
	MediaPath    string
	MicMuted     bool
	CameraHidden bool
	StartedAt    time.Time
}

// Duration reports how long the call has been active, zero otherwise.
func (s Session) Duration() time.Duration {
	if s.Status != StatusActive || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
