package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/taskforge/callcore/call/api"
	"github.com/taskforge/callcore/config"
	"github.com/taskforge/callcore/device"
	"github.com/taskforge/callcore/media"
	"github.com/taskforge/callcore/media/codec"
	"github.com/taskforge/callcore/signaling"
)

// Options wires a Manager's collaborators. API, Channel, Devices, and
// LocalUserID are required; the rest default.
type Options struct {
	API         *api.Client
	Channel     *signaling.Channel
	Devices     device.Provider
	Registry    *codec.Registry
	Config      *config.Config
	LocalUserID string
	MediaDialer MediaDialer
}

// Manager is the call lifecycle state machine. All state mutations
// funnel through it; presentation observes via Session snapshots.
//
// In-flight asynchronous work (media acquisition, REST round-trips,
// relay dialing) is tagged with the generation current when it was
// issued. A continuation whose generation no longer matches discards
// its effects, which is how a call torn down mid-setup stays torn
// down.
type Manager struct {
	logger      *logrus.Logger
	apiClient   *api.Client
	channel     *signaling.Channel
	devices     device.Provider
	registry    *codec.Registry
	cfg         *config.Config
	localUserID string
	dialMedia   MediaDialer

	mu           sync.RWMutex
	token        string
	status       Status
	callID       string
	callType     string
	groupID      string
	isGroup      bool
	remotePeer   Peer
	participants []api.Participant
	mediaPath    string
	micMuted     bool
	cameraHidden bool
	startedAt    time.Time
	generation   string

	localStream *device.Stream
	engine      *media.Engine
	socket      MediaSocket
	selection   device.Selection

	onChange      func(Session)
	onRemoteVideo media.VideoFrameCallback
	onRemoteAudio media.AudioFrameCallback

	unsubs  []func()
	started bool
}

// NewManager creates a Manager. It stays inert until Start.
func NewManager(opts Options) (*Manager, error) {
	if opts.API == nil {
		return nil, errors.New("call manager requires an API client")
	}
	if opts.Channel == nil {
		return nil, errors.New("call manager requires a signaling channel")
	}
	if opts.Devices == nil {
		return nil, errors.New("call manager requires a device provider")
	}
	if opts.LocalUserID == "" {
		return nil, errors.New("call manager requires a local user ID")
	}
	if opts.Registry == nil {
		opts.Registry = codec.DefaultRegistry()
	}
	if opts.MediaDialer == nil {
		opts.MediaDialer = DialMediaSocket
	}
	if opts.Config == nil {
		opts.Config = config.Load()
	}
	return &Manager{
		logger:      logrus.StandardLogger(),
		apiClient:   opts.API,
		channel:     opts.Channel,
		devices:     opts.Devices,
		registry:    opts.Registry,
		cfg:         opts.Config,
		localUserID: opts.LocalUserID,
		dialMedia:   opts.MediaDialer,
		status:      StatusIdle,
		generation:  uuid.NewString(),
	}, nil
}

// Start hooks the manager into the signaling channel and the device
// surface. Safe to call once per authenticated session.
func (m *Manager) Start(token string) {
	m.mu.Lock()
	if m.started {
		m.token = token
		m.mu.Unlock()
		return
	}
	m.started = true
	m.token = token
	m.mu.Unlock()

	m.apiClient.SetToken(token)

	m.unsubs = append(m.unsubs,
		m.channel.Subscribe(signaling.TypeCallInitiated, m.handleCallInitiated),
		m.channel.Subscribe(signaling.TypeCallAccepted, m.handleCallAccepted),
		m.channel.Subscribe(signaling.TypeCallRejected, m.handleRemoteRejected),
		m.channel.Subscribe(signaling.TypeCallEnded, m.handleRemoteEnded),
		m.devices.OnDeviceChange(func() {
			m.refreshDevices(context.Background())
		}),
	)

	m.logger.WithFields(logrus.Fields{
		"function": "Start",
		"user_id":  m.localUserID,
	}).Info("Call manager started")
}

// Stop detaches the manager and tears down any live call.
func (m *Manager) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	m.Cleanup()
}

// OnSessionChange installs the snapshot callback. It is invoked after
// every visible state transition, without manager locks held.
func (m *Manager) OnSessionChange(cb func(Session)) {
	m.mu.Lock()
	m.onChange = cb
	m.mu.Unlock()
}

// SetRemoteVideoCallback routes decoded remote video frames to the
// presentation layer.
func (m *Manager) SetRemoteVideoCallback(cb media.VideoFrameCallback) {
	m.mu.Lock()
	m.onRemoteVideo = cb
	engine := m.engine
	m.mu.Unlock()
	if engine != nil {
		engine.SetVideoCallback(cb)
	}
}

// SetRemoteAudioCallback routes decoded remote audio frames to the
// presentation layer.
func (m *Manager) SetRemoteAudioCallback(cb media.AudioFrameCallback) {
	m.mu.Lock()
	m.onRemoteAudio = cb
	engine := m.engine
	m.mu.Unlock()
	if engine != nil {
		engine.SetAudioCallback(cb)
	}
}

// Selection returns the current device selection.
func (m *Manager) Selection() device.Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selection
}

// Session returns the current snapshot.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionLocked()
}

func (m *Manager) sessionLocked() Session {
	parts := make([]api.Participant, len(m.participants))
	copy(parts, m.participants)
	return Session{
		Status:       m.status,
		CallID:       m.callID,
		CallType:     m.callType,
		IsGroup:      m.isGroup,
		GroupID:      m.groupID,
		RemotePeer:   m.remotePeer,
		Participants: parts,
		MediaPath:    m.mediaPath,
		MicMuted:     m.micMuted,
		CameraHidden: m.cameraHidden,
		StartedAt:    m.startedAt,
	}
}

// notify delivers the current snapshot to the change callback.
func (m *Manager) notify() {
	m.mu.RLock()
	cb := m.onChange
	session := m.sessionLocked()
	m.mu.RUnlock()
	if cb != nil {
		cb(session)
	}
}

// InitiateCall starts a direct call to peer. The session transitions
// to Outgoing before any I/O; failures revert it to Idle.
func (m *Manager) InitiateCall(ctx context.Context, peer Peer, callType string) error {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	gen := uuid.NewString()
	m.generation = gen
	m.status = StatusOutgoing
	m.callType = callType
	m.isGroup = false
	m.remotePeer = peer
	m.mu.Unlock()
	m.notify()

	m.logger.WithFields(logrus.Fields{
		"function":  "InitiateCall",
		"peer_id":   peer.ID,
		"call_type": callType,
	}).Info("Initiating call")

	stream, err := m.devices.GetUserMedia(ctx, m.constraints(callType))
	if err != nil {
		m.revertIfCurrent(gen)
		return fmt.Errorf("failed to acquire media: %w", err)
	}

	created, err := m.apiClient.CreateCall(ctx, peer.ID, callType)
	if err != nil {
		stream.StopAll()
		m.revertIfCurrent(gen)
		return fmt.Errorf("failed to create call: %w", err)
	}

	return m.completeInitiation(ctx, gen, stream, created)
}

// InitiateGroupCall starts a call on a group.
func (m *Manager) InitiateGroupCall(ctx context.Context, groupID, callType string) error {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	gen := uuid.NewString()
	m.generation = gen
	m.status = StatusOutgoing
	m.callType = callType
	m.isGroup = true
	m.groupID = groupID
	m.mu.Unlock()
	m.notify()

	m.logger.WithFields(logrus.Fields{
		"function":  "InitiateGroupCall",
		"group_id":  groupID,
		"call_type": callType,
	}).Info("Initiating group call")

	stream, err := m.devices.GetUserMedia(ctx, m.constraints(callType))
	if err != nil {
		m.revertIfCurrent(gen)
		return fmt.Errorf("failed to acquire media: %w", err)
	}

	created, err := m.apiClient.CreateGroupCall(ctx, groupID, callType)
	if err != nil {
		stream.StopAll()
		m.revertIfCurrent(gen)
		return fmt.Errorf("failed to create group call: %w", err)
	}

	return m.completeInitiation(ctx, gen, stream, created)
}

// completeInitiation records the backend's answer to a create request
// unless the session moved on while the request was in flight.
func (m *Manager) completeInitiation(ctx context.Context, gen string, stream *device.Stream, created *api.VideoCall) error {
	m.mu.Lock()
	if m.generation != gen || m.status != StatusOutgoing {
		m.mu.Unlock()
		stream.StopAll()
		m.logger.WithField("function", "completeInitiation").Debug("Discarding stale call creation")
		return nil
	}
	m.callID = created.ID
	m.mediaPath = created.MediaPath
	m.participants = append([]api.Participant(nil), created.Participants...)
	m.localStream = stream
	m.mu.Unlock()
	m.notify()
	m.refreshDevices(ctx)
	return nil
}

// revertIfCurrent rolls an aborted initiation back to Idle, unless a
// newer transition already owns the session.
func (m *Manager) revertIfCurrent(gen string) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.notify()
}

// AcceptCall answers the ringing call. A media acquisition failure
// leaves the call ringing so the user can retry; a backend "already
// active" answer counts as success.
func (m *Manager) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusActive:
		m.mu.Unlock()
		return nil
	case StatusIncoming:
	default:
		m.mu.Unlock()
		return ErrNotRinging
	}
	gen := m.generation
	callID := m.callID
	callType := m.callType
	mediaPath := m.mediaPath
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"function": "AcceptCall",
		"call_id":  callID,
	}).Info("Accepting call")

	stream, err := m.devices.GetUserMedia(ctx, m.constraints(callType))
	if err != nil {
		return fmt.Errorf("failed to acquire media: %w", err)
	}

	var participants []api.Participant
	accepted, err := m.apiClient.AcceptCall(ctx, callID)
	switch {
	case err == nil:
		if accepted.MediaPath != "" {
			mediaPath = accepted.MediaPath
		}
		participants = accepted.Participants
	case errors.Is(err, api.ErrCallAlreadyActive):
		m.logger.WithFields(logrus.Fields{
			"function": "AcceptCall",
			"call_id":  callID,
		}).Debug("Backend reports call already active, proceeding")
	default:
		stream.StopAll()
		return fmt.Errorf("failed to accept call: %w", err)
	}

	if err := m.goActive(gen, stream, mediaPath, participants); err != nil {
		if errors.Is(err, errStaleActivation) {
			// The call died while the accept was in flight. Media is
			// already released; do not announce the acceptance.
			return nil
		}
		stream.StopAll()
		return err
	}

	m.channel.Send(signaling.TypeCallAccepted, map[string]any{"call_id": callID})
	m.refreshDevices(ctx)
	return nil
}

// goActive opens the relay socket, stands up the media engine, and
// flips the session to Active. A stale generation discards everything.
func (m *Manager) goActive(gen string, stream *device.Stream, mediaPath string, participants []api.Participant) error {
	m.mu.RLock()
	token := m.token
	onVideo := m.onRemoteVideo
	onAudio := m.onRemoteAudio
	m.mu.RUnlock()

	sock, err := m.dialMedia(mediaURL(m.cfg.SignalingURL, mediaPath, token))
	if err != nil {
		return fmt.Errorf("failed to open media relay: %w", err)
	}

	engine, err := media.NewEngine(m.localUserID, sock, m.registry)
	if err != nil {
		sock.Close()
		return fmt.Errorf("failed to create media engine: %w", err)
	}
	engine.SetVideoParams(codec.VideoParams{
		BitRate:          uint32(m.cfg.VideoBitRate),
		KeyFrameInterval: m.cfg.KeyFrameInterval,
	})
	engine.SetAudioParams(codec.AudioParams{
		BitRate: uint32(m.cfg.AudioBitRate),
	})
	if onVideo != nil {
		engine.SetVideoCallback(onVideo)
	}
	if onAudio != nil {
		engine.SetAudioCallback(onAudio)
	}

	if err := engine.StartEncoding(stream); err != nil {
		engine.Destroy()
		sock.Close()
		return fmt.Errorf("failed to start encoding: %w", err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		engine.Destroy()
		sock.Close()
		// The session moved on while we were setting up; the stream
		// was never adopted, so its tracks are ours to stop.
		stream.StopAll()
		m.logger.WithField("function", "goActive").Debug("Discarding stale activation")
		return errStaleActivation
	}
	m.localStream = stream
	m.engine = engine
	m.socket = sock
	m.mediaPath = mediaPath
	if len(participants) > 0 {
		m.participants = append([]api.Participant(nil), participants...)
	}
	m.status = StatusActive
	m.startedAt = time.Now()
	m.mu.Unlock()

	go m.readMedia(sock, engine)
	m.notify()

	m.logger.WithFields(logrus.Fields{
		"function": "goActive",
		"call_id":  m.Session().CallID,
	}).Info("Call active")
	return nil
}

// readMedia pumps relay packets into the engine until the socket
// fails. Losing the relay mid-call ends the call.
func (m *Manager) readMedia(sock MediaSocket, engine *media.Engine) {
	for {
		data, err := sock.Receive()
		if err != nil {
			m.mu.Lock()
			current := m.socket == sock
			m.mu.Unlock()
			if current {
				m.logger.WithFields(logrus.Fields{
					"function": "readMedia",
					"error":    err.Error(),
				}).Warn("Media relay lost, ending call")
				m.finishCall()
			}
			return
		}
		engine.HandleIncomingData(data)
	}
}

// RejectCall declines the ringing call. Both the signaling event and
// the REST call are best-effort; local teardown always happens.
func (m *Manager) RejectCall(ctx context.Context) error {
	m.mu.RLock()
	status := m.status
	callID := m.callID
	m.mu.RUnlock()
	if status != StatusIncoming {
		return ErrNoActiveCall
	}

	m.channel.Send(signaling.TypeCallRejected, map[string]any{"call_id": callID})
	if err := m.apiClient.RejectCall(ctx, callID); err != nil {
		m.logger.WithFields(logrus.Fields{
			"function": "RejectCall",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Backend reject failed, tearing down anyway")
	}
	m.Cleanup()
	return nil
}

// EndCall hangs up. Both the signaling event and the REST call are
// best-effort; local teardown always happens.
func (m *Manager) EndCall(ctx context.Context) error {
	m.mu.RLock()
	status := m.status
	callID := m.callID
	m.mu.RUnlock()
	if status == StatusIdle {
		return ErrNoActiveCall
	}

	m.logger.WithFields(logrus.Fields{
		"function": "EndCall",
		"call_id":  callID,
	}).Info("Ending call")

	m.channel.Send(signaling.TypeCallEnded, map[string]any{"call_id": callID})
	if callID != "" {
		if err := m.apiClient.EndCall(ctx, callID); err != nil {
			m.logger.WithFields(logrus.Fields{
				"function": "EndCall",
				"call_id":  callID,
				"error":    err.Error(),
			}).Warn("Backend end failed, tearing down anyway")
		}
	}
	m.finishCall()
	return nil
}

// finishCall surfaces the transient Ended state, then returns to Idle.
func (m *Manager) finishCall() {
	m.mu.Lock()
	if m.status == StatusIdle {
		m.mu.Unlock()
		return
	}
	m.status = StatusEnded
	m.mu.Unlock()
	m.notify()
	m.Cleanup()
}

// AddParticipant invites another user into the active call. The
// backend's returned roster replaces the local one; a failure leaves
// the call untouched.
func (m *Manager) AddParticipant(ctx context.Context, userID string) error {
	m.mu.RLock()
	status := m.status
	callID := m.callID
	m.mu.RUnlock()
	if status != StatusActive {
		return ErrNoActiveCall
	}

	roster, err := m.apiClient.AddParticipant(ctx, callID, userID)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"function": "AddParticipant",
			"call_id":  callID,
			"user_id":  userID,
			"error":    err.Error(),
		}).Warn("Failed to add participant")
		return err
	}

	m.mu.Lock()
	m.participants = roster
	m.mu.Unlock()
	m.notify()
	return nil
}

// SwitchCamera swaps the live video track onto another camera.
func (m *Manager) SwitchCamera(ctx context.Context, deviceID string) error {
	return m.switchDevice(ctx, device.TrackKindVideo, deviceID)
}

// SwitchMicrophone swaps the live audio track onto another microphone.
func (m *Manager) SwitchMicrophone(ctx context.Context, deviceID string) error {
	return m.switchDevice(ctx, device.TrackKindAudio, deviceID)
}

// FlipCamera cycles to the next available camera.
func (m *Manager) FlipCamera(ctx context.Context) error {
	devices, err := m.devices.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	m.mu.RLock()
	current := m.selection.VideoInput
	m.mu.RUnlock()

	next := device.NextVideoInput(devices, current)
	if next == "" || next == current {
		return ErrNoAlternateDevice
	}
	return m.SwitchCamera(ctx, next)
}

// switchDevice acquires a fresh track on the target device, swaps it
// into the live stream and encoder, then stops the replaced track.
func (m *Manager) switchDevice(ctx context.Context, kind device.TrackKind, deviceID string) error {
	m.mu.RLock()
	status := m.status
	stream := m.localStream
	engine := m.engine
	m.mu.RUnlock()
	if status != StatusActive || stream == nil || engine == nil {
		return ErrNoActiveCall
	}

	constraints := device.Constraints{}
	if kind == device.TrackKindVideo {
		constraints.Video = true
		constraints.VideoDeviceID = deviceID
	} else {
		constraints.Audio = true
		constraints.AudioDeviceID = deviceID
	}

	fresh, err := m.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return fmt.Errorf("failed to acquire device %s: %w", deviceID, err)
	}
	newTrack := fresh.TrackOfKind(kind)
	if newTrack == nil {
		fresh.StopAll()
		return fmt.Errorf("device %s produced no %s track", deviceID, kind)
	}

	old := stream.ReplaceTrack(newTrack)

	if kind == device.TrackKindVideo {
		err = engine.ReplaceVideoTrack(newTrack)
	} else {
		err = engine.ReplaceAudioTrack(newTrack)
	}
	if err != nil {
		if old != nil {
			stream.ReplaceTrack(old)
		}
		newTrack.Stop()
		return fmt.Errorf("failed to switch encoder track: %w", err)
	}
	if old != nil {
		old.Stop()
	}

	m.mu.Lock()
	if kind == device.TrackKindVideo {
		m.selection.VideoInput = deviceID
	} else {
		m.selection.AudioInput = deviceID
	}
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"function":  "switchDevice",
		"kind":      string(kind),
		"device_id": deviceID,
	}).Info("Switched capture device")
	m.notify()
	return nil
}

// SetMicMuted toggles the microphone and advertises the new media
// state to the other participants.
func (m *Manager) SetMicMuted(muted bool) {
	m.setMediaState(func() { m.micMuted = muted })
}

// SetCameraHidden toggles the camera and advertises the new media
// state to the other participants.
func (m *Manager) SetCameraHidden(hidden bool) {
	m.setMediaState(func() { m.cameraHidden = hidden })
}

func (m *Manager) setMediaState(apply func()) {
	m.mu.Lock()
	apply()
	callID := m.callID
	muted := m.micMuted
	hidden := m.cameraHidden
	status := m.status
	m.mu.Unlock()

	if status == StatusActive {
		m.channel.Send(signaling.TypeMediaState, map[string]any{
			"call_id":       callID,
			"mic_muted":     muted,
			"camera_hidden": hidden,
		})
	}
	m.notify()
}

// Cleanup releases every call resource and returns to Idle. Safe to
// call from any state, any number of times.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	stream := m.localStream
	engine := m.engine
	sock := m.socket
	changed := m.status != StatusIdle
	m.resetLocked()
	m.mu.Unlock()

	if stream != nil {
		stream.StopAll()
	}
	if engine != nil {
		engine.Destroy()
	}
	if sock != nil {
		sock.Close()
	}
	if changed {
		m.logger.WithField("function", "Cleanup").Info("Call resources released")
		m.notify()
	}
}

// resetLocked clears the session back to Idle. Caller holds mu.
func (m *Manager) resetLocked() {
	m.status = StatusIdle
	m.callID = ""
	m.callType = ""
	m.groupID = ""
	m.isGroup = false
	m.remotePeer = Peer{}
	m.participants = nil
	m.mediaPath = ""
	m.micMuted = false
	m.cameraHidden = false
	m.startedAt = time.Time{}
	m.localStream = nil
	m.engine = nil
	m.socket = nil
	m.generation = uuid.NewString()
}

// handleCallInitiated rings an incoming invitation. A busy session
// ignores it.
func (m *Manager) handleCallInitiated(e signaling.Event) {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"function": "handleCallInitiated",
			"call_id":  e.CallID,
		}).Debug("Busy, ignoring incoming call")
		return
	}
	m.generation = uuid.NewString()
	m.status = StatusIncoming
	m.callID = e.CallID
	m.callType = e.CallType
	if m.callType == "" {
		m.callType = TypeVideo
	}
	m.isGroup = e.GroupID != ""
	m.groupID = e.GroupID
	m.remotePeer = Peer{ID: e.CallerID, Name: e.CallerName, AvatarURL: e.CallerAvatar}
	m.mediaPath = e.MediaPath
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"function":  "handleCallInitiated",
		"call_id":   e.CallID,
		"caller_id": e.CallerID,
	}).Info("Incoming call")
	m.notify()
	m.refreshDevices(context.Background())
}

// handleCallAccepted activates an outgoing call once the callee
// answers.
func (m *Manager) handleCallAccepted(e signaling.Event) {
	m.mu.Lock()
	if m.status != StatusOutgoing || e.CallID != m.callID {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"function": "handleCallAccepted",
			"call_id":  e.CallID,
		}).Debug("Ignoring stale accept")
		return
	}
	gen := m.generation
	stream := m.localStream
	mediaPath := m.mediaPath
	if e.MediaPath != "" {
		mediaPath = e.MediaPath
	}
	m.mu.Unlock()

	if stream == nil {
		m.logger.WithField("function", "handleCallAccepted").Error("Accept arrived before local media, tearing down")
		m.finishCall()
		return
	}
	if err := m.goActive(gen, stream, mediaPath, nil); err != nil {
		if errors.Is(err, errStaleActivation) {
			return
		}
		m.logger.WithFields(logrus.Fields{
			"function": "handleCallAccepted",
			"error":    err.Error(),
		}).Error("Failed to activate call")
		m.finishCall()
		return
	}
	m.refreshDevices(context.Background())
}

// handleRemoteRejected tears down an outgoing call the callee
// declined.
func (m *Manager) handleRemoteRejected(e signaling.Event) {
	m.mu.RLock()
	match := e.CallID == m.callID && m.status != StatusIdle
	m.mu.RUnlock()
	if !match {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"function": "handleRemoteRejected",
		"call_id":  e.CallID,
	}).Info("Call rejected by remote")
	m.finishCall()
}

// handleRemoteEnded tears down when the other side hangs up.
func (m *Manager) handleRemoteEnded(e signaling.Event) {
	m.mu.RLock()
	match := e.CallID == m.callID && m.status != StatusIdle
	m.mu.RUnlock()
	if !match {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"function": "handleRemoteEnded",
		"call_id":  e.CallID,
	}).Info("Call ended by remote")
	m.finishCall()
}

// constraints builds GetUserMedia constraints for the call type using
// the current device selection.
func (m *Manager) constraints(callType string) device.Constraints {
	m.mu.RLock()
	sel := m.selection
	m.mu.RUnlock()
	return device.Constraints{
		Audio:         true,
		Video:         callType == TypeVideo,
		AudioDeviceID: sel.AudioInput,
		VideoDeviceID: sel.VideoInput,
	}
}

// refreshDevices re-enumerates and re-validates the device selection.
func (m *Manager) refreshDevices(ctx context.Context) {
	devices, err := m.devices.Enumerate(ctx)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"function": "refreshDevices",
			"error":    err.Error(),
		}).Warn("Device enumeration failed")
		return
	}
	m.mu.Lock()
	m.selection = m.selection.Refresh(devices)
	m.mu.Unlock()
}
