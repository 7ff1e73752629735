package call

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/callcore/call/api"
	"github.com/taskforge/callcore/config"
	"github.com/taskforge/callcore/device"
	"github.com/taskforge/callcore/media/codec"
	"github.com/taskforge/callcore/signaling"
	"github.com/taskforge/callcore/wire"
)

// fakeSignalConn is an in-memory signaling.Conn.
type fakeSignalConn struct {
	incoming chan []byte
	done     chan struct{}
	once     sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeSignalConn() *fakeSignalConn {
	return &fakeSignalConn{
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeSignalConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.incoming:
		return data, nil
	case <-f.done:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeSignalConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSignalConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSignalConn) sentOfType(msgType string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, raw := range f.sent {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil && m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// fakeMediaSocket is an in-memory MediaSocket.
type fakeMediaSocket struct {
	incoming chan []byte
	done     chan struct{}
	once     sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeMediaSocket() *fakeMediaSocket {
	return &fakeMediaSocket{
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (s *fakeMediaSocket) Send(data []byte) error {
	select {
	case <-s.done:
		return errors.New("socket closed")
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *fakeMediaSocket) Receive() ([]byte, error) {
	select {
	case data := <-s.incoming:
		return data, nil
	case <-s.done:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeMediaSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeMediaSocket) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *fakeMediaSocket) sentPackets(t *testing.T) []wire.MediaPacket {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.MediaPacket
	for _, raw := range s.sent {
		packet, err := wire.Decode(raw)
		require.NoError(t, err)
		out = append(out, packet)
	}
	return out
}

type fakeMediaDialer struct {
	mu      sync.Mutex
	urls    []string
	sockets []*fakeMediaSocket
	fail    bool
}

func (d *fakeMediaDialer) dial(wsURL string) (MediaSocket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, wsURL)
	if d.fail {
		return nil, errors.New("relay unreachable")
	}
	sock := newFakeMediaSocket()
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

func (d *fakeMediaDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeMediaDialer) lastSocket() *fakeMediaSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// recordingProvider wraps the fake device provider to expose the
// streams it handed out and count enumerations.
type recordingProvider struct {
	*device.FakeProvider

	mu         sync.Mutex
	streams    []*device.Stream
	enumerates int
}

func (p *recordingProvider) GetUserMedia(ctx context.Context, c device.Constraints) (*device.Stream, error) {
	stream, err := p.FakeProvider.GetUserMedia(ctx, c)
	if err == nil {
		p.mu.Lock()
		p.streams = append(p.streams, stream)
		p.mu.Unlock()
	}
	return stream, err
}

func (p *recordingProvider) Enumerate(ctx context.Context) ([]device.Info, error) {
	p.mu.Lock()
	p.enumerates++
	p.mu.Unlock()
	return p.FakeProvider.Enumerate(ctx)
}

func (p *recordingProvider) lastStream() *device.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

func (p *recordingProvider) enumerateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enumerates
}

// backendState is a programmable fake call-control backend.
type backendState struct {
	mu                  sync.Mutex
	paths               []string
	failCreate          bool
	failAccept          bool
	acceptAlreadyActive bool
	failReject          bool
	failEnd             bool
	failAdd             bool
	createBlock         chan struct{}
	acceptBlock         chan struct{}
}

func (b *backendState) set(apply func(*backendState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	apply(b)
}

func (b *backendState) recordedPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func (b *backendState) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.paths = append(b.paths, r.Method+" "+r.URL.Path)
	snapshot := struct {
		failCreate, failAccept, acceptAlreadyActive bool
		failReject, failEnd, failAdd                bool
		createBlock, acceptBlock                    chan struct{}
	}{
		b.failCreate, b.failAccept, b.acceptAlreadyActive,
		b.failReject, b.failEnd, b.failAdd,
		b.createBlock, b.acceptBlock,
	}
	b.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/video-calls" && r.Method == http.MethodPost:
		if snapshot.createBlock != nil {
			<-snapshot.createBlock
		}
		if snapshot.failCreate {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "storage down"})
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		resp := api.VideoCall{
			ID:        "call-1",
			MediaPath: "/media/call-1",
			Participants: []api.Participant{
				{UserID: "u-local"}, {UserID: "u-remote"},
			},
		}
		if ct, ok := body["call_type"].(string); ok {
			resp.CallType = ct
		}
		if gid, ok := body["group_id"].(string); ok {
			resp.GroupID = gid
		}
		json.NewEncoder(w).Encode(resp)

	case strings.HasSuffix(path, "/accept"):
		if snapshot.acceptBlock != nil {
			<-snapshot.acceptBlock
		}
		if snapshot.acceptAlreadyActive {
			w.WriteHeader(http.StatusConflict)
			return
		}
		if snapshot.failAccept {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "not invited"})
			return
		}
		callID := strings.Split(strings.TrimPrefix(path, "/video-calls/"), "/")[0]
		json.NewEncoder(w).Encode(api.VideoCall{
			ID:        callID,
			MediaPath: "/media/" + callID,
			Participants: []api.Participant{
				{UserID: "u-local"}, {UserID: "u-remote"},
			},
		})

	case strings.HasSuffix(path, "/reject"):
		if snapshot.failReject {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case strings.HasSuffix(path, "/end"):
		if snapshot.failEnd {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case strings.HasSuffix(path, "/participants") && r.Method == http.MethodPost:
		if snapshot.failAdd {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]api.Participant{
			{UserID: "u-local"}, {UserID: "u-remote"}, {UserID: "u-3"},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type sessionRecorder struct {
	mu   sync.Mutex
	list []Session
}

func (r *sessionRecorder) record(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, s)
}

func (r *sessionRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.list))
	for i, s := range r.list {
		out[i] = s.Status
	}
	return out
}

type fixture struct {
	manager  *Manager
	channel  *signaling.Channel
	provider *device.FakeProvider
	devices  *recordingProvider
	media    *fakeMediaDialer
	backend  *backendState
	recorder *sessionRecorder

	mu      sync.Mutex
	sigConn *fakeSignalConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		devices:  &recordingProvider{FakeProvider: device.NewFakeProvider()},
		media:    &fakeMediaDialer{},
		backend:  &backendState{},
		recorder: &sessionRecorder{},
	}
	f.provider = f.devices.FakeProvider

	server := httptest.NewServer(http.HandlerFunc(f.backend.handle))
	t.Cleanup(server.Close)

	apiClient, err := api.NewClient(server.URL)
	require.NoError(t, err)

	channel, err := signaling.NewChannel("wss://sig.test/ws", signaling.Options{
		Dialer: func(string) (signaling.Conn, error) {
			conn := newFakeSignalConn()
			f.mu.Lock()
			f.sigConn = conn
			f.mu.Unlock()
			return conn, nil
		},
		HeartbeatInterval: time.Hour,
		ReconnectBase:     time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, channel.Connect("tok"))
	t.Cleanup(func() { channel.Close() })
	f.channel = channel

	cfg := &config.Config{
		APIBaseURL:        server.URL,
		SignalingURL:      "wss://sig.test/ws",
		HeartbeatInterval: time.Hour,
		MaxReconnects:     5,
		ReconnectBase:     time.Millisecond,
		VideoBitRate:      500_000,
		AudioBitRate:      32_000,
		KeyFrameInterval:  4,
	}

	manager, err := NewManager(Options{
		API:         apiClient,
		Channel:     channel,
		Devices:     f.devices,
		Config:      cfg,
		LocalUserID: "u-local",
		MediaDialer: f.media.dial,
	})
	require.NoError(t, err)
	manager.OnSessionChange(f.recorder.record)
	manager.Start("tok")
	t.Cleanup(manager.Stop)
	f.manager = manager
	return f
}

func (f *fixture) signal(t *testing.T, event map[string]any) {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	f.mu.Lock()
	conn := f.sigConn
	f.mu.Unlock()
	require.NotNil(t, conn)
	conn.incoming <- data
}

func (f *fixture) connSent(msgType string) []map[string]any {
	f.mu.Lock()
	conn := f.sigConn
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.sentOfType(msgType)
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Session().Status == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for status %s", want)
}

func (f *fixture) goIncoming(t *testing.T, callID, callType string) {
	t.Helper()
	f.signal(t, map[string]any{
		"type":          "call_initiated",
		"callId":        callID,
		"callerId":      "u-2",
		"caller_name":   "Ada",
		"call_type":     callType,
		"media_ws_path": "/media/" + callID,
	})
	waitStatus(t, f.manager, StatusIncoming)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestInitiateCallGoesOutgoing(t *testing.T) {
	f := newFixture(t)

	err := f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote", Name: "Bob"}, TypeVideo)
	require.NoError(t, err)

	session := f.manager.Session()
	assert.Equal(t, StatusOutgoing, session.Status)
	assert.Equal(t, "call-1", session.CallID)
	assert.Equal(t, TypeVideo, session.CallType)
	assert.Equal(t, "u-remote", session.RemotePeer.ID)
	assert.Len(t, session.Participants, 2)
	assert.Contains(t, f.backend.recordedPaths(), "POST /video-calls")

	// Optimistic transition: the first visible snapshot is already
	// Outgoing, before the backend answered.
	statuses := f.recorder.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusOutgoing, statuses[0])
}

func TestInitiateGroupCall(t *testing.T) {
	f := newFixture(t)

	err := f.manager.InitiateGroupCall(context.Background(), "g-7", TypeVoice)
	require.NoError(t, err)

	session := f.manager.Session()
	assert.Equal(t, StatusOutgoing, session.Status)
	assert.True(t, session.IsGroup)
	assert.Equal(t, "g-7", session.GroupID)
}

func TestInitiateWhileBusy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo))

	err := f.manager.InitiateCall(context.Background(), Peer{ID: "u-other"}, TypeVideo)
	assert.ErrorIs(t, err, ErrCallInProgress)
}

func TestInitiatePermissionDeniedReverts(t *testing.T) {
	f := newFixture(t)
	f.provider.DenyPermission = true

	err := f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrPermissionDenied)
	assert.Equal(t, StatusIdle, f.manager.Session().Status)
	assert.Empty(t, f.backend.recordedPaths())
}

func TestInitiateBackendFailureReverts(t *testing.T) {
	f := newFixture(t)
	f.backend.set(func(b *backendState) { b.failCreate = true })

	err := f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrBackendRejection)
	assert.Equal(t, StatusIdle, f.manager.Session().Status)
}

func TestOutgoingActivatesOnRemoteAccept(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo))

	f.signal(t, map[string]any{"type": "call_accepted", "call_id": "call-1"})
	waitStatus(t, f.manager, StatusActive)

	require.Equal(t, 1, f.media.dialCount())
	assert.Equal(t, "wss://sig.test/media/call-1?token=tok", f.media.urls[0])
	assert.False(t, f.manager.Session().StartedAt.IsZero())

	// Local media flows to the relay.
	sock := f.media.lastSocket()
	require.Eventually(t, func() bool {
		return len(sock.sentPackets(t)) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRemoteAcceptRefreshesDevices(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo))
	before := f.devices.enumerateCount()

	f.signal(t, map[string]any{"type": "call_accepted", "call_id": "call-1"})
	waitStatus(t, f.manager, StatusActive)

	require.Eventually(t, func() bool {
		return f.devices.enumerateCount() > before
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEncoderParamsCarryConfiguredBitrates(t *testing.T) {
	cfg := &config.Config{VideoBitRate: 2_500_000, AudioBitRate: 96_000, KeyFrameInterval: 30}

	video := codec.VideoParams{
		BitRate:          uint32(cfg.VideoBitRate),
		KeyFrameInterval: cfg.KeyFrameInterval,
	}.WithDefaults()
	audio := codec.AudioParams{BitRate: uint32(cfg.AudioBitRate)}.WithDefaults()

	assert.Equal(t, uint32(2_500_000), video.BitRate)
	assert.Equal(t, 30, video.KeyFrameInterval)
	assert.Equal(t, uint32(96_000), audio.BitRate)
}

func TestStaleAcceptIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo))

	f.signal(t, map[string]any{"type": "call_accepted", "call_id": "other-call"})
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StatusOutgoing, f.manager.Session().Status)
	assert.Equal(t, 0, f.media.dialCount())
}

func TestIncomingCallRings(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)

	session := f.manager.Session()
	assert.Equal(t, "call-9", session.CallID)
	assert.Equal(t, "u-2", session.RemotePeer.ID)
	assert.Equal(t, "Ada", session.RemotePeer.Name)
	assert.Equal(t, "/media/call-9", session.MediaPath)
}

func TestIncomingWhileBusyIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo))

	f.signal(t, map[string]any{"type": "call_initiated", "call_id": "call-9", "caller_id": "u-2"})
	time.Sleep(30 * time.Millisecond)

	session := f.manager.Session()
	assert.Equal(t, StatusOutgoing, session.Status)
	assert.Equal(t, "call-1", session.CallID)
}

func TestAcceptCall(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)

	require.NoError(t, f.manager.AcceptCall(context.Background()))

	session := f.manager.Session()
	assert.Equal(t, StatusActive, session.Status)
	assert.Len(t, session.Participants, 2)
	require.Equal(t, 1, f.media.dialCount())
	assert.Equal(t, "wss://sig.test/media/call-9?token=tok", f.media.urls[0])

	accepted := f.connSent("call_accepted")
	require.Len(t, accepted, 1)
	assert.Equal(t, "call-9", accepted[0]["call_id"])
}

func TestAcceptCallWithoutRinging(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.manager.AcceptCall(context.Background()), ErrNotRinging)
}

func TestAcceptCallMediaDeniedStaysRinging(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	f.provider.DenyPermission = true

	err := f.manager.AcceptCall(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrPermissionDenied)
	assert.Equal(t, StatusIncoming, f.manager.Session().Status)
}

func TestAcceptCallAlreadyActiveIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	f.backend.set(func(b *backendState) { b.acceptAlreadyActive = true })

	require.NoError(t, f.manager.AcceptCall(context.Background()))
	assert.Equal(t, StatusActive, f.manager.Session().Status)
}

func TestAcceptCallBackendRejectionStaysRinging(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	f.backend.set(func(b *backendState) { b.failAccept = true })

	err := f.manager.AcceptCall(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrBackendRejection)
	assert.Equal(t, StatusIncoming, f.manager.Session().Status)
}

func TestAcceptCallWhenActiveIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	require.NoError(t, f.manager.AcceptCall(context.Background()))
	assert.Equal(t, 1, f.media.dialCount())
}

func TestAcceptRacingRemoteEndReleasesMedia(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.backend.set(func(b *backendState) { b.acceptBlock = release })
	f.goIncoming(t, "call-9", TypeVoice)

	done := make(chan error, 1)
	go func() {
		done <- f.manager.AcceptCall(context.Background())
	}()

	// With the accept round-trip in flight, the remote side hangs up.
	require.Eventually(t, func() bool {
		for _, p := range f.backend.recordedPaths() {
			if strings.HasSuffix(p, "/accept") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	f.signal(t, map[string]any{"type": "call_ended", "call_id": "call-9"})
	waitStatus(t, f.manager, StatusIdle)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, StatusIdle, f.manager.Session().Status)

	// The stream acquired for the accept is fully stopped, and the
	// dead call is not announced as accepted.
	stream := f.devices.lastStream()
	require.NotNil(t, stream)
	require.Eventually(t, func() bool {
		for _, track := range stream.Tracks() {
			if !track.Stopped() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.connSent("call_accepted"))
}

func TestRejectCall(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)

	require.NoError(t, f.manager.RejectCall(context.Background()))

	assert.Equal(t, StatusIdle, f.manager.Session().Status)
	rejected := f.connSent("call_rejected")
	require.Len(t, rejected, 1)
	assert.Equal(t, "call-9", rejected[0]["call_id"])
	assert.Contains(t, f.backend.recordedPaths(), "POST /video-calls/call-9/reject")
}

func TestRejectCallBackendFailureStillTearsDown(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	f.backend.set(func(b *backendState) { b.failReject = true })

	require.NoError(t, f.manager.RejectCall(context.Background()))
	assert.Equal(t, StatusIdle, f.manager.Session().Status)
}

func TestEndCallTearsEverythingDown(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))
	sock := f.media.lastSocket()

	require.NoError(t, f.manager.EndCall(context.Background()))

	assert.Equal(t, StatusIdle, f.manager.Session().Status)
	assert.True(t, sock.Closed())
	assert.Contains(t, f.backend.recordedPaths(), "POST /video-calls/call-9/end")
	require.NotEmpty(t, f.connSent("call_ended"))

	// The transient Ended state is visible before Idle.
	statuses := f.recorder.statuses()
	var sawEnded bool
	for i := 0; i < len(statuses)-1; i++ {
		if statuses[i] == StatusEnded && statuses[len(statuses)-1] == StatusIdle {
			sawEnded = true
		}
	}
	assert.True(t, sawEnded)
}

func TestEndCallWithoutCall(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.manager.EndCall(context.Background()), ErrNoActiveCall)
}

func TestRemoteEndGuardsCallID(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	f.signal(t, map[string]any{"type": "call_ended", "call_id": "some-other-call"})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StatusActive, f.manager.Session().Status)

	f.signal(t, map[string]any{"type": "call_ended", "call_id": "call-9"})
	waitStatus(t, f.manager, StatusIdle)
}

func TestRemoteRejectEndsOutgoing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo))

	f.signal(t, map[string]any{"type": "call_rejected", "call_id": "call-1"})
	waitStatus(t, f.manager, StatusIdle)
}

func TestRelayLossEndsCall(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	f.media.lastSocket().Close()
	waitStatus(t, f.manager, StatusIdle)
}

func TestIncomingMediaReachesCallbacks(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	senders := map[string]int{}
	f.manager.SetRemoteAudioCallback(func(senderID string, _ codec.PCMFrame) {
		mu.Lock()
		senders[senderID]++
		mu.Unlock()
	})

	f.goIncoming(t, "call-9", TypeVoice)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	packet := wire.MediaPacket{
		MediaType: wire.MediaTypeAudio,
		SenderID:  "u-2",
		Payload:   []byte{0x01, 0x02, 0x03, 0x04},
		Timestamp: 10,
	}
	f.media.lastSocket().incoming <- wire.Encode(packet)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return senders["u-2"] > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestVoiceCallSendsOnlyAudio(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-5", TypeVoice)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	sock := f.media.lastSocket()
	require.Eventually(t, func() bool {
		return len(sock.sentPackets(t)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	for _, packet := range sock.sentPackets(t) {
		assert.Equal(t, wire.MediaTypeAudio, packet.MediaType)
	}
}

func TestAddParticipant(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	require.NoError(t, f.manager.AddParticipant(context.Background(), "u-3"))
	assert.Len(t, f.manager.Session().Participants, 3)
}

func TestAddParticipantFailureKeepsCall(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))
	f.backend.set(func(b *backendState) { b.failAdd = true })

	err := f.manager.AddParticipant(context.Background(), "u-3")
	require.Error(t, err)
	assert.Equal(t, StatusActive, f.manager.Session().Status)
	assert.Len(t, f.manager.Session().Participants, 2)
}

func TestAddParticipantRequiresActiveCall(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.manager.AddParticipant(context.Background(), "u-3"), ErrNoActiveCall)
}

func TestFlipCameraCycles(t *testing.T) {
	f := newFixture(t)
	f.provider.SetDevices([]device.Info{
		{ID: "mic-0", Kind: device.KindAudioInput},
		{ID: "cam-0", Kind: device.KindVideoInput},
		{ID: "cam-1", Kind: device.KindVideoInput},
	})
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))
	require.Equal(t, "cam-0", f.manager.Selection().VideoInput)

	require.NoError(t, f.manager.FlipCamera(context.Background()))
	assert.Equal(t, "cam-1", f.manager.Selection().VideoInput)

	require.NoError(t, f.manager.FlipCamera(context.Background()))
	assert.Equal(t, "cam-0", f.manager.Selection().VideoInput)
}

func TestFlipCameraSingleDevice(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	assert.ErrorIs(t, f.manager.FlipCamera(context.Background()), ErrNoAlternateDevice)
}

func TestSwitchMicrophone(t *testing.T) {
	f := newFixture(t)
	f.provider.SetDevices([]device.Info{
		{ID: "mic-0", Kind: device.KindAudioInput},
		{ID: "mic-1", Kind: device.KindAudioInput},
		{ID: "cam-0", Kind: device.KindVideoInput},
	})
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	require.NoError(t, f.manager.SwitchMicrophone(context.Background(), "mic-1"))
	assert.Equal(t, "mic-1", f.manager.Selection().AudioInput)
}

func TestSwitchDeviceRequiresActiveCall(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.manager.SwitchCamera(context.Background(), "cam-0"), ErrNoActiveCall)
}

func TestMediaStateToggles(t *testing.T) {
	f := newFixture(t)
	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))

	f.manager.SetMicMuted(true)
	f.manager.SetCameraHidden(true)

	session := f.manager.Session()
	assert.True(t, session.MicMuted)
	assert.True(t, session.CameraHidden)

	states := f.connSent("call_media_state")
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.Equal(t, true, last["mic_muted"])
	assert.Equal(t, true, last["camera_hidden"])

	// Teardown resets the toggles.
	require.NoError(t, f.manager.EndCall(context.Background()))
	assert.False(t, f.manager.Session().MicMuted)
	assert.False(t, f.manager.Session().CameraHidden)
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.manager.Cleanup()
	f.manager.Cleanup()
	assert.Equal(t, StatusIdle, f.manager.Session().Status)

	f.goIncoming(t, "call-9", TypeVideo)
	require.NoError(t, f.manager.AcceptCall(context.Background()))
	f.manager.Cleanup()
	f.manager.Cleanup()
	assert.Equal(t, StatusIdle, f.manager.Session().Status)
}

func TestStaleCreateResultDiscarded(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.backend.set(func(b *backendState) { b.createBlock = release })

	done := make(chan error, 1)
	go func() {
		done <- f.manager.InitiateCall(context.Background(), Peer{ID: "u-remote"}, TypeVideo)
	}()

	// Wait for the create request to be in flight, then tear down.
	require.Eventually(t, func() bool {
		return len(f.backend.recordedPaths()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	f.manager.Cleanup()
	close(release)

	require.NoError(t, <-done)
	time.Sleep(30 * time.Millisecond)
	session := f.manager.Session()
	assert.Equal(t, StatusIdle, session.Status)
	assert.Empty(t, session.CallID)
	assert.Equal(t, 0, f.media.dialCount())
}

func TestSessionDuration(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.manager.Session().Duration())

	f.goIncoming(t, "call-9", TypeVoice)
	require.NoError(t, f.manager.AcceptCall(context.Background()))
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, f.manager.Session().Duration(), time.Duration(0))
}
