package device

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionRefreshDefaultsToFirstOfKind(t *testing.T) {
	devices := []Info{
		{ID: "mic-1", Kind: KindAudioInput},
		{ID: "mic-2", Kind: KindAudioInput},
		{ID: "spk-1", Kind: KindAudioOutput},
		{ID: "cam-1", Kind: KindVideoInput},
	}

	sel := Selection{}.Refresh(devices)
	assert.Equal(t, "mic-1", sel.AudioInput)
	assert.Equal(t, "spk-1", sel.AudioOutput)
	assert.Equal(t, "cam-1", sel.VideoInput)
}

func TestSelectionRefreshKeepsExistingChoice(t *testing.T) {
	devices := []Info{
		{ID: "mic-1", Kind: KindAudioInput},
		{ID: "mic-2", Kind: KindAudioInput},
	}

	sel := Selection{AudioInput: "mic-2"}.Refresh(devices)
	assert.Equal(t, "mic-2", sel.AudioInput)

	// Vanished device falls back to first of kind.
	sel = Selection{AudioInput: "mic-9"}.Refresh(devices)
	assert.Equal(t, "mic-1", sel.AudioInput)
}

func TestNextVideoInputCycles(t *testing.T) {
	devices := []Info{
		{ID: "cam-1", Kind: KindVideoInput},
		{ID: "mic-1", Kind: KindAudioInput},
		{ID: "cam-2", Kind: KindVideoInput},
	}

	assert.Equal(t, "cam-2", NextVideoInput(devices, "cam-1"))
	assert.Equal(t, "cam-1", NextVideoInput(devices, "cam-2"))
	assert.Equal(t, "cam-1", NextVideoInput(devices, "unknown"))
	assert.Equal(t, "", NextVideoInput(nil, "cam-1"))
}

func TestFakeProviderGetUserMedia(t *testing.T) {
	p := NewFakeProvider()

	stream, err := p.GetUserMedia(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, stream.Tracks(), 2)

	audio := stream.TrackOfKind(TrackKindAudio)
	require.NotNil(t, audio)
	assert.Equal(t, "mic-0", audio.DeviceID())

	video := stream.TrackOfKind(TrackKindVideo)
	require.NotNil(t, video)
	assert.Equal(t, "cam-0", video.DeviceID())
}

func TestFakeProviderPermissionDenied(t *testing.T) {
	p := NewFakeProvider()
	p.DenyPermission = true

	_, err := p.GetUserMedia(context.Background(), Constraints{Audio: true})
	assert.True(t, errors.Is(err, ErrPermissionDenied))
}

func TestFakeProviderUnsupported(t *testing.T) {
	p := NewFakeProvider()
	p.Unsupported = true

	_, err := p.Enumerate(context.Background())
	assert.True(t, errors.Is(err, ErrUnsupportedEnvironment))

	_, err = p.GetUserMedia(context.Background(), Constraints{Audio: true})
	assert.True(t, errors.Is(err, ErrUnsupportedEnvironment))
}

func TestFakeTrackFrameSourceEndsOnStop(t *testing.T) {
	track := NewFakeTrack(TrackKindVideo, "cam-0", 100)
	src := track.Frames()

	frame, err := src.Next()
	require.NoError(t, err)
	frame.Release()
	frame.Release() // idempotent
	assert.Equal(t, int64(1), track.ReleasedFrames())

	track.Stop()
	_, err = src.Next()
	assert.Equal(t, io.EOF, err)
}

func TestStreamReplaceTrackChangesIdentity(t *testing.T) {
	oldTrack := NewFakeTrack(TrackKindVideo, "cam-0", 1)
	stream := NewStream(oldTrack)
	idBefore := stream.ID()

	newTrack := NewFakeTrack(TrackKindVideo, "cam-1", 1)
	replaced := stream.ReplaceTrack(newTrack)

	assert.Same(t, oldTrack, replaced.(*FakeTrack))
	assert.NotEqual(t, idBefore, stream.ID())
	assert.Same(t, newTrack, stream.TrackOfKind(TrackKindVideo).(*FakeTrack))
	assert.False(t, replaced.Stopped(), "stream must not stop tracks itself")
}

func TestFakeProviderDeviceChangeNotification(t *testing.T) {
	p := NewFakeProvider()

	fired := 0
	unsub := p.OnDeviceChange(func() { fired++ })

	p.SetDevices([]Info{{ID: "cam-9", Kind: KindVideoInput}})
	assert.Equal(t, 1, fired)

	unsub()
	p.SetDevices(nil)
	assert.Equal(t, 1, fired)
}
