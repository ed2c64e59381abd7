package webos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/shmem"
)

func TestPowerLineFrequency(t *testing.T) {
	require.Equal(t, 1, powerLineFrequency(capture.PowerLineFrequency50Hz))
	require.Equal(t, 2, powerLineFrequency(capture.PowerLineFrequency60Hz))
	require.Equal(t, 3, powerLineFrequency(capture.PowerLineFrequencyDefault))
}

func newTestDevice(t *testing.T) (*testEnv, *Device) {
	env := newTestEnv()
	env.bus.setReply(methodGetInfo, replyInfoSmall)
	// one frame is ready when buffer opens
	env.onAttach = func(ring *shmem.Ring) {
		_ = ring.Write(testFrame())
	}

	device := newDevice(env.service, capture.Descriptor{DeviceID: "camera1"}, 100, false)
	env.service.Release()

	return env, device
}

var testParams = capture.Params{
	RequestedFormat:    capture.Format{FrameSize: capture.Size{Width: 4, Height: 2}, FrameRate: 30},
	PowerLineFrequency: capture.PowerLineFrequency60Hz,
}

func TestDeviceQueuedRequests(t *testing.T) {
	env, device := newTestDevice(t)

	photos := make(chan *capture.Blob, 2)
	states := make(chan *capture.PhotoState, 1)

	device.SetRotation(180)
	device.TakePhoto(func(blob *capture.Blob) { photos <- blob })
	device.GetPhotoState(func(state *capture.PhotoState) { states <- state })
	device.TakePhoto(func(blob *capture.Blob) { photos <- blob })

	client := &testClient{}
	device.AllocateAndStart(testParams, client)

	for i := 0; i < 2; i++ {
		select {
		case blob := <-photos:
			require.Equal(t, capture.MimeTypeJPEG, blob.MimeType)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "photo timeout")
		}
	}

	select {
	case state := <-states:
		require.Equal(t, 4.0, state.Width.Current)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "state timeout")
	}

	require.Eventually(t, func() bool {
		_, frames, _ := client.snapshot()
		return frames == 1
	}, 5*time.Second, time.Millisecond)

	client.mu.Lock()
	require.Equal(t, 180, client.frames[0].Rotation)
	client.mu.Unlock()

	props, _ := env.bus.lastCall(methodSetProperties).Dict(keyParams)
	freq, _ := props.Int(propFrequency)
	require.Equal(t, 2, freq)

	require.Nil(t, device.Close())

	require.Equal(t, methodClose, env.bus.methods()[len(env.bus.methods())-1])

	env.bus.mu.Lock()
	require.Equal(t, 1, env.bus.closed)
	env.bus.mu.Unlock()
}

func TestDeviceAllocateTwice(t *testing.T) {
	env, device := newTestDevice(t)
	defer device.Close()

	client := &testClient{}
	device.AllocateAndStart(testParams, client)
	device.AllocateAndStart(testParams, client)

	require.Eventually(t, func() bool {
		started, _, _ := client.snapshot()
		return started == 1
	}, 5*time.Second, time.Millisecond)

	device.StopAndDeAllocate()

	require.Eventually(t, func() bool {
		methods := env.bus.methods()
		return methods[len(methods)-1] == methodClose
	}, 5*time.Second, time.Millisecond)

	var opens int
	for _, method := range env.bus.methods() {
		if method == methodOpen {
			opens++
		}
	}
	require.Equal(t, 1, opens)

	// allowed again after stop
	device.AllocateAndStart(testParams, client)
	require.Eventually(t, func() bool {
		started, _, _ := client.snapshot()
		return started == 2
	}, 5*time.Second, time.Millisecond)
}

func TestDeviceStopWithoutAllocate(t *testing.T) {
	env, device := newTestDevice(t)

	device.StopAndDeAllocate()
	require.Nil(t, device.Close())
	require.Nil(t, device.Close())
	require.Empty(t, env.bus.methods())

	// requests after close are dropped
	device.TakePhoto(func(blob *capture.Blob) {})
	require.Empty(t, device.pending)
}

func TestDeviceCloseAfterStop(t *testing.T) {
	env, device := newTestDevice(t)

	client := &testClient{}
	device.AllocateAndStart(testParams, client)

	require.Eventually(t, func() bool {
		started, _, _ := client.snapshot()
		return started == 1
	}, 5*time.Second, time.Millisecond)

	// runner busy, like capture blocked in buffer read
	device.mu.Lock()
	device.runner.Post(func() { time.Sleep(50 * time.Millisecond) })
	device.mu.Unlock()

	device.StopAndDeAllocate()
	require.Nil(t, device.Close())

	methods := env.bus.methods()
	require.Contains(t, methods, methodStopCamera)
	require.Equal(t, methodClose, methods[len(methods)-1])
	require.Empty(t, device.stopping)
}
