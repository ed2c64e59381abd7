package webos

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webosose/camcap/pkg/luna"
)

func TestServiceOpen(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	handle, err := env.service.Open(100, "camera1", ModePrimary)
	require.Nil(t, err)
	require.Equal(t, 7, handle)

	req := env.bus.lastCall(methodOpen)
	pid, _ := req.Int(keyPID)
	require.Equal(t, 100, pid)
	id, _ := req.String(keyID)
	require.Equal(t, "camera1", id)
	mode, _ := req.String(keyMode)
	require.Equal(t, ModePrimary, mode)
}

func TestServiceOpenNoHandle(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	env.bus.setReply(methodOpen, replyOK)

	_, err := env.service.Open(100, "camera1", ModePrimary)
	require.ErrorIs(t, err, ErrBadReply)
}

func TestServiceGetDeviceIds(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	ids, err := env.service.GetDeviceIds()
	require.Nil(t, err)
	require.Equal(t, []string{"camera1"}, ids)

	subscribe, ok := env.bus.lastCall(methodGetCameraList).Bool(keySubscribe)
	require.True(t, ok)
	require.False(t, subscribe)

	env.bus.setReply(methodGetCameraList, `{"returnValue":false,"deviceList":[{"id":"camera1"}]}`)
	ids, err = env.service.GetDeviceIds()
	require.ErrorIs(t, err, ErrBadReply)
	require.Nil(t, ids)

	env.bus.setReply(methodGetCameraList, replyOK)
	ids, err = env.service.GetDeviceIds()
	require.ErrorIs(t, err, ErrBadReply)
	require.Nil(t, ids)
}

func TestServiceReplyValidation(t *testing.T) {
	for _, reply := range []string{
		`{"handle":1,"key":2,"info":{},"params":{},"deviceList":[]}`,
		`{"returnValue":false,"handle":1,"key":2,"info":{},"params":{},"deviceList":[]}`,
		`{"returnValue":"true","handle":1,"key":2,"info":{},"params":{},"deviceList":[]}`,
		`not json`,
		`[]`,
		`null`,
	} {
		env := newTestEnv()
		for _, method := range []string{
			methodOpen, methodGetCameraList, methodGetInfo, methodGetProperties,
			methodSetProperties, methodSetFormat, methodStartCamera,
		} {
			env.bus.setReply(method, reply)
		}

		_, err := env.service.Open(1, "camera1", ModePrimary)
		require.NotNil(t, err, reply)
		_, err = env.service.GetDeviceIds()
		require.NotNil(t, err, reply)
		_, err = env.service.GetDeviceInfo("camera1")
		require.NotNil(t, err, reply)
		_, err = env.service.GetProperties("camera1")
		require.NotNil(t, err, reply)
		require.NotNil(t, env.service.SetProperties(1, luna.Dict{}), reply)
		require.NotNil(t, env.service.SetFormat(1, 640, 480, "YUV", 30), reply)
		_, err = env.service.StartCamera(1)
		require.NotNil(t, err, reply)

		env.service.Release()
	}
}

func TestServiceRequests(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	info, err := env.service.GetDeviceInfo("camera1")
	require.Nil(t, err)
	name, _ := info.String(keyName)
	require.Equal(t, "USB Camera", name)

	params, err := env.service.GetProperties("camera1")
	require.Nil(t, err)
	_, ok := params.Dict(propPan)
	require.True(t, ok)

	require.Nil(t, env.service.SetProperties(7, luna.Dict{propFrequency: 1}))
	req := env.bus.lastCall(methodSetProperties)
	props, _ := req.Dict(keyParams)
	freq, _ := props.Int(propFrequency)
	require.Equal(t, 1, freq)

	require.Nil(t, env.service.SetFormat(7, 1280, 720, "JPEG", 30))
	req = env.bus.lastCall(methodSetFormat)
	handle, _ := req.Int(keyHandle)
	require.Equal(t, 7, handle)
	params, _ = req.Dict(keyParams)
	width, _ := params.Int(keyWidth)
	format, _ := params.String(keyFormat)
	fps, _ := params.Int(keyFPS)
	require.Equal(t, 1280, width)
	require.Equal(t, "JPEG", format)
	require.Equal(t, 30, fps)

	key, err := env.service.StartCamera(7)
	require.Nil(t, err)
	require.Equal(t, 42, key)
	params, _ = env.bus.lastCall(methodStartCamera).Dict(keyParams)
	typ, _ := params.String(keyType)
	source, _ := params.String(keySource)
	require.Equal(t, "shared-memory", typ)
	require.Equal(t, "0", source)

	env.service.StopCamera(7)
	env.service.Close(100, 7)
	require.Equal(t, methodClose, env.bus.methods()[len(env.bus.methods())-1])
	require.NotNil(t, env.bus.lastCall(methodStopCamera))
}

func TestServiceValidation(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	_, err := env.service.Open(1, "", ModePrimary)
	require.ErrorIs(t, err, ErrCallFailed)
	_, err = env.service.GetDeviceInfo("")
	require.ErrorIs(t, err, ErrCallFailed)
	_, err = env.service.GetProperties("")
	require.ErrorIs(t, err, ErrCallFailed)
	require.ErrorIs(t, env.service.SetProperties(-1, luna.Dict{}), ErrCallFailed)
	require.ErrorIs(t, env.service.SetFormat(-1, 1, 1, "YUV", 1), ErrCallFailed)
	_, err = env.service.StartCamera(-1)
	require.ErrorIs(t, err, ErrCallFailed)
	env.service.StopCamera(-1)
	env.service.Close(1, -1)

	require.Empty(t, env.bus.methods())
	require.Zero(t, env.dialCount())
}

func TestServiceRedial(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	_, err := env.service.GetDeviceIds()
	require.Nil(t, err)
	require.Equal(t, 1, env.dialCount())

	env.bus.mu.Lock()
	env.bus.failNext = errors.New("broken pipe")
	env.bus.mu.Unlock()

	_, err = env.service.GetDeviceIds()
	require.ErrorIs(t, err, ErrCallFailed)

	_, err = env.service.GetDeviceIds()
	require.Nil(t, err)
	require.Equal(t, 2, env.dialCount())
}

func TestServiceNullReply(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	// bridge reply without payload is a bad reply, not a lost connection
	env.bus.setReply(methodGetInfo, "null")

	_, err := env.service.GetDeviceInfo("camera1")
	require.ErrorIs(t, err, ErrBadReply)

	_, err = env.service.GetDeviceIds()
	require.Nil(t, err)
	require.Equal(t, 1, env.dialCount())

	env.bus.mu.Lock()
	require.Zero(t, env.bus.closed)
	env.bus.mu.Unlock()
}

func TestServiceDialError(t *testing.T) {
	service := NewCameraService(func() (luna.Client, error) {
		return nil, errors.New("connection refused")
	}, nil)
	defer service.Release()

	_, err := service.GetDeviceIds()
	require.ErrorIs(t, err, ErrCallFailed)
}

func TestServiceSubscriptions(t *testing.T) {
	env := newTestEnv()

	var mu sync.Mutex
	var got []string

	cancel1 := env.service.SubscribeFaultEvent(func(payload string) {
		mu.Lock()
		got = append(got, "1:"+payload)
		mu.Unlock()
	})
	cancel2 := env.service.SubscribeFaultEvent(func(payload string) {
		mu.Lock()
		got = append(got, "2:"+payload)
		mu.Unlock()
	})
	env.service.SubscribeCameraChange(func(payload string) {})

	// single bus subscription per kind
	require.Equal(t, 1, env.bus.subscriptions(methodGetEventNotification))
	require.Equal(t, 1, env.bus.subscriptions(methodGetCameraList))

	env.bus.push(methodGetEventNotification, "a")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	cancel1()
	env.bus.push(methodGetEventNotification, "b")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.ElementsMatch(t, []string{"1:a", "2:a"}, got[:2])
	require.Equal(t, "2:b", got[2])
	mu.Unlock()

	cancel2()

	env.service.Release()

	env.bus.mu.Lock()
	require.Len(t, env.bus.unsubscribed, 2)
	require.Equal(t, 1, env.bus.closed)
	env.bus.mu.Unlock()

	_, err := env.service.GetDeviceIds()
	require.ErrorIs(t, err, ErrReleased)
}

func TestServiceCancelInsideListener(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	ch := make(chan string, 2)

	var cancel func()
	cancelSet := make(chan struct{})
	cancel = env.service.SubscribeCameraChange(func(payload string) {
		<-cancelSet
		cancel()
		ch <- payload
	})
	close(cancelSet)

	env.bus.push(methodGetCameraList, "a")
	select {
	case payload := <-ch:
		require.Equal(t, "a", payload)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "listener deadlock")
	}

	got := make(chan string, 1)
	env.service.SubscribeCameraChange(func(payload string) { got <- payload })
	env.bus.push(methodGetCameraList, "b")

	select {
	case payload := <-got:
		require.Equal(t, "b", payload)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout")
	}
	require.Empty(t, ch)
}

func TestServiceRefCount(t *testing.T) {
	env := newTestEnv()

	env.service.AddRef()
	env.service.Release()

	_, err := env.service.GetDeviceIds()
	require.Nil(t, err)

	env.service.Release()

	_, err = env.service.GetDeviceIds()
	require.ErrorIs(t, err, ErrReleased)
}

func TestServiceBuffer(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	require.Nil(t, env.service.ReadCameraBuffer())
	require.NotNil(t, env.service.OpenCameraBuffer(1))
	require.Nil(t, env.service.OpenCameraBuffer(42))

	require.Nil(t, env.service.ReadCameraBuffer())
	require.Nil(t, env.ring.Write([]byte("frame")))
	require.Equal(t, []byte("frame"), env.service.ReadCameraBuffer())

	require.Nil(t, env.service.CloseCameraBuffer())
	require.NotNil(t, env.service.CloseCameraBuffer())
}

func TestGetRootDictionary(t *testing.T) {
	env := newTestEnv()
	defer env.service.Release()

	root, ok := env.service.GetRootDictionary(`{"returnValue":true,"eventType":"x"}`)
	require.True(t, ok)
	eventType, _ := root.String(keyEventType)
	require.Equal(t, "x", eventType)

	_, ok = env.service.GetRootDictionary(`{"eventType":"x"}`)
	require.False(t, ok)
	_, ok = env.service.GetRootDictionary("")
	require.False(t, ok)
}
