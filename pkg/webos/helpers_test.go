package webos

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/luna"
	"github.com/webosose/camcap/pkg/shmem"
)

const (
	replyOK         = `{"returnValue":true}`
	replyOpen       = `{"returnValue":true,"handle":7}`
	replyStart      = `{"returnValue":true,"key":42}`
	replyCameraList = `{"returnValue":true,"deviceList":[{"id":"camera1"},{"id":""},{"name":"noid"}]}`
	replyInfo       = `{"returnValue":true,"info":{"name":"USB Camera","resolution":{` +
		`"YUV":["640,480,30","1280,720,30"],"JPEG":["1280,720,30"]}}}`
	replyProperties = `{"returnValue":true,"params":{` +
		`"pan":{"min":-10,"max":10,"value":0,"step":1},` +
		`"zoom":{"min":1,"max":4,"value":1},` +
		`"whiteBalanceTemperature":{"min":2800,"max":6500,"value":4600,"step":100},` +
		`"brightness":{"min":0,"max":255,"value":128,"step":1}}}`
)

type busCall struct {
	method  string
	payload luna.Dict
}

type busSub struct {
	method  string
	handler luna.Handler
}

// fakeBus replies synchronously from the replies table, unknown methods
// get returnValue false
type fakeBus struct {
	mu           sync.Mutex
	replies      map[string]string
	calls        []busCall
	subs         map[luna.Token]busSub
	lastToken    luna.Token
	unsubscribed []luna.Token
	failNext     error
	closed       int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		replies: map[string]string{
			methodOpen:          replyOpen,
			methodGetCameraList: replyCameraList,
			methodGetInfo:       replyInfo,
			methodGetProperties: replyProperties,
			methodSetProperties: replyOK,
			methodSetFormat:     replyOK,
			methodStartCamera:   replyStart,
		},
		subs: map[luna.Token]busSub{},
	}
}

func methodOf(uri string) string {
	return uri[strings.LastIndexByte(uri, '/')+1:]
}

func (b *fakeBus) Call(uri, payload string, handler luna.Handler) error {
	req, _ := luna.Parse(payload)
	method := methodOf(uri)

	b.mu.Lock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		return err
	}
	b.calls = append(b.calls, busCall{method: method, payload: req})
	reply, ok := b.replies[method]
	b.mu.Unlock()

	if handler != nil {
		if !ok {
			reply = `{"returnValue":false}`
		}
		handler(reply)
	}
	return nil
}

func (b *fakeBus) Subscribe(uri, payload string, handler luna.Handler) (luna.Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastToken++
	b.subs[b.lastToken] = busSub{method: methodOf(uri), handler: handler}
	return b.lastToken, nil
}

func (b *fakeBus) Unsubscribe(token luna.Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, token)
	b.unsubscribed = append(b.unsubscribed, token)
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) setReply(method, reply string) {
	b.mu.Lock()
	if reply == "" {
		delete(b.replies, method)
	} else {
		b.replies[method] = reply
	}
	b.mu.Unlock()
}

func (b *fakeBus) methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var methods []string
	for _, c := range b.calls {
		methods = append(methods, c.method)
	}
	return methods
}

func (b *fakeBus) lastCall(method string) luna.Dict {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].method == method {
			return b.calls[i].payload
		}
	}
	return nil
}

func (b *fakeBus) resetCalls() {
	b.mu.Lock()
	b.calls = nil
	b.mu.Unlock()
}

func (b *fakeBus) subscriptions(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int
	for _, sub := range b.subs {
		if sub.method == method {
			n++
		}
	}
	return n
}

// push sends subscription reply, like the bus reader goroutine does
func (b *fakeBus) push(method, payload string) {
	b.mu.Lock()
	var handlers []luna.Handler
	for _, sub := range b.subs {
		if sub.method == method {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
}

type testEnv struct {
	bus     *fakeBus
	service *CameraService
	ring    *shmem.Ring
	dials   int
	mu      sync.Mutex

	// onAttach runs in the goroutine that opens the buffer
	onAttach func(ring *shmem.Ring)
}

func newTestEnv() *testEnv {
	env := &testEnv{bus: newFakeBus()}

	mem := make([]byte, shmem.Size(4*2*2, 4))
	env.ring, _ = shmem.NewRing(mem, 4*2*2, 4)

	buffer := shmem.NewBuffer(func(key int) ([]byte, func() error, error) {
		if key != 42 {
			return nil, nil, errors.New("wrong key")
		}
		if env.onAttach != nil {
			env.onAttach(env.ring)
		}
		return mem, nil, nil
	})
	buffer.ReadTimeout = 10 * time.Millisecond

	env.service = NewCameraService(func() (luna.Client, error) {
		env.mu.Lock()
		env.dials++
		env.mu.Unlock()
		return env.bus, nil
	}, buffer)

	return env
}

func (e *testEnv) dialCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

// taskQueue replaces device runner, tests run tasks by hand
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *taskQueue) post(f func()) bool {
	q.mu.Lock()
	q.tasks = append(q.tasks, f)
	q.mu.Unlock()
	return true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// runQueued runs tasks queued before the call, new tasks stay in queue
func (q *taskQueue) runQueued() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, f := range tasks {
		f()
	}
	return len(tasks)
}

type testClient struct {
	mu      sync.Mutex
	started int
	frames  []capture.Frame
	errors  []capture.Error
}

func (c *testClient) OnStarted() {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *testClient) OnIncomingCapturedData(frame *capture.Frame) {
	c.mu.Lock()
	clone := *frame
	clone.Data = append([]byte(nil), frame.Data...)
	c.frames = append(c.frames, clone)
	c.mu.Unlock()
}

func (c *testClient) OnError(code capture.Error, reason string) {
	c.mu.Lock()
	c.errors = append(c.errors, code)
	c.mu.Unlock()
}

func (c *testClient) snapshot() (started int, frames int, errors []capture.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, len(c.frames), append([]capture.Error(nil), c.errors...)
}

// grey 4x2 YUY2 frame
func testFrame() []byte {
	b := make([]byte, 4*2*2)
	for i := range b {
		b[i] = 0x80
	}
	return b
}
