// Package webos implements video capture on top of the webOS camera service.
//
// CameraService hides the asynchronous platform bus behind blocking calls.
// Every request is sent from the service bus goroutine and the caller waits
// for the reply, so the code of capture sessions reads sequentially.
package webos

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/webosose/camcap/pkg/core"
	"github.com/webosose/camcap/pkg/luna"
	"github.com/webosose/camcap/pkg/shmem"
)

var (
	ErrCallFailed = errors.New("webos: call failed")
	ErrBadReply   = errors.New("webos: bad reply")
	ErrReleased   = errors.New("webos: service released")
)

// ResponseFunc receives raw payload of subscription reply
type ResponseFunc func(payload string)

// DialFunc connects to the platform bus
type DialFunc func() (luna.Client, error)

// call is a single blocking request to the bus
type call struct {
	uri      string
	payload  string
	response *string // nil for fire-and-forget
	done     core.Waiter
}

type subscription struct {
	method    string
	listeners map[int]ResponseFunc // guarded by CameraService.lmu
}

type CameraService struct {
	dial   DialFunc
	runner *core.Runner
	refs   atomic.Int32

	// serializes calls and protects buffer
	mu     sync.Mutex
	buffer *shmem.Buffer

	// bus goroutine only
	client luna.Client
	tokens map[*subscription]luna.Token

	lmu        sync.Mutex
	lastID     int
	cameraList *subscription
	fault      *subscription
}

// NewCameraService with one reference owned by the caller.
// Nil buffer uses SysV shared memory.
func NewCameraService(dial DialFunc, buffer *shmem.Buffer) *CameraService {
	if buffer == nil {
		buffer = shmem.NewBuffer(nil)
	}

	s := &CameraService{
		dial:       dial,
		runner:     core.NewRunner("luna"),
		buffer:     buffer,
		cameraList: &subscription{method: methodGetCameraList, listeners: map[int]ResponseFunc{}},
		fault:      &subscription{method: methodGetEventNotification, listeners: map[int]ResponseFunc{}},
	}
	s.refs.Store(1)
	return s
}

func (s *CameraService) AddRef() {
	s.refs.Add(1)
}

// Release drops reference. The last one cancels subscriptions, stops bus
// goroutine and closes bus connection.
func (s *CameraService) Release() {
	if s.refs.Add(-1) != 0 {
		return
	}

	s.mu.Lock()
	s.runner.Post(func() {
		if s.client == nil {
			return
		}
		for sub, token := range s.tokens {
			if err := s.client.Unsubscribe(token); err != nil {
				log.Debug().Err(err).Str("method", sub.method).Msg("[webos] unsubscribe")
			}
		}
		s.closeClient()
	})
	s.runner.Stop()
	s.mu.Unlock()

	<-s.runner.Done()
}

func (s *CameraService) Open(pid int, deviceID, mode string) (int, error) {
	if deviceID == "" {
		return 0, fmt.Errorf("%w: open: empty device id", ErrCallFailed)
	}

	reply, err := s.callDict(methodOpen, luna.Dict{keyPID: pid, keyID: deviceID, keyMode: mode})
	if err != nil {
		return 0, err
	}

	handle, ok := reply.Int(keyHandle)
	if !ok {
		log.Error().Str("id", deviceID).Msg("[webos] open: no handle in reply")
		return 0, fmt.Errorf("%w: open: no handle", ErrBadReply)
	}

	log.Debug().Str("id", deviceID).Str("mode", mode).Int("handle", handle).Msg("[webos] open")

	return handle, nil
}

func (s *CameraService) Close(pid, handle int) {
	if handle < 0 {
		return
	}

	payload := luna.Dict{keyPID: pid, keyHandle: handle}
	if _, err := s.lunaCall(methodClose, payload, false); err != nil {
		log.Warn().Err(err).Int("handle", handle).Msg("[webos] close")
	}
}

// GetDeviceIds returns nil list on any error
func (s *CameraService) GetDeviceIds() ([]string, error) {
	reply, err := s.callDict(methodGetCameraList, luna.Dict{keySubscribe: false})
	if err != nil {
		return nil, err
	}

	ids, ok := deviceIDs(reply)
	if !ok {
		log.Error().Msg("[webos] getCameraList: no device list in reply")
		return nil, fmt.Errorf("%w: getCameraList: no device list", ErrBadReply)
	}

	return ids, nil
}

func (s *CameraService) GetDeviceInfo(id string) (luna.Dict, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: getInfo: empty device id", ErrCallFailed)
	}

	reply, err := s.callDict(methodGetInfo, luna.Dict{keyID: id})
	if err != nil {
		return nil, err
	}

	info, ok := reply.Dict(keyInfo)
	if !ok {
		log.Error().Str("id", id).Msg("[webos] getInfo: no info in reply")
		return nil, fmt.Errorf("%w: getInfo: no info", ErrBadReply)
	}

	return info, nil
}

func (s *CameraService) GetProperties(id string) (luna.Dict, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: getProperties: empty device id", ErrCallFailed)
	}

	reply, err := s.callDict(methodGetProperties, luna.Dict{keyID: id})
	if err != nil {
		return nil, err
	}

	params, ok := reply.Dict(keyParams)
	if !ok {
		log.Error().Str("id", id).Msg("[webos] getProperties: no params in reply")
		return nil, fmt.Errorf("%w: getProperties: no params", ErrBadReply)
	}

	return params, nil
}

func (s *CameraService) SetProperties(handle int, properties luna.Dict) error {
	if handle < 0 {
		return fmt.Errorf("%w: setProperties: wrong handle", ErrCallFailed)
	}

	_, err := s.callDict(methodSetProperties, luna.Dict{keyHandle: handle, keyParams: properties})
	return err
}

func (s *CameraService) SetFormat(handle, width, height int, format string, fps int) error {
	if handle < 0 {
		return fmt.Errorf("%w: setFormat: wrong handle", ErrCallFailed)
	}

	params := luna.Dict{keyWidth: width, keyHeight: height, keyFormat: format, keyFPS: fps}
	_, err := s.callDict(methodSetFormat, luna.Dict{keyHandle: handle, keyParams: params})
	return err
}

// StartCamera starts preview to shared memory and returns memory key
func (s *CameraService) StartCamera(handle int) (int, error) {
	if handle < 0 {
		return 0, fmt.Errorf("%w: startCamera: wrong handle", ErrCallFailed)
	}

	params := luna.Dict{keyType: "shared-memory", keySource: "0"}
	reply, err := s.callDict(methodStartCamera, luna.Dict{keyHandle: handle, keyParams: params})
	if err != nil {
		return 0, err
	}

	key, ok := reply.Int(keyKey)
	if !ok {
		log.Error().Int("handle", handle).Msg("[webos] startCamera: no key in reply")
		return 0, fmt.Errorf("%w: startCamera: no key", ErrBadReply)
	}

	return key, nil
}

func (s *CameraService) StopCamera(handle int) {
	if handle < 0 {
		return
	}

	if _, err := s.lunaCall(methodStopCamera, luna.Dict{keyHandle: handle}, false); err != nil {
		log.Warn().Err(err).Int("handle", handle).Msg("[webos] stopCamera")
	}
}

// SubscribeCameraChange calls cb on every camera list update.
// Cb is called from the bus goroutine and must not block.
func (s *CameraService) SubscribeCameraChange(cb ResponseFunc) (cancel func()) {
	return s.subscribe(s.cameraList, cb)
}

// SubscribeFaultEvent calls cb on every camera fault event.
// Cb is called from the bus goroutine and must not block.
func (s *CameraService) SubscribeFaultEvent(cb ResponseFunc) (cancel func()) {
	return s.subscribe(s.fault, cb)
}

func (s *CameraService) OpenCameraBuffer(key int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.buffer.Open(key); err != nil {
		log.Error().Err(err).Int("key", key).Msg("[webos] open buffer")
		return err
	}
	return nil
}

// ReadCameraBuffer returns nil if there is no new frame
func (s *CameraService) ReadCameraBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buffer.Read()
}

func (s *CameraService) CloseCameraBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buffer.Close()
}

// GetRootDictionary parses reply and checks returnValue
func (s *CameraService) GetRootDictionary(payload string) (luna.Dict, bool) {
	root, err := luna.Parse(payload)
	if err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("[webos] parse reply")
		return nil, false
	}

	if ok, _ := root.Bool(keyReturnValue); !ok {
		log.Error().Str("payload", payload).Msg("[webos] call failed")
		return nil, false
	}

	return root, true
}

func (s *CameraService) callDict(method string, payload luna.Dict) (luna.Dict, error) {
	response, err := s.lunaCall(method, payload, true)
	if err != nil {
		return nil, err
	}

	reply, ok := s.GetRootDictionary(response)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadReply, method)
	}

	return reply, nil
}

// lunaCall sends request from the bus goroutine and blocks until reply.
// Only one call is in flight per service.
func (s *CameraService) lunaCall(method string, payload luna.Dict, withResponse bool) (string, error) {
	body, err := payload.Marshal()
	if err != nil {
		log.Error().Err(err).Str("method", method).Msg("[webos] marshal")
		return "", fmt.Errorf("%w: %s: %w", ErrCallFailed, method, err)
	}

	c := &call{uri: luna.ServiceURI(luna.CameraService, method), payload: body}
	if withResponse {
		c.response = new(string)
	}

	log.Trace().Str("uri", c.uri).Str("payload", body).Msg("[webos] call")

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runner.Post(func() { s.send(c) }) {
		return "", fmt.Errorf("%w: %s: %w", ErrCallFailed, method, ErrReleased)
	}

	if err = c.done.Wait(); err != nil {
		log.Error().Err(err).Str("method", method).Msg("[webos] call")
		return "", fmt.Errorf("%w: %s: %w", ErrCallFailed, method, err)
	}

	if c.response == nil {
		return "", nil
	}

	log.Trace().Str("uri", c.uri).Str("response", *c.response).Msg("[webos] reply")

	return *c.response, nil
}

func (s *CameraService) send(c *call) {
	client, err := s.ensureClient()
	if err != nil {
		c.done.Done(err)
		return
	}

	var handler luna.Handler
	if c.response != nil {
		handler = func(payload string) {
			posted := s.runner.Post(func() {
				if payload == "" {
					s.closeClient()
				}
				s.onResponse(c, payload)
			})
			if !posted {
				s.onResponse(c, payload)
			}
		}
	}

	if err = client.Call(c.uri, c.payload, handler); err != nil {
		s.closeClient()
		c.done.Done(err)
		return
	}

	if handler == nil {
		c.done.Done(nil)
	}
}

func (s *CameraService) onResponse(c *call, payload string) {
	if payload == "" {
		// connection lost
		c.done.Done(luna.ErrClosed)
		return
	}

	*c.response = payload
	c.done.Done(nil)
}

func (s *CameraService) subscribe(sub *subscription, cb ResponseFunc) func() {
	s.lmu.Lock()
	s.lastID++
	id := s.lastID
	sub.listeners[id] = cb
	s.lmu.Unlock()

	s.mu.Lock()
	var done core.Waiter
	if s.runner.Post(func() {
		_, err := s.ensureClient()
		if err == nil {
			err = s.ensureSubscribed(sub)
		}
		done.Done(err)
	}) {
		if err := done.Wait(); err != nil {
			log.Error().Err(err).Str("method", sub.method).Msg("[webos] subscribe")
		}
	}
	s.mu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(sub.listeners, id)
		s.lmu.Unlock()
	}
}

// ensureClient dials the bus on first use and after connection errors.
// Existing listeners are subscribed again on the new connection.
func (s *CameraService) ensureClient() (luna.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	client, err := s.dial()
	if err != nil {
		log.Error().Err(err).Msg("[webos] dial")
		return nil, err
	}

	s.client = client
	s.tokens = map[*subscription]luna.Token{}

	for _, sub := range []*subscription{s.cameraList, s.fault} {
		s.lmu.Lock()
		n := len(sub.listeners)
		s.lmu.Unlock()

		if n > 0 {
			if err = s.ensureSubscribed(sub); err != nil {
				log.Warn().Err(err).Str("method", sub.method).Msg("[webos] resubscribe")
			}
		}
	}

	return client, nil
}

func (s *CameraService) ensureSubscribed(sub *subscription) error {
	if s.client == nil {
		return luna.ErrClosed
	}
	if _, ok := s.tokens[sub]; ok {
		return nil
	}

	uri := luna.ServiceURI(luna.CameraService, sub.method)
	token, err := s.client.Subscribe(uri, `{"subscribe":true}`, func(payload string) {
		s.runner.Post(func() { s.dispatch(sub, payload) })
	})
	if err != nil {
		return err
	}

	s.tokens[sub] = token
	return nil
}

func (s *CameraService) dispatch(sub *subscription, payload string) {
	s.lmu.Lock()
	listeners := make([]ResponseFunc, 0, len(sub.listeners))
	for _, cb := range sub.listeners {
		listeners = append(listeners, cb)
	}
	s.lmu.Unlock()

	// listener may cancel itself
	for _, cb := range listeners {
		cb(payload)
	}
}

func (s *CameraService) closeClient() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		log.Debug().Err(err).Msg("[webos] close client")
	}
	s.client = nil
	s.tokens = nil
}

func deviceIDs(reply luna.Dict) ([]string, bool) {
	list, ok := reply.List(keyDeviceList)
	if !ok {
		return nil, false
	}

	ids := []string{}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := luna.Dict(entry).String(keyID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, true
}
