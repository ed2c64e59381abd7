package camera

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webosose/camcap/pkg/capture"
)

var ErrSessionStopped = errors.New("camera: session stopped")

// Event is sent to API WebSocket subscribers
type Event struct {
	Session string  `json:"session"`
	Device  string  `json:"device"`
	Type    string  `json:"type"` // started, error, stats, stopped
	Error   string  `json:"error,omitempty"`
	Frames  int     `json:"frames,omitempty"`
	FPS     float64 `json:"fps,omitempty"`
}

// Session is one running capture of a device. It is the capture.Client of
// the device and keeps a copy of the latest frame for HTTP consumers.
type Session struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Format   capture.Format `json:"format"`
	Started  time.Time      `json:"started"`

	device capture.Device

	mu        sync.Mutex
	running   bool
	err       string
	latest    *capture.Frame
	frames    int
	consumers map[int]chan *capture.Frame
	listeners map[int]func(Event)
	lastID    int
	stopped   bool
}

func newSession(deviceID string, device capture.Device, format capture.Format) *Session {
	return &Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Format:    format,
		Started:   time.Now(),
		device:    device,
		consumers: map[int]chan *capture.Frame{},
		listeners: map[int]func(Event){},
	}
}

func (s *Session) OnStarted() {
	log.Debug().Str("session", s.ID).Str("id", s.DeviceID).Msg("[camera] started")

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.emit(Event{Type: "started"})
}

func (s *Session) OnIncomingCapturedData(frame *capture.Frame) {
	// frame data is valid only inside the callback
	f := *frame
	f.Data = append([]byte(nil), frame.Data...)

	s.mu.Lock()
	s.latest = &f
	s.frames++
	for _, ch := range s.consumers {
		// drop old frame for slow consumer
		select {
		case <-ch:
		default:
		}
		ch <- &f
	}
	s.mu.Unlock()
}

func (s *Session) OnError(code capture.Error, reason string) {
	log.Warn().Str("session", s.ID).Str("id", s.DeviceID).Stringer("code", code).Msg("[camera] " + reason)

	s.mu.Lock()
	s.running = false
	s.err = reason
	s.mu.Unlock()

	s.emit(Event{Type: "error", Error: reason})
}

// Latest return copy of last captured frame or nil
func (s *Session) Latest() *capture.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Frames return number of frames received so far
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Running return false until the device starts and after an error
func (s *Session) Running() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.err
}

// Consume return channel with new frames. Channel closed when session stops.
func (s *Session) Consume() (<-chan *capture.Frame, func()) {
	ch := make(chan *capture.Frame, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		close(ch)
		return ch, func() {}
	}

	s.lastID++
	id := s.lastID
	s.consumers[id] = ch

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.consumers[id]; ok {
			delete(s.consumers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
}

// Listen for session events until cancel
func (s *Session) Listen(f func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	id := s.lastID
	s.listeners[id] = f

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// WaitFrame return latest frame or wait for the next one
func (s *Session) WaitFrame(timeout time.Duration) (*capture.Frame, error) {
	if f := s.Latest(); f != nil {
		return f, nil
	}

	ch, cancel := s.Consume()
	defer cancel()

	// frame may arrive before consumer registered
	if f := s.Latest(); f != nil {
		return f, nil
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrSessionStopped
		}
		return f, nil
	case <-time.After(timeout):
		return nil, errors.New("camera: no frames")
	}
}

func (s *Session) emit(e Event) {
	e.Session = s.ID
	e.Device = s.DeviceID

	s.mu.Lock()
	listeners := make([]func(Event), 0, len(s.listeners))
	for _, f := range s.listeners {
		listeners = append(listeners, f)
	}
	s.mu.Unlock()

	for _, f := range listeners {
		f(e)
	}
}

func (s *Session) stats(elapsed time.Duration, prev int) (Event, int) {
	frames := s.Frames()
	e := Event{Type: "stats", Frames: frames}
	if elapsed > 0 {
		e.FPS = float64(frames-prev) / elapsed.Seconds()
	}
	return e, frames
}

// stop the device and release consumers
func (s *Session) stop() error {
	s.device.StopAndDeAllocate()
	err := s.device.Close()

	s.mu.Lock()
	s.stopped = true
	s.running = false
	for id, ch := range s.consumers {
		delete(s.consumers, id)
		close(ch)
	}
	s.mu.Unlock()

	s.emit(Event{Type: "stopped"})

	return err
}

var sessions = map[string]*Session{} // by device ID
var sessionsMu sync.Mutex

// GetSession return running session of the device
func GetSession(deviceID string) *Session {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	return sessions[deviceID]
}
