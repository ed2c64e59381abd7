package camera

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/webosose/camcap/internal/api"
	"github.com/webosose/camcap/internal/api/ws"
	"github.com/webosose/camcap/internal/app"
	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/luna"
	"github.com/webosose/camcap/pkg/webos"
)

func Init() {
	var cfg struct {
		Mod Config `yaml:"camera"`
	}

	cfg.Mod = defaultConfig()

	app.LoadConfig(&cfg)

	log = app.GetLogger("camera")

	if cfg.Mod.Bus == "" {
		log.Info().Msg("[camera] bus not configured")
		return
	}

	conf = cfg.Mod
	rotation.Store(int32(conf.Rotation))

	service := webos.NewCameraService(func() (luna.Client, error) {
		return luna.Dial(conf.Bus, conf.AppID)
	}, nil)

	f := webos.NewFactory(service, conf.PID)
	f.StrictPhotoOptions = conf.StrictPhotoOptions
	// factory keeps own reference
	service.Release()

	SetFactory(f)

	api.HandleFunc("api/camera", apiDevices)
	api.HandleFunc("api/camera/start", apiStart)
	api.HandleFunc("api/camera/stop", apiStop)
	api.HandleFunc("api/camera/photo", apiPhoto)
	api.HandleFunc("api/camera/state", apiState)
	api.HandleFunc("api/camera/options", apiOptions)
	api.HandleFunc("api/camera/rotation", apiRotation)

	ws.HandleFunc("camera", wsCamera)
}

type Config struct {
	Bus                string  `yaml:"bus"`
	AppID              string  `yaml:"app_id"`
	PID                int     `yaml:"pid"`
	PowerLineFrequency string  `yaml:"power_line_frequency"`
	Rotation           int     `yaml:"rotation"`
	Width              int     `yaml:"width"`
	Height             int     `yaml:"height"`
	FPS                float32 `yaml:"fps"`
	StrictPhotoOptions bool    `yaml:"strict_photo_options"`
}

func defaultConfig() Config {
	return Config{
		AppID:              "com.webos.app.camcap",
		PID:                os.Getpid(),
		PowerLineFrequency: "auto",
		Width:              640,
		Height:             480,
		FPS:                30,
	}
}

func (c *Config) params(query map[string][]string) capture.Params {
	format := capture.Format{
		FrameSize: capture.Size{Width: c.Width, Height: c.Height},
		FrameRate: c.FPS,
	}

	get := func(key string) string {
		if v := query[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if i, err := strconv.Atoi(get("width")); err == nil && i > 0 {
		format.FrameSize.Width = i
	}
	if i, err := strconv.Atoi(get("height")); err == nil && i > 0 {
		format.FrameSize.Height = i
	}
	if f, err := strconv.ParseFloat(get("fps"), 32); err == nil && f > 0 {
		format.FrameRate = float32(f)
	}

	return capture.Params{
		RequestedFormat:    format,
		PowerLineFrequency: parseFrequency(c.PowerLineFrequency),
	}
}

func parseFrequency(s string) capture.PowerLineFrequency {
	switch s {
	case "50":
		return capture.PowerLineFrequency50Hz
	case "60":
		return capture.PowerLineFrequency60Hz
	}
	return capture.PowerLineFrequencyDefault
}

const requestTimeout = 10 * time.Second

var (
	log     = zerolog.Nop()
	conf    = defaultConfig()
	factory capture.Factory

	// changed by api/camera/rotation
	rotation atomic.Int32
)

// SetFactory replace device factory used by sessions
func SetFactory(f capture.Factory) {
	sessionsMu.Lock()
	factory = f
	sessionsMu.Unlock()
}

var ErrNotFound = errors.New("camera: device not found")
var ErrNoSession = errors.New("camera: session not found")

func devicesInfo() []capture.DeviceInfo {
	ch := make(chan []capture.DeviceInfo, 1)
	factory.GetDevicesInfo(func(infos []capture.DeviceInfo) {
		ch <- infos
	})
	return <-ch
}

func findDevice(id string) (capture.Descriptor, error) {
	for _, info := range devicesInfo() {
		if info.Descriptor.DeviceID == id {
			return info.Descriptor, nil
		}
	}
	return capture.Descriptor{}, ErrNotFound
}

// Start create session for device. Existing session returned as is.
func Start(id string, params capture.Params) (*Session, error) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	if s := sessions[id]; s != nil {
		return s, nil
	}

	desc, err := findDevice(id)
	if err != nil {
		return nil, err
	}

	device, err := factory.CreateDevice(desc)
	if err != nil {
		return nil, err
	}

	s := newSession(id, device, params.RequestedFormat)
	sessions[id] = s

	log.Debug().Str("session", s.ID).Str("id", id).Msgf("[camera] start %s@%v", params.RequestedFormat.FrameSize, params.RequestedFormat.FrameRate)

	if r := int(rotation.Load()); r != 0 {
		device.SetRotation(r)
	}
	device.AllocateAndStart(params, s)

	return s, nil
}

func Stop(id string) error {
	sessionsMu.Lock()
	s := sessions[id]
	delete(sessions, id)
	sessionsMu.Unlock()

	if s == nil {
		return ErrNoSession
	}

	log.Debug().Str("session", s.ID).Str("id", id).Msg("[camera] stop")

	return s.stop()
}

func apiDevices(w http.ResponseWriter, r *http.Request) {
	if factory == nil {
		http.Error(w, "", http.StatusServiceUnavailable)
		return
	}

	infos := devicesInfo()
	if infos == nil {
		infos = []capture.DeviceInfo{}
	}

	api.ResponsePrettyJSON(w, infos)
}

func apiStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	s, err := Start(query.Get("id"), conf.params(query))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			api.Error(w, err)
		}
		return
	}

	api.ResponseJSON(w, s)
}

func apiStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	if err := Stop(r.URL.Query().Get("id")); err != nil {
		if errors.Is(err, ErrNoSession) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			api.Error(w, err)
		}
	}
}

func getSession(w http.ResponseWriter, r *http.Request) *Session {
	s := GetSession(r.URL.Query().Get("id"))
	if s == nil {
		http.Error(w, ErrNoSession.Error(), http.StatusNotFound)
	}
	return s
}

func apiPhoto(w http.ResponseWriter, r *http.Request) {
	s := getSession(w, r)
	if s == nil {
		return
	}

	ch := make(chan *capture.Blob, 1)
	s.device.TakePhoto(func(blob *capture.Blob) {
		ch <- blob
	})

	select {
	case blob := <-ch:
		if blob == nil {
			http.Error(w, "camera: take photo failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
		w.Header().Set("Cache-Control", "no-cache")
		api.Response(w, blob.Data, blob.MimeType)
	case <-time.After(requestTimeout):
		http.Error(w, "camera: take photo timeout", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func apiState(w http.ResponseWriter, r *http.Request) {
	s := getSession(w, r)
	if s == nil {
		return
	}

	ch := make(chan *capture.PhotoState, 1)
	s.device.GetPhotoState(func(state *capture.PhotoState) {
		ch <- state
	})

	select {
	case state := <-ch:
		api.ResponsePrettyJSON(w, state)
	case <-time.After(requestTimeout):
		http.Error(w, "camera: photo state timeout", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func apiOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	s := getSession(w, r)
	if s == nil {
		return
	}

	var settings capture.PhotoSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch := make(chan bool, 1)
	s.device.SetPhotoOptions(&settings, func(ok bool) {
		ch <- ok
	})

	select {
	case ok := <-ch:
		api.ResponseJSON(w, map[string]bool{"result": ok})
	case <-time.After(requestTimeout):
		http.Error(w, "camera: photo options timeout", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func apiRotation(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	value, err := strconv.Atoi(query.Get("value"))
	if err != nil || value < 0 || value >= 360 || value%90 != 0 {
		http.Error(w, "rotation must be 0, 90, 180 or 270", http.StatusBadRequest)
		return
	}

	if id := query.Get("id"); id != "" {
		s := getSession(w, r)
		if s == nil {
			return
		}
		s.device.SetRotation(value)
	}

	rotation.Store(int32(value))

	if query.Has("save") && query.Get("save") != "0" {
		if err = app.PatchConfig("rotation", value, "camera"); err != nil {
			api.Error(w, err)
			return
		}
	}
}

// wsCamera send session events until connection closed
func wsCamera(tr *ws.Transport, msg *ws.Message) error {
	s := GetSession(msg.String())
	if s == nil {
		return ErrNoSession
	}

	cancel := s.Listen(func(e Event) {
		tr.Write(&ws.Message{Type: "camera", Value: e})
	})

	done := make(chan struct{})

	tr.OnClose(func() {
		cancel()
		close(done)
	})

	if running, reason := s.Running(); running {
		tr.Write(&ws.Message{Type: "camera", Value: Event{Session: s.ID, Device: s.DeviceID, Type: "started"}})
	} else if reason != "" {
		tr.Write(&ws.Message{Type: "camera", Value: Event{Session: s.ID, Device: s.DeviceID, Type: "error", Error: reason}})
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		ts := time.Now()
		prev := s.Frames()

		for {
			select {
			case now := <-ticker.C:
				var e Event
				e, prev = s.stats(now.Sub(ts), prev)
				ts = now
				e.Session = s.ID
				e.Device = s.DeviceID
				tr.Write(&ws.Message{Type: "camera", Value: e})
			case <-done:
				return
			}
		}
	}()

	return nil
}

// StopAll stop every session, used on exit
func StopAll() {
	sessionsMu.Lock()
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sessionsMu.Unlock()

	for _, id := range ids {
		if err := Stop(id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("[camera] stop")
		}
	}
}
