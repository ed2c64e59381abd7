package webos

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/luna"
)

// Factory enumerates cameras of the camera service. Supported formats and
// controls are cached per device until the device disappears.
type Factory struct {
	// StrictPhotoOptions reports the real result of SetPhotoOptions
	StrictPhotoOptions bool

	service *CameraService
	pid     int

	mu       sync.Mutex
	formats  map[string]capture.Formats
	controls map[string]capture.ControlSupport
}

// NewFactory takes own reference to the service
func NewFactory(service *CameraService, pid int) *Factory {
	service.AddRef()
	return &Factory{
		service:  service,
		pid:      pid,
		formats:  map[string]capture.Formats{},
		controls: map[string]capture.ControlSupport{},
	}
}

func (f *Factory) CreateDevice(desc capture.Descriptor) (capture.Device, error) {
	return newDevice(f.service, desc, f.pid, f.StrictPhotoOptions), nil
}

// GetDevicesInfo blocks on the bus, cb is called in the same goroutine
func (f *Factory) GetDevicesInfo(cb func(infos []capture.DeviceInfo)) {
	f.mu.Lock()
	infos, err := f.devicesInfo()
	f.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("[webos] get devices")
	}

	cb(infos)
}

func (f *Factory) Close() error {
	f.service.Release()
	return nil
}

func (f *Factory) devicesInfo() ([]capture.DeviceInfo, error) {
	ids, err := f.service.GetDeviceIds()
	if err != nil {
		return nil, err
	}

	infos := []capture.DeviceInfo{}

	for _, id := range ids {
		info, err := f.service.GetDeviceInfo(id)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("[webos] get info")
			continue
		}

		name, _ := info.String(keyName)
		if name == "" {
			log.Warn().Str("id", id).Msg("[webos] can't find device name")
			continue
		}

		formats := f.getSupportedFormats(id, info)
		if len(formats) == 0 {
			log.Warn().Str("id", id).Msg("[webos] no supported formats")
			continue
		}

		controls, ok := f.getSupportedControl(id)
		if !ok {
			log.Warn().Str("id", id).Msg("[webos] no control support")
			continue
		}

		log.Debug().Str("id", id).Str("name", name).Int("formats", len(formats)).Msg("[webos] device")

		infos = append(infos, capture.DeviceInfo{
			Descriptor: capture.Descriptor{
				DisplayName: name,
				DeviceID:    id,
				ModelID:     id,
				Controls:    controls,
			},
			SupportedFormats: formats,
		})
	}

	f.prune(infos)

	return infos, nil
}

// prune drops cache of devices that are not in the list anymore
func (f *Factory) prune(infos []capture.DeviceInfo) {
	present := make(map[string]bool, len(infos))
	for _, info := range infos {
		present[info.Descriptor.DeviceID] = true
	}

	for id := range f.formats {
		if !present[id] {
			delete(f.formats, id)
		}
	}
	for id := range f.controls {
		if !present[id] {
			delete(f.controls, id)
		}
	}
}

func (f *Factory) getSupportedFormats(id string, info luna.Dict) capture.Formats {
	if formats, ok := f.formats[id]; ok {
		return formats
	}

	resolution, ok := info.Dict(keyResolution)
	if !ok {
		return nil
	}

	var formats capture.Formats
	formats = appendFormats(formats, capture.PixelFormatYUY2, resolution.Strings(keyYUV))
	formats = appendFormats(formats, capture.PixelFormatMJPEG, resolution.Strings(keyJPEG))
	formats = appendFormats(formats, capture.PixelFormatNV12, resolution.Strings(keyNV12))
	formats = appendFormats(formats, capture.PixelFormatNV21, resolution.Strings(keyNV21))

	f.formats[id] = formats

	return formats
}

// getSupportedControl opens device in secondary mode to read its properties
func (f *Factory) getSupportedControl(id string) (capture.ControlSupport, bool) {
	if controls, ok := f.controls[id]; ok {
		return controls, true
	}

	handle, err := f.service.Open(f.pid, id, ModeSecondary)
	if err != nil {
		return capture.ControlSupport{}, false
	}
	defer f.service.Close(f.pid, handle)

	properties, err := f.service.GetProperties(id)
	if err != nil {
		return capture.ControlSupport{}, false
	}

	controls := capture.ControlSupport{
		Pan:  isControlSupported(properties, propPan),
		Tilt: isControlSupported(properties, propTilt),
		Zoom: isControlSupported(properties, propZoom),
	}
	f.controls[id] = controls

	return controls, true
}

func isControlSupported(properties luna.Dict, key string) bool {
	_, ok := propertyRange(properties, key)
	return ok
}

// appendFormats parses "width,height,fps" strings, wrong numbers become zero
func appendFormats(formats capture.Formats, pixelFormat capture.PixelFormat, resolutions []string) capture.Formats {
	for _, s := range resolutions {
		if s == "" {
			continue
		}

		parts := strings.SplitN(s, ",", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}

		width, _ := strconv.Atoi(parts[0])
		height, _ := strconv.Atoi(parts[1])
		fps, _ := strconv.Atoi(parts[2])

		formats = append(formats, capture.Format{
			FrameSize:   capture.Size{Width: width, Height: height},
			FrameRate:   float32(fps),
			PixelFormat: pixelFormat,
		})
	}
	return formats
}
