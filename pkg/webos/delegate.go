package webos

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/luna"
)

type state byte

const (
	stateIdle state = iota
	stateAllocating
	stateStreaming
	stateError
	stateStopped
)

// captureDelegate owns one capture session. All methods except the
// constructor must be called from the device runner.
type captureDelegate struct {
	service  *CameraService
	post     func(f func()) bool // device runner
	deviceID string
	pid      int

	lineFrequency int
	strictOptions bool

	client   capture.Client
	format   capture.Format
	handle   int // negative when not opened
	shmemKey int
	hasKey   bool
	state    state
	rotation int

	firstFrame time.Time
	fpsStart   time.Time
	fpsFrames  int

	photos []capture.TakePhotoCallback

	cancelFault func()
	cancelList  func()
}

func newCaptureDelegate(service *CameraService, post func(f func()) bool, deviceID string, pid, lineFrequency, rotation int) *captureDelegate {
	return &captureDelegate{
		service:       service,
		post:          post,
		deviceID:      deviceID,
		pid:           pid,
		lineFrequency: lineFrequency,
		rotation:      rotation,
		handle:        -1,
	}
}

// init subscribes to device health events, replies are moved to the runner
func (d *captureDelegate) init() {
	d.cancelFault = d.service.SubscribeFaultEvent(func(payload string) {
		d.post(func() { d.onFaultEvent(payload) })
	})
	d.cancelList = d.service.SubscribeCameraChange(func(payload string) {
		d.post(func() { d.onCameraListUpdated(payload) })
	})
}

func (d *captureDelegate) destroy() {
	if d.cancelFault != nil {
		d.cancelFault()
	}
	if d.cancelList != nil {
		d.cancelList()
	}
	d.photos = nil
}

func (d *captureDelegate) AllocateAndStart(size capture.Size, frameRate float32, client capture.Client) {
	log.Debug().Str("id", d.deviceID).Stringer("size", size).Float32("fps", frameRate).Msg("[webos] allocate")

	d.client = client
	d.state = stateAllocating

	handle, err := d.service.Open(d.pid, d.deviceID, ModePrimary)
	if err != nil {
		d.setErrorState(capture.ErrFailedToOpenDevice, "failed opening device: "+d.deviceID)
		return
	}
	d.handle = handle

	pixelFormat := d.getPixelFormat(size, frameRate)
	if pixelFormat == capture.PixelFormatUnknown {
		d.setErrorState(capture.ErrUnsupportedPixelFormat, "unsupported pixel format")
		return
	}

	d.format = capture.Format{FrameSize: size, FrameRate: frameRate, PixelFormat: pixelFormat}

	if err = d.service.SetProperties(handle, luna.Dict{propFrequency: d.lineFrequency}); err != nil {
		d.setErrorState(capture.ErrFailedToSetFormat, "failed setting power line frequency")
		return
	}

	err = d.service.SetFormat(handle, size.Width, size.Height, formatName(pixelFormat), int(frameRate))
	if err != nil {
		d.setErrorState(capture.ErrFailedToSetFormat, "failed setting format and size")
		return
	}

	key, err := d.service.StartCamera(handle)
	if err != nil {
		d.setErrorState(capture.ErrFailedToStartStream, "failed to start camera preview")
		return
	}
	d.shmemKey = key
	d.hasKey = true

	if err = d.service.OpenCameraBuffer(key); err != nil {
		d.setErrorState(capture.ErrFailedToStartStream, "failed to open camera buffer")
		return
	}

	d.state = stateStreaming

	if d.client != nil {
		d.client.OnStarted()
	}

	d.firstFrame = time.Time{}
	d.fpsStart = time.Now()
	d.fpsFrames = 0

	d.post(d.doCapture)
}

// StopAndDeAllocate always closes buffer, stops stream and closes handle
// in that order, whatever part of allocation succeeded
func (d *captureDelegate) StopAndDeAllocate() {
	log.Debug().Str("id", d.deviceID).Msg("[webos] stop")

	if err := d.service.CloseCameraBuffer(); err != nil {
		log.Trace().Err(err).Msg("[webos] close buffer")
	}

	d.state = stateStopped
	d.hasKey = false

	if d.handle >= 0 {
		d.service.StopCamera(d.handle)
		d.service.Close(d.pid, d.handle)
		d.handle = -1
	}
}

func (d *captureDelegate) TakePhoto(cb capture.TakePhotoCallback) {
	d.photos = append(d.photos, cb)
}

func (d *captureDelegate) GetPhotoState(cb capture.GetPhotoStateCallback) {
	photoState := &capture.PhotoState{}

	properties, err := d.service.GetProperties(d.deviceID)
	if err != nil {
		log.Error().Err(err).Str("id", d.deviceID).Msg("[webos] get properties")
		cb(photoState)
		return
	}

	photoState.Pan, _ = propertyRange(properties, propPan)
	photoState.Tilt, _ = propertyRange(properties, propTilt)
	photoState.Zoom, _ = propertyRange(properties, propZoom)
	photoState.Brightness, _ = propertyRange(properties, propBrightness)
	photoState.Contrast, _ = propertyRange(properties, propContrast)
	photoState.Saturation, _ = propertyRange(properties, propSaturation)
	photoState.Sharpness, _ = propertyRange(properties, propSharpness)

	var ok bool
	if photoState.ColorTemperature, ok = propertyRange(properties, propWhiteBalanceTemperature); ok {
		photoState.SupportedWhiteBalanceModes = []capture.MeteringMode{
			capture.MeteringModeManual, capture.MeteringModeContinuous,
		}
	}

	// resolution can't be changed during session
	w := float64(d.format.FrameSize.Width)
	h := float64(d.format.FrameSize.Height)
	photoState.Width = capture.Range{Min: w, Max: w, Current: w}
	photoState.Height = capture.Range{Min: h, Max: h, Current: h}

	photoState.RedEyeReduction = capture.RedEyeReductionNever

	cb(photoState)
}

func (d *captureDelegate) SetPhotoOptions(settings *capture.PhotoSettings, cb capture.SetPhotoOptionsCallback) {
	properties := luna.Dict{}

	setInt := func(key string, v *float64) {
		if v != nil {
			properties[key] = saturatedInt(*v)
		}
	}

	setInt(propPan, settings.Pan)
	setInt(propTilt, settings.Tilt)
	setInt(propZoom, settings.Zoom)
	setInt(propWhiteBalanceTemperature, settings.ColorTemperature)
	setInt(propBrightness, settings.Brightness)
	setInt(propContrast, settings.Contrast)
	setInt(propSaturation, settings.Saturation)
	setInt(propSharpness, settings.Sharpness)

	if mode := settings.WhiteBalanceMode; mode != nil {
		switch *mode {
		case capture.MeteringModeContinuous:
			properties[propAutoWhiteBalance] = true
		case capture.MeteringModeManual:
			properties[propAutoWhiteBalance] = false
		}
	}

	var err error
	if d.handle >= 0 {
		err = d.service.SetProperties(d.handle, properties)
	}

	if err != nil {
		log.Warn().Err(err).Str("id", d.deviceID).Msg("[webos] set photo options")
	}

	// options are best effort unless strict mode
	cb(!d.strictOptions || err == nil)
}

// SetRotation accepts multiples of 90 in [0, 360)
func (d *captureDelegate) SetRotation(rotation int) {
	if rotation < 0 || rotation >= 360 || rotation%90 != 0 {
		log.Warn().Int("rotation", rotation).Msg("[webos] wrong rotation")
		return
	}
	d.rotation = rotation
}

// doCapture reads one frame and posts itself again. Any read error
// stops the loop.
func (d *captureDelegate) doCapture() {
	if d.state != stateStreaming {
		return
	}

	if !d.hasKey {
		d.setErrorState(capture.ErrFailedToDequeueBuffer, "no shared memory key")
		return
	}

	data := d.service.ReadCameraBuffer()
	if len(data) == 0 {
		d.setErrorState(capture.ErrFailedToDequeueBuffer, "failed to read buffer from camera service")
		return
	}

	now := time.Now()
	if d.firstFrame.IsZero() {
		d.firstFrame = now
	}

	if d.client != nil {
		d.client.OnIncomingCapturedData(&capture.Frame{
			Data:      data,
			Format:    d.format,
			Rotation:  d.rotation,
			Reference: now,
			Timestamp: now.Sub(d.firstFrame),
		})
	}

	d.fpsFrames++
	if now.Sub(d.fpsStart) >= time.Second {
		log.Trace().Str("id", d.deviceID).Int("fps", d.fpsFrames).Msg("[webos] capture")
		d.fpsStart = now
		d.fpsFrames = 0
	}

	if len(d.photos) > 0 {
		photos := d.photos
		d.photos = nil

		for _, cb := range photos {
			if blob := capture.RotateAndBlobify(data, d.format, d.rotation); blob != nil {
				cb(blob)
			}
		}
	}

	d.post(d.doCapture)
}

func (d *captureDelegate) setErrorState(code capture.Error, reason string) {
	log.Error().Str("id", d.deviceID).Stringer("code", code).Msg("[webos] " + reason)

	if d.state == stateError || d.state == stateStopped {
		return
	}

	d.state = stateError

	if d.client != nil {
		d.client.OnError(code, reason)
	}
}

func (d *captureDelegate) isActive() bool {
	return d.state == stateAllocating || d.state == stateStreaming
}

// getPixelFormat checks the exact "w,h,fps" string in device resolution lists
func (d *captureDelegate) getPixelFormat(size capture.Size, frameRate float32) capture.PixelFormat {
	info, err := d.service.GetDeviceInfo(d.deviceID)
	if err != nil {
		log.Error().Err(err).Str("id", d.deviceID).Msg("[webos] get info")
		return capture.PixelFormatUnknown
	}

	resolution := fmt.Sprintf("%d,%d,%d", size.Width, size.Height, int(frameRate))

	var yuv, jpeg, nv12, nv21 bool
	if formats, ok := info.Dict(keyResolution); ok {
		yuv = slices.Contains(formats.Strings(keyYUV), resolution)
		jpeg = slices.Contains(formats.Strings(keyJPEG), resolution)
		nv12 = slices.Contains(formats.Strings(keyNV12), resolution)
		nv21 = slices.Contains(formats.Strings(keyNV21), resolution)
	}

	format := negotiatePixelFormat(size, yuv, jpeg, nv12, nv21)
	if format == capture.PixelFormatUnknown {
		log.Warn().Str("id", d.deviceID).Str("resolution", resolution).Msg("[webos] supported format not found")
	} else {
		log.Debug().Str("id", d.deviceID).Stringer("format", format).Msg("[webos] pixel format")
	}
	return format
}

func (d *captureDelegate) onCameraListUpdated(payload string) {
	if d.deviceID == "" || !d.isActive() {
		return
	}

	root, ok := d.service.GetRootDictionary(payload)
	if !ok {
		return
	}

	ids, ok := deviceIDs(root)
	if !ok {
		log.Error().Str("payload", payload).Msg("[webos] no device list in camera list update")
		return
	}

	if !slices.Contains(ids, d.deviceID) {
		d.setErrorState(capture.ErrDevicePollFailed, "camera removed: "+d.deviceID)
	}
}

func (d *captureDelegate) onFaultEvent(payload string) {
	if d.deviceID == "" || !d.isActive() {
		return
	}

	root, ok := d.service.GetRootDictionary(payload)
	if !ok {
		return
	}

	eventType, _ := root.String(keyEventType)
	if !strings.Contains(eventType, eventPreviewFault) {
		return
	}

	if id, _ := root.String(keyID); id == d.deviceID {
		d.setErrorState(capture.ErrDevicePollFailed, "camera preview fault: "+d.deviceID)
	}
}

func negotiatePixelFormat(size capture.Size, yuv, jpeg, nv12, nv21 bool) capture.PixelFormat {
	switch {
	case yuv && jpeg && !nv12:
		if size.Area() > 640*480 {
			return capture.PixelFormatMJPEG
		}
		return capture.PixelFormatYUY2
	case nv12:
		return capture.PixelFormatNV12
	case jpeg:
		return capture.PixelFormatMJPEG
	case yuv:
		return capture.PixelFormatYUY2
	case nv21:
		return capture.PixelFormatNV21
	}
	return capture.PixelFormatUnknown
}

func formatName(format capture.PixelFormat) string {
	switch format {
	case capture.PixelFormatMJPEG:
		return keyJPEG
	case capture.PixelFormatYUY2:
		return keyYUV
	case capture.PixelFormatNV12:
		return keyNV12
	case capture.PixelFormatNV21:
		return keyNV21
	}
	return ""
}

// propertyRange returns false if any of max, min, value, step is missing
func propertyRange(properties luna.Dict, key string) (capture.Range, bool) {
	property, ok := properties.Dict(key)
	if !ok {
		return capture.Range{}, false
	}

	var r capture.Range
	var ok1, ok2, ok3, ok4 bool
	r.Max, ok1 = property.Float(propMax)
	r.Min, ok2 = property.Float(propMin)
	r.Current, ok3 = property.Float(propValue)
	r.Step, ok4 = property.Float(propStep)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return capture.Range{}, false
	}
	return r, true
}

func saturatedInt(f float64) int {
	switch {
	case f >= 1<<31-1:
		return 1<<31 - 1
	case f <= -1<<31:
		return -1 << 31
	}
	return int(f)
}
