package webos

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/core"
)

// Device runs one captureDelegate on its own runner. Methods may be
// called from any goroutine and never block on the bus.
type Device struct {
	service *CameraService
	desc    capture.Descriptor
	pid     int
	strict  bool

	mu       sync.Mutex
	runner   *core.Runner
	delegate *captureDelegate
	rotation int
	pending  []func(d *captureDelegate)
	closed   bool

	// runners stopped but maybe still tearing down the delegate
	stopping []*core.Runner
}

func newDevice(service *CameraService, desc capture.Descriptor, pid int, strict bool) *Device {
	service.AddRef()
	return &Device{service: service, desc: desc, pid: pid, strict: strict}
}

func (d *Device) Descriptor() capture.Descriptor {
	return d.desc
}

func (d *Device) AllocateAndStart(params capture.Params, client capture.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if d.runner != nil {
		log.Warn().Str("id", d.desc.DeviceID).Msg("[webos] device already allocated")
		return
	}

	d.runner = core.NewRunner("capture " + d.desc.DeviceID)

	delegate := newCaptureDelegate(
		d.service, d.runner.Post, d.desc.DeviceID, d.pid,
		powerLineFrequency(params.PowerLineFrequency), d.rotation,
	)
	delegate.strictOptions = d.strict
	d.delegate = delegate

	d.runner.Post(delegate.init)

	format := params.RequestedFormat
	d.runner.Post(func() {
		delegate.AllocateAndStart(format.FrameSize, format.FrameRate, client)
	})

	for _, f := range d.pending {
		d.runner.Post(func() { f(delegate) })
	}
	d.pending = nil
}

// StopAndDeAllocate returns immediately, delegate is stopped and destroyed
// on the device runner
func (d *Device) StopAndDeAllocate() {
	d.mu.Lock()
	d.stop()
	d.mu.Unlock()
}

func (d *Device) TakePhoto(cb capture.TakePhotoCallback) {
	d.post(func(delegate *captureDelegate) {
		delegate.TakePhoto(cb)
	})
}

func (d *Device) GetPhotoState(cb capture.GetPhotoStateCallback) {
	d.post(func(delegate *captureDelegate) {
		delegate.GetPhotoState(cb)
	})
}

func (d *Device) SetPhotoOptions(settings *capture.PhotoSettings, cb capture.SetPhotoOptionsCallback) {
	d.post(func(delegate *captureDelegate) {
		delegate.SetPhotoOptions(settings, cb)
	})
}

func (d *Device) SetRotation(rotation int) {
	d.mu.Lock()
	if rotation >= 0 && rotation < 360 && rotation%90 == 0 {
		d.rotation = rotation
	}
	d.mu.Unlock()

	d.post(func(delegate *captureDelegate) {
		delegate.SetRotation(rotation)
	})
}

// Close stops capture, waits for the device runner and releases the service
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stop()
	d.pending = nil
	stopping := d.stopping
	d.stopping = nil
	d.mu.Unlock()

	// delegate must stop camera before the last service reference goes
	for _, runner := range stopping {
		<-runner.Done()
	}

	d.service.Release()
	return nil
}

func (d *Device) stop() {
	if d.runner == nil {
		return
	}

	delegate := d.delegate
	d.runner.Post(delegate.StopAndDeAllocate)
	d.runner.Post(delegate.destroy)
	d.runner.Stop()

	log.Trace().Str("runner", d.runner.Name()).Msg("[webos] stop")

	stopping := d.stopping[:0]
	for _, runner := range d.stopping {
		if runner.IsRunning() {
			stopping = append(stopping, runner)
		}
	}
	d.stopping = append(stopping, d.runner)

	d.runner = nil
	d.delegate = nil
}

// post runs f on the device runner or queues it until next allocation
func (d *Device) post(f func(delegate *captureDelegate)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.delegate == nil {
		if !d.closed {
			d.pending = append(d.pending, f)
		}
		return
	}

	delegate := d.delegate
	d.runner.Post(func() { f(delegate) })
}

// powerLineFrequency converts to camera service property value
func powerLineFrequency(freq capture.PowerLineFrequency) int {
	switch freq {
	case capture.PowerLineFrequency50Hz:
		return 1
	case capture.PowerLineFrequency60Hz:
		return 2
	}
	return 3
}
