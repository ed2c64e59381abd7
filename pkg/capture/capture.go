// Package capture describes the video capture framework: devices, factories,
// formats and the client that receives frames.
package capture

import (
	"errors"
	"strconv"
	"time"
)

type PixelFormat byte

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatYUY2
	PixelFormatMJPEG
	PixelFormatNV12
	PixelFormatNV21
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatYUY2:
		return "YUY2"
	case PixelFormatMJPEG:
		return "MJPEG"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatNV21:
		return "NV21"
	}
	return "UNKNOWN"
}

func (p PixelFormat) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PixelFormat) UnmarshalText(b []byte) error {
	for f := PixelFormatUnknown; f <= PixelFormatNV21; f++ {
		if f.String() == string(b) {
			*p = f
			return nil
		}
	}
	return errors.New("capture: unknown pixel format: " + string(b))
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Area() int {
	return s.Width * s.Height
}

func (s Size) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

type Format struct {
	FrameSize   Size        `json:"frame_size"`
	FrameRate   float32     `json:"frame_rate"`
	PixelFormat PixelFormat `json:"pixel_format"`
}

type Formats []Format

type ControlSupport struct {
	Pan  bool `json:"pan"`
	Tilt bool `json:"tilt"`
	Zoom bool `json:"zoom"`
}

type Descriptor struct {
	DisplayName string         `json:"display_name"`
	DeviceID    string         `json:"device_id"`
	ModelID     string         `json:"model_id,omitempty"`
	Controls    ControlSupport `json:"controls"`
}

type DeviceInfo struct {
	Descriptor       Descriptor `json:"descriptor"`
	SupportedFormats Formats    `json:"supported_formats"`
}

type PowerLineFrequency byte

const (
	PowerLineFrequencyDefault PowerLineFrequency = iota
	PowerLineFrequency50Hz
	PowerLineFrequency60Hz
)

type Params struct {
	RequestedFormat    Format
	PowerLineFrequency PowerLineFrequency
}

// Error is the reason code reported to Client.OnError
type Error byte

const (
	ErrFailedToOpenDevice Error = iota + 1
	ErrUnsupportedPixelFormat
	ErrFailedToSetFormat
	ErrFailedToStartStream
	ErrFailedToDequeueBuffer
	ErrDevicePollFailed
)

func (e Error) String() string {
	switch e {
	case ErrFailedToOpenDevice:
		return "failed to open device"
	case ErrUnsupportedPixelFormat:
		return "unsupported pixel format"
	case ErrFailedToSetFormat:
		return "failed to set format"
	case ErrFailedToStartStream:
		return "failed to start stream"
	case ErrFailedToDequeueBuffer:
		return "failed to dequeue buffer"
	case ErrDevicePollFailed:
		return "device poll failed"
	}
	return "unknown error"
}

type Frame struct {
	// Data points to the capture buffer, valid only during the callback
	Data       []byte
	Format     Format
	ColorSpace string
	// Rotation clockwise in degrees
	Rotation int
	// Reference is the wall time of the frame, Timestamp is relative to the first frame
	Reference time.Time
	Timestamp time.Duration
}

// Client receives frames and state changes from a Device.
// Methods are called from the device worker goroutine.
type Client interface {
	OnStarted()
	OnIncomingCapturedData(frame *Frame)
	OnError(code Error, reason string)
}

type (
	TakePhotoCallback       func(blob *Blob)
	GetPhotoStateCallback   func(state *PhotoState)
	SetPhotoOptionsCallback func(ok bool)
)

type Device interface {
	AllocateAndStart(params Params, client Client)
	StopAndDeAllocate()
	TakePhoto(cb TakePhotoCallback)
	GetPhotoState(cb GetPhotoStateCallback)
	SetPhotoOptions(settings *PhotoSettings, cb SetPhotoOptionsCallback)
	SetRotation(rotation int)
	Close() error
}

type Factory interface {
	CreateDevice(desc Descriptor) (Device, error)
	GetDevicesInfo(cb func(infos []DeviceInfo))
}
