package webos

// camera service methods
const (
	methodOpen                 = "open"
	methodClose                = "close"
	methodGetCameraList        = "getCameraList"
	methodGetInfo              = "getInfo"
	methodGetProperties        = "getProperties"
	methodSetProperties        = "setProperties"
	methodSetFormat            = "setFormat"
	methodStartCamera          = "startCamera"
	methodStopCamera           = "stopCamera"
	methodGetEventNotification = "getEventNotification"
)

// payload keys
const (
	keyReturnValue = "returnValue"
	keyPID         = "pid"
	keyID          = "id"
	keyMode        = "mode"
	keyHandle      = "handle"
	keySubscribe   = "subscribe"
	keyParams      = "params"
	keyDeviceList  = "deviceList"
	keyInfo        = "info"
	keyName        = "name"
	keyResolution  = "resolution"
	keyKey         = "key"
	keyEventType   = "eventType"
	keyWidth       = "width"
	keyHeight      = "height"
	keyFormat      = "format"
	keyFPS         = "fps"
	keyType        = "type"
	keySource      = "source"
)

// resolution lists in getInfo reply
const (
	keyYUV  = "YUV"
	keyJPEG = "JPEG"
	keyNV12 = "NV12"
	keyNV21 = "NV21"
)

// properties
const (
	propPan                     = "pan"
	propTilt                    = "tilt"
	propZoom                    = "zoom"
	propWhiteBalanceTemperature = "whiteBalanceTemperature"
	propBrightness              = "brightness"
	propContrast                = "contrast"
	propSaturation              = "saturation"
	propSharpness               = "sharpness"
	propAutoWhiteBalance        = "autoWhiteBalance"
	propFrequency               = "frequency"

	propMax   = "max"
	propMin   = "min"
	propValue = "value"
	propStep  = "step"
)

const (
	ModePrimary   = "primary"
	ModeSecondary = "secondary"

	eventPreviewFault = "preview_fault"
)
