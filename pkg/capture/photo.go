package capture

import (
	"errors"
)

type Range struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
	Step    float64 `json:"step"`
}

func (r Range) IsEmpty() bool {
	return r == Range{}
}

type MeteringMode byte

const (
	MeteringModeNone MeteringMode = iota
	MeteringModeManual
	MeteringModeSingleShot
	MeteringModeContinuous
)

var meteringModes = []string{"none", "manual", "single-shot", "continuous"}

func (m MeteringMode) String() string {
	if int(m) < len(meteringModes) {
		return meteringModes[m]
	}
	return "none"
}

func (m MeteringMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MeteringMode) UnmarshalText(b []byte) error {
	for i, s := range meteringModes {
		if s == string(b) {
			*m = MeteringMode(i)
			return nil
		}
	}
	return errors.New("capture: unknown metering mode: " + string(b))
}

type RedEyeReduction byte

const (
	RedEyeReductionNever RedEyeReduction = iota
	RedEyeReductionAlways
	RedEyeReductionControllable
)

func (r RedEyeReduction) MarshalText() ([]byte, error) {
	switch r {
	case RedEyeReductionAlways:
		return []byte("always"), nil
	case RedEyeReductionControllable:
		return []byte("controllable"), nil
	}
	return []byte("never"), nil
}

func (r *RedEyeReduction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "never":
		*r = RedEyeReductionNever
	case "always":
		*r = RedEyeReductionAlways
	case "controllable":
		*r = RedEyeReductionControllable
	default:
		return errors.New("capture: unknown red eye reduction: " + string(b))
	}
	return nil
}

type PhotoState struct {
	SupportedWhiteBalanceModes []MeteringMode `json:"supported_white_balance_modes"`
	CurrentWhiteBalanceMode    MeteringMode   `json:"current_white_balance_mode"`
	SupportedExposureModes     []MeteringMode `json:"supported_exposure_modes"`
	CurrentExposureMode        MeteringMode   `json:"current_exposure_mode"`
	SupportedFocusModes        []MeteringMode `json:"supported_focus_modes"`
	CurrentFocusMode           MeteringMode   `json:"current_focus_mode"`

	ColorTemperature Range `json:"color_temperature"`
	Brightness       Range `json:"brightness"`
	Contrast         Range `json:"contrast"`
	Saturation       Range `json:"saturation"`
	Sharpness        Range `json:"sharpness"`
	Pan              Range `json:"pan"`
	Tilt             Range `json:"tilt"`
	Zoom             Range `json:"zoom"`
	Height           Range `json:"height"`
	Width            Range `json:"width"`

	RedEyeReduction RedEyeReduction `json:"red_eye_reduction"`
	SupportsTorch   bool            `json:"supports_torch"`
	Torch           bool            `json:"torch"`
}

// PhotoSettings fields are optional, nil means leave unchanged
type PhotoSettings struct {
	WhiteBalanceMode *MeteringMode `json:"white_balance_mode,omitempty"`
	ColorTemperature *float64      `json:"color_temperature,omitempty"`
	Brightness       *float64      `json:"brightness,omitempty"`
	Contrast         *float64      `json:"contrast,omitempty"`
	Saturation       *float64      `json:"saturation,omitempty"`
	Sharpness        *float64      `json:"sharpness,omitempty"`
	Pan              *float64      `json:"pan,omitempty"`
	Tilt             *float64      `json:"tilt,omitempty"`
	Zoom             *float64      `json:"zoom,omitempty"`
}

type Blob struct {
	MimeType string
	Data     []byte
}
