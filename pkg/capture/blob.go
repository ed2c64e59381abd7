package capture

import (
	"errors"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/rs/zerolog/log"
	"github.com/webosose/camcap/pkg/mjpeg"
)

const MimeTypeJPEG = "image/jpeg"

var ErrUnsupportedFormat = errors.New("capture: unsupported pixel format")

func frameFormat(p PixelFormat) (frame.Format, error) {
	switch p {
	case PixelFormatYUY2:
		return frame.FormatYUY2, nil
	case PixelFormatMJPEG:
		return frame.FormatMJPEG, nil
	case PixelFormatNV12:
		return frame.FormatNV12, nil
	case PixelFormatNV21:
		return frame.FormatNV21, nil
	}
	return "", ErrUnsupportedFormat
}

// EncodeJPEG decode raw frame, rotate it clockwise and encode to JPEG.
// MJPEG frames without rotation are passed as is.
func EncodeJPEG(data []byte, format Format, rotation int) ([]byte, error) {
	if format.PixelFormat == PixelFormatMJPEG && rotation%360 == 0 {
		return mjpeg.FixJPEG(data), nil
	}

	ff, err := frameFormat(format.PixelFormat)
	if err != nil {
		return nil, err
	}

	decoder, err := frame.NewDecoder(ff)
	if err != nil {
		return nil, err
	}

	img, release, err := decoder.Decode(data, format.FrameSize.Width, format.FrameSize.Height)
	if err != nil {
		return nil, err
	}
	defer release()

	return mjpeg.Encode(mjpeg.Rotate(img, rotation), 0)
}

// RotateAndBlobify return JPEG photo from the frame or nil on error
func RotateAndBlobify(data []byte, format Format, rotation int) *Blob {
	b, err := EncodeJPEG(data, format, rotation)
	if err != nil {
		log.Warn().Err(err).Stringer("format", format.PixelFormat).Msg("[capture] photo")
		return nil
	}

	return &Blob{MimeType: MimeTypeJPEG, Data: b}
}
