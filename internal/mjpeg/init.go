package mjpeg

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/webosose/camcap/internal/api"
	"github.com/webosose/camcap/internal/api/ws"
	"github.com/webosose/camcap/internal/app"
	"github.com/webosose/camcap/internal/camera"
	"github.com/webosose/camcap/pkg/capture"
	"github.com/webosose/camcap/pkg/mjpeg"
)

func Init() {
	api.HandleFunc("api/camera/frame.jpeg", handlerKeyframe)
	api.HandleFunc("api/camera/stream.mjpeg", handlerStream)

	ws.HandleFunc("mjpeg", handlerWS)

	log = app.GetLogger("mjpeg")
}

var log = zerolog.Nop()

const frameTimeout = 5 * time.Second

func encode(f *capture.Frame) ([]byte, error) {
	return capture.EncodeJPEG(f.Data, f.Format, f.Rotation)
}

func handlerKeyframe(w http.ResponseWriter, r *http.Request) {
	s := camera.GetSession(r.URL.Query().Get("id"))
	if s == nil {
		http.Error(w, camera.ErrNoSession.Error(), http.StatusNotFound)
		return
	}

	f, err := s.WaitFrame(frameTimeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ts := time.Now()

	b, err := encode(f)
	if err != nil {
		api.Error(w, err)
		return
	}

	log.Trace().Msgf("[mjpeg] encode %s time=%s", f.Format.PixelFormat, time.Since(ts))

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	if _, err = w.Write(b); err != nil {
		log.Error().Err(err).Caller().Send()
	}
}

func handlerStream(w http.ResponseWriter, r *http.Request) {
	s := camera.GetSession(r.URL.Query().Get("id"))
	if s == nil {
		http.Error(w, camera.ErrNoSession.Error(), http.StatusNotFound)
		return
	}

	frames, cancel := s.Consume()
	defer cancel()

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	wr := mjpeg.NewWriter(w)

	if f := s.Latest(); f != nil {
		if err := writeFrame(wr, f); err != nil {
			return
		}
	}

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writeFrame(wr, f); err != nil {
				log.Trace().Err(err).Msg("[mjpeg] write")
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(wr io.Writer, f *capture.Frame) error {
	b, err := encode(f)
	if err != nil {
		// skip broken frame
		log.Debug().Err(err).Msg("[mjpeg] encode")
		return nil
	}
	_, err = wr.Write(b)
	return err
}

// handlerWS send binary JPEG frames to API WebSocket
func handlerWS(tr *ws.Transport, msg *ws.Message) error {
	s := camera.GetSession(msg.String())
	if s == nil {
		return camera.ErrNoSession
	}

	frames, cancel := s.Consume()

	tr.Write(&ws.Message{Type: "mjpeg"})

	go func() {
		for f := range frames {
			if b, err := encode(f); err == nil {
				tr.Write(b)
			}
		}
	}()

	tr.OnClose(cancel)

	return nil
}
