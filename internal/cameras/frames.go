package cameras

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/uvcam/uvcam/internal/api"
	"github.com/uvcam/uvcam/internal/api/ws"
	"github.com/uvcam/uvcam/pkg/capture"
	"github.com/uvcam/uvcam/pkg/mjpeg"
)

// apiFrameBin serves one frame as the raw negotiated payload. The frame
// layout travels in headers so the client can interpret the bytes.
func apiFrameBin(w http.ResponseWriter, r *http.Request) {
	cam := GetOrNew(r.URL.Query())
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	if err := cam.acquire(); err != nil {
		api.Error(w, err, errorStatus(err))
		return
	}
	defer cam.release()

	frame, err := cam.Frame(frameTimeout)
	if err != nil {
		api.Error(w, err, errorStatus(err))
		return
	}

	f := cam.dev.GetFormat()
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(frame)))
	h.Set("X-Video-FourCC", capture.FourccString(f.FourCC))
	h.Set("X-Video-Width", strconv.Itoa(int(f.Width)))
	h.Set("X-Video-Height", strconv.Itoa(int(f.Height)))
	h.Set("X-Video-Stride", strconv.Itoa(int(f.Stride)))

	if _, err = w.Write(frame); err != nil {
		log.Trace().Err(err).Caller().Send()
	}
}

// apiFrameJPEG serves one frame as an image. Only MJPG sources qualify,
// transcoding other formats is out of scope for a capture engine.
func apiFrameJPEG(w http.ResponseWriter, r *http.Request) {
	cam := GetOrNew(r.URL.Query())
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	if cam.dev.GetFormat().FourCC != capture.FourccMJPG {
		http.Error(w, "source format is not MJPG", http.StatusUnsupportedMediaType)
		return
	}

	if err := cam.acquire(); err != nil {
		api.Error(w, err, errorStatus(err))
		return
	}
	defer cam.release()

	frame, err := cam.Frame(frameTimeout)
	if err != nil {
		api.Error(w, err, errorStatus(err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(frame)))
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	if _, err = w.Write(frame); err != nil {
		log.Trace().Err(err).Caller().Send()
	}
}

func apiStreamMJPEG(w http.ResponseWriter, r *http.Request) {
	cam := GetOrNew(r.URL.Query())
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	if cam.dev.GetFormat().FourCC != capture.FourccMJPG {
		http.Error(w, "source format is not MJPG", http.StatusUnsupportedMediaType)
		return
	}

	if err := cam.acquire(); err != nil {
		api.Error(w, err, errorStatus(err))
		return
	}
	defer cam.release()

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	wr := mjpeg.NewWriter(w)
	ctx := r.Context()

	for {
		frame, err := cam.Frame(frameTimeout)
		if err != nil {
			// a reset in progress starves the dequeue, wait it out
			// until the client goes away
			if errors.Is(err, capture.ErrWouldBlock) && ctx.Err() == nil {
				cam.ensure()
				continue
			}
			log.Trace().Err(err).Msgf("[cameras] stream end name=%s", cam.dev.Name)
			return
		}
		if _, err = wr.Write(frame); err != nil {
			return
		}
	}
}

// handlerWS pushes raw frames as binary websocket messages. The first
// reply carries the negotiated format so the client can size its
// buffers before the flood starts.
func handlerWS(tr *ws.Transport, _ *ws.Message) error {
	cam := GetOrNew(tr.Request.URL.Query())
	if cam == nil {
		return errors.New(cameraNotFound)
	}

	if err := cam.acquire(); err != nil {
		return err
	}

	tr.Write(&ws.Message{Type: "frames", Value: cam.dev.GetFormat()})

	quit := make(chan struct{})

	go func() {
		wr := tr.Writer()
		for {
			select {
			case <-quit:
				return
			default:
			}

			frame, err := cam.Frame(frameTimeout)
			if err != nil {
				if errors.Is(err, capture.ErrWouldBlock) {
					cam.ensure()
					continue
				}
				log.Trace().Err(err).Msgf("[cameras] ws end name=%s", cam.dev.Name)
				return
			}
			if _, err = wr.Write(frame); err != nil {
				return
			}
		}
	}()

	tr.OnClose(func() {
		close(quit)
		cam.release()
	})

	return nil
}
