package cameras

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/uvcam/uvcam/internal/api"
	"github.com/uvcam/uvcam/pkg/capture"
	"github.com/uvcam/uvcam/pkg/v4l2"
)

func apiCameras(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	src := query.Get("src")

	switch r.Method {
	case "GET":
		if src == "" {
			camerasMu.Lock()
			list := make(map[string]*Camera, len(cameras))
			for name, cam := range cameras {
				list[name] = cam
			}
			camerasMu.Unlock()

			api.ResponseJSON(w, list)
			return
		}

		cam := Get(src)
		if cam == nil {
			http.Error(w, cameraNotFound, http.StatusNotFound)
			return
		}
		api.ResponseJSON(w, cam)

	case "PUT", "POST":
		if src == "" {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
		name := query.Get("name")
		if name == "" {
			name = src
		}

		cam, err := New(name, src)
		if err != nil {
			api.Error(w, err, http.StatusBadRequest)
			return
		}
		api.ResponseJSON(w, cam)

	case "DELETE":
		if err := Delete(src); err != nil {
			api.Error(w, err, http.StatusNotFound)
			return
		}
		api.Response(w, "OK", api.MimeText)

	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
	}
}

// apiControl runs one device operation. Arguments arrive as query
// params, missing format fields default to the current format so a
// plain set_format?width=800 keeps everything else.
func apiControl(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	cam := GetOrNew(query)
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	op, err := capture.ParseOp(query.Get("op"))
	if err != nil {
		api.Error(w, err, http.StatusBadRequest)
		return
	}

	req := capture.Request{Op: op, Format: cam.dev.GetFormat()}
	if s := query.Get("width"); s != "" {
		n, _ := strconv.Atoi(s)
		req.Format.Width = uint32(n)
	}
	if s := query.Get("height"); s != "" {
		n, _ := strconv.Atoi(s)
		req.Format.Height = uint32(n)
	}
	if s := query.Get("fourcc"); s != "" {
		if req.Format.FourCC, err = capture.ParseFourcc(s); err != nil {
			api.Error(w, err, http.StatusBadRequest)
			return
		}
	}
	req.Count, _ = strconv.Atoi(query.Get("count"))
	req.Buffer, _ = strconv.Atoi(query.Get("buffer"))
	if s := query.Get("timeout"); s != "" {
		ms, _ := strconv.Atoi(s)
		req.Timeout = time.Duration(ms) * time.Millisecond
	}

	v, err := cam.dev.Control(req)
	if err != nil {
		api.Error(w, err, errorStatus(err))
		return
	}

	switch v := v.(type) {
	case nil:
		api.Response(w, "OK", api.MimeText)
	case []byte:
		api.Response(w, v, "application/octet-stream")
	default:
		api.ResponseJSON(w, v)
	}
}

func apiBuffers(w http.ResponseWriter, r *http.Request) {
	cam := Get(r.URL.Query().Get("src"))
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}
	api.ResponseJSON(w, cam.dev.Buffers())
}

// apiV4L2 lists local capture hardware, empty on platforms without it.
func apiV4L2(w http.ResponseWriter, r *http.Request) {
	items := v4l2.Scan()
	if items == nil {
		items = []v4l2.Info{}
	}
	api.ResponseJSON(w, items)
}

// errorStatus maps engine sentinels onto HTTP codes the same way the
// driver maps them onto errnos.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrInvalidParam),
		errors.Is(err, capture.ErrBufferTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrBusy),
		errors.Is(err, capture.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, capture.ErrWouldBlock):
		return http.StatusRequestTimeout
	case errors.Is(err, capture.ErrDisconnected):
		return http.StatusGone
	case errors.Is(err, capture.ErrNoMemory):
		return http.StatusInsufficientStorage
	case errors.Is(err, capture.ErrTransfer):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
